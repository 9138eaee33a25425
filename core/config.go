package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 5 * time.Minute
	DefaultRetryBatchSize = 50
	DefaultClaimLease     = 5 * time.Minute
	DefaultRetentionDays  = 30
	DefaultConnectTimeout = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

type BreakerConfig struct {
	Enabled     bool          `koanf:"enabled" mapstructure:"enabled"`
	MaxFailures uint32        `koanf:"max_failures" mapstructure:"max_failures"`
	OpenTimeout time.Duration `koanf:"open_timeout" mapstructure:"open_timeout"`
}

type DeliveryConfig struct {
	EndpointURL        string        `koanf:"endpoint_url" mapstructure:"endpoint_url"`
	ConnectTimeout     time.Duration `koanf:"connect_timeout" mapstructure:"connect_timeout"`
	RequestTimeout     time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	Breaker            BreakerConfig `koanf:"breaker" mapstructure:"breaker"`
}

type RetryConfig struct {
	MaxRetries int           `koanf:"max_retries" mapstructure:"max_retries"`
	Delay      time.Duration `koanf:"delay" mapstructure:"delay"`
	BatchSize  int           `koanf:"batch_size" mapstructure:"batch_size"`
	ClaimLease time.Duration `koanf:"claim_lease" mapstructure:"claim_lease"`
}

type RetentionConfig struct {
	Days int `koanf:"days" mapstructure:"days"`
}

type GradesConfig struct {
	BatchSize         int    `koanf:"batch_size" mapstructure:"batch_size"`
	DeriveEndpointURL string `koanf:"derive_endpoint_url" mapstructure:"derive_endpoint_url"`
}

type ScheduleConfig struct {
	Sweep   string `koanf:"sweep" mapstructure:"sweep"`
	Cleanup string `koanf:"cleanup" mapstructure:"cleanup"`
	Derive  string `koanf:"derive" mapstructure:"derive"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Enabled     *bool           `koanf:"enabled" mapstructure:"enabled"`
	Delivery    DeliveryConfig  `koanf:"delivery" mapstructure:"delivery"`
	Retry       RetryConfig     `koanf:"retry" mapstructure:"retry"`
	Retention   RetentionConfig `koanf:"retention" mapstructure:"retention"`
	Grades      GradesConfig    `koanf:"grades" mapstructure:"grades"`
	Schedule    ScheduleConfig  `koanf:"schedule" mapstructure:"schedule"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "crmsync",
		Delivery: DeliveryConfig{
			ConnectTimeout: DefaultConnectTimeout,
			RequestTimeout: DefaultRequestTimeout,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: time.Minute,
			},
		},
		Retry: RetryConfig{
			MaxRetries: DefaultMaxRetries,
			Delay:      DefaultRetryDelay,
			BatchSize:  DefaultRetryBatchSize,
			ClaimLease: DefaultClaimLease,
		},
		Retention: RetentionConfig{Days: DefaultRetentionDays},
		Grades:    GradesConfig{BatchSize: 100},
		Schedule: ScheduleConfig{
			Sweep:   "*/5 * * * *",
			Cleanup: "30 3 * * *",
			Derive:  "*/15 * * * *",
		},
	}
}

// IsEnabled treats an unset flag as enabled.
func (c Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if endpoint := strings.TrimSpace(c.Delivery.EndpointURL); endpoint != "" {
		parsed, err := url.Parse(endpoint)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("core: delivery.endpoint_url is invalid: %q", endpoint)
		}
	}
	if c.Delivery.ConnectTimeout < 0 || c.Delivery.RequestTimeout < 0 {
		return fmt.Errorf("core: delivery timeouts must be >= 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("core: retry.max_retries must be >= 0")
	}
	if c.Retry.Delay < 0 || c.Retry.ClaimLease < 0 {
		return fmt.Errorf("core: retry durations must be >= 0")
	}
	if c.Retention.Days < 0 {
		return fmt.Errorf("core: retention.days must be >= 0")
	}
	return nil
}
