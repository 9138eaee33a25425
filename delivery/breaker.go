package delivery

import (
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/sony/gobreaker"
)

// NewBreaker opens after MaxFailures consecutive failed attempts and lets a
// trial request through once OpenTimeout elapses.
func NewBreaker(name string, cfg core.BreakerConfig) *gobreaker.CircuitBreaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = time.Minute
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})
}
