package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "CRMSYNC_"

type envKind int

const (
	kindString envKind = iota
	kindInt
	kindBool
	kindDuration
)

type envBinding struct {
	name string
	path []string
	kind envKind
}

// bindings maps CRMSYNC_* variables onto the nested service config keys.
var bindings = []envBinding{
	{name: "SERVICE_NAME", path: []string{"service_name"}},
	{name: "ENABLED", path: []string{"enabled"}, kind: kindBool},
	{name: "WEBHOOK_URL", path: []string{"delivery", "endpoint_url"}},
	{name: "CONNECT_TIMEOUT", path: []string{"delivery", "connect_timeout"}, kind: kindDuration},
	{name: "REQUEST_TIMEOUT", path: []string{"delivery", "request_timeout"}, kind: kindDuration},
	{name: "INSECURE_SKIP_VERIFY", path: []string{"delivery", "insecure_skip_verify"}, kind: kindBool},
	{name: "BREAKER_ENABLED", path: []string{"delivery", "breaker", "enabled"}, kind: kindBool},
	{name: "BREAKER_MAX_FAILURES", path: []string{"delivery", "breaker", "max_failures"}, kind: kindInt},
	{name: "BREAKER_OPEN_TIMEOUT", path: []string{"delivery", "breaker", "open_timeout"}, kind: kindDuration},
	{name: "MAX_RETRIES", path: []string{"retry", "max_retries"}, kind: kindInt},
	{name: "RETRY_DELAY", path: []string{"retry", "delay"}, kind: kindDuration},
	{name: "RETRY_BATCH_SIZE", path: []string{"retry", "batch_size"}, kind: kindInt},
	{name: "CLAIM_LEASE", path: []string{"retry", "claim_lease"}, kind: kindDuration},
	{name: "RETENTION_DAYS", path: []string{"retention", "days"}, kind: kindInt},
	{name: "GRADE_BATCH_SIZE", path: []string{"grades", "batch_size"}, kind: kindInt},
	{name: "DERIVE_ENDPOINT_URL", path: []string{"grades", "derive_endpoint_url"}},
	{name: "SCHEDULE_SWEEP", path: []string{"schedule", "sweep"}},
	{name: "SCHEDULE_CLEANUP", path: []string{"schedule", "cleanup"}},
	{name: "SCHEDULE_DERIVE", path: []string{"schedule", "derive"}},
}

// daemonSettings are the process level knobs that are not part of the
// service config.
type daemonSettings struct {
	DBDriver  string
	DBDSN     string
	AppKey    string
	Token     string
	RedisAddr string
	HTTPAddr  string
	LogLevel  string
}

func loadDaemonSettings(lookup func(string) (string, bool)) (daemonSettings, error) {
	settings := daemonSettings{
		DBDriver: "sqlite3",
		DBDSN:    "file:crmsync.db?_foreign_keys=on",
		HTTPAddr: ":9464",
		LogLevel: "info",
	}
	read := func(name string) string {
		value, _ := lookup(envPrefix + name)
		return strings.TrimSpace(value)
	}
	if value := read("DB_DRIVER"); value != "" {
		settings.DBDriver = value
	}
	if value := read("DB_DSN"); value != "" {
		settings.DBDSN = value
	}
	if value := read("HTTP_ADDR"); value != "" {
		settings.HTTPAddr = value
	}
	if value := read("LOG_LEVEL"); value != "" {
		settings.LogLevel = value
	}
	settings.AppKey = read("APP_KEY")
	settings.Token = read("TOKEN")
	settings.RedisAddr = read("REDIS_ADDR")
	if settings.AppKey == "" {
		return daemonSettings{}, fmt.Errorf("%sAPP_KEY is required", envPrefix)
	}
	return settings, nil
}

// rawConfigFromEnv builds the nested raw map consumed by the config loader.
// Unset variables are left out so defaults apply.
func rawConfigFromEnv(lookup func(string) (string, bool)) (map[string]any, error) {
	raw := map[string]any{}
	for _, binding := range bindings {
		value, ok := lookup(envPrefix + binding.name)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		parsed, err := parseEnvValue(binding.kind, value)
		if err != nil {
			return nil, fmt.Errorf("%s%s: %w", envPrefix, binding.name, err)
		}
		setNested(raw, binding.path, parsed)
	}
	return raw, nil
}

func parseEnvValue(kind envKind, value string) (any, error) {
	switch kind {
	case kindInt:
		return strconv.Atoi(value)
	case kindBool:
		return strconv.ParseBool(value)
	case kindDuration:
		return time.ParseDuration(value)
	default:
		return value, nil
	}
}

func setNested(target map[string]any, path []string, value any) {
	current := target
	for _, key := range path[:len(path)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}

func osLookup(name string) (string, bool) {
	return os.LookupEnv(name)
}
