package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern; a trailing "/" enables prefix matching
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// LoadConfig loads rate limiting configuration from the process environment.
func LoadConfig() *Config {
	return LoadConfigFrom(os.Getenv)
}

// LoadConfigFrom reads RATE_LIMIT_* variables through getenv. Malformed
// values fall back to their defaults.
func LoadConfigFrom(getenv func(string) string) *Config {
	e := env(getenv)
	if !e.boolean("RATE_LIMIT_ENABLED", true) {
		return &Config{Enabled: false}
	}
	return &Config{
		Enabled:         true,
		DefaultLimit:    e.integer("RATE_LIMIT_DEFAULT_LIMIT", 1000),
		DefaultWindow:   e.duration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
		CleanupInterval: e.duration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		IdleTTL:         time.Hour,
		Whitelist:       parseIPList(getenv("RATE_LIMIT_WHITELIST")),
		Blacklist:       parseIPList(getenv("RATE_LIMIT_BLACKLIST")),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Run launches call the generation backend many times.
		{Path: "/api/prospect", Method: "POST", Limit: 20, Window: time.Hour, Burst: 3},
		{Path: "/api/projects/", Method: "POST", Limit: 100, Window: time.Minute, Burst: 10},

		// Token issuance is a password check.
		{Path: "/api/auth/token", Method: "POST", Limit: 10, Window: time.Minute, Burst: 5},

		{Path: "/api/projects", Method: "POST", Limit: 100, Window: time.Minute, Burst: 10},
		{Path: "/api/projects/", Method: "PATCH", Limit: 100, Window: time.Minute, Burst: 10},
		{Path: "/api/projects/", Method: "DELETE", Limit: 100, Window: time.Minute, Burst: 10},
	}
}

type env func(string) string

func (e env) integer(key string, def int) int {
	if v, err := strconv.Atoi(e(key)); err == nil {
		return v
	}
	return def
}

func (e env) boolean(key string, def bool) bool {
	if v, err := strconv.ParseBool(e(key)); err == nil {
		return v
	}
	return def
}

func (e env) duration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(e(key)); err == nil {
		return v
	}
	return def
}

// parseIPList parses a comma-separated list of IP addresses into a set.
func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}
