package ratelimit

import (
	"strings"
)

// unlimited lists probes that are never throttled.
var unlimited = map[string]bool{
	"GET /api/health": true,
	"GET /metrics":    true,
}

// MatchEndpoint matches a request path and method to an endpoint configuration.
// Exact matches win over prefix matches. Returns nil when nothing matches.
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	if unlimited[method+" "+path] {
		return &EndpointConfig{Path: path, Method: method}
	}

	for i := range configs {
		c := &configs[i]
		if c.Path == path && c.Method == method {
			return c
		}
	}
	for i := range configs {
		c := &configs[i]
		if c.Method == method && strings.HasSuffix(c.Path, "/") && strings.HasPrefix(path, c.Path) {
			return c
		}
	}
	return nil
}
