package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// EndpointConfig is the limit for one route. A Path ending in "/" matches
// by prefix.
type EndpointConfig struct {
	Path   string
	Method string
	Rate   rate.Limit
	Burst  int
	// Unlimited routes bypass the limiter.
	Unlimited bool
}

// Config holds rate limiting configuration
type Config struct {
	Enabled bool
	// Default applies to routes with no endpoint entry.
	Default   EndpointConfig
	Endpoints []EndpointConfig
	// IdleTTL is how long an unused client bucket is kept.
	IdleTTL time.Duration
	// Exempt clients are never limited.
	Exempt map[string]bool
}

// DefaultConfig limits reads to perSecond with the given burst. Run creation
// uses the per-endpoint limits.
func DefaultConfig(perSecond float64, burst int) *Config {
	if perSecond <= 0 {
		return &Config{Enabled: false}
	}
	return &Config{
		Enabled:   true,
		Default:   EndpointConfig{Rate: rate.Limit(perSecond), Burst: burst},
		Endpoints: DefaultEndpointConfigs(),
		IdleTTL:   time.Hour,
		Exempt:    map[string]bool{},
	}
}

// DefaultEndpointConfigs returns the per-route limits of the runs API
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		{Path: "/runs", Method: "POST", Rate: rate.Every(6 * time.Minute), Burst: 5},
		{Path: "/runs/stream", Method: "POST", Rate: rate.Every(6 * time.Minute), Burst: 2},
		// resume
		{Path: "/runs/", Method: "POST", Rate: rate.Every(2 * time.Minute), Burst: 5},

		{Path: "/health", Method: "GET", Unlimited: true},
		{Path: "/metrics", Method: "GET", Unlimited: true},
	}
}
