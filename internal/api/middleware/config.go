// Package middleware provides HTTP middleware components for the Rootline API.
package middleware

import (
	"time"

	"github.com/rootline-io/rootline/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits are requests per second for three tiers:
//   - Global: applied to all requests
//   - Per-source: applied to authenticated requests
//   - Unauthenticated: applied to requests without a source identity
//
// Burst capacity allows temporary spikes above the sustained rate. Burst
// fields left at 0 are computed automatically as 2 × rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS int // Default: 100
	SourceRPS int // Default: 50
	UnAuthRPS int // Default: 10

	// Optional burst overrides (0 = 2 × rate via computeBurstCapacity)
	GlobalBurst int
	SourceBurst int
	UnAuthBurst int

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxSources      int           // Default: 100
}

// LoadConfig loads middleware config from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("ROOTLINE_GLOBAL_RPS", defaultGlobalRPS),
		SourceRPS: config.GetEnvInt("ROOTLINE_SOURCE_RPS", defaultSourceRPS),
		UnAuthRPS: config.GetEnvInt("ROOTLINE_UNAUTH_RPS", defaultUnAuthRPS),

		GlobalBurst: config.GetEnvInt("ROOTLINE_GLOBAL_BURST", 0),
		SourceBurst: config.GetEnvInt("ROOTLINE_SOURCE_BURST", 0),
		UnAuthBurst: config.GetEnvInt("ROOTLINE_UNAUTH_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"ROOTLINE_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("ROOTLINE_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxSources:  config.GetEnvInt("ROOTLINE_RATE_LIMIT_MAX_SOURCES", maxSources),
	}
}
