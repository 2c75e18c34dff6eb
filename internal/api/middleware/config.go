// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"time"

	"github.com/tracelake/tracelake/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: Applied to all requests
//   - Per-tenant: Applied to authenticated requests
//   - Unauthenticated: Applied to requests without tenant ID
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 × rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS int // Default: 100
	TenantRPS int // Default: 50
	UnAuthRPS int // Default: 10

	// Optional burst capacity overrides (0 = compute automatically as 2 × rate) using computeBurstCapacity()
	GlobalBurst int // Default: 0 (computed as 2 × GlobalRPS = 200)
	TenantBurst int // Default: 0 (computed as 2 × TenantRPS = 100)
	UnAuthBurst int // Default: 0 (computed as 2 × UnAuthRPS = 20)

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxTenants      int           // Default: 10,000
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
//
// Default burst capacity: 2 × rate (allows 2-second burst)
// Default cleanup: every 5 minutes, removes tenants idle >1 hour
// Default max tenants: 10,000 (a warning is logged once 80% of it is reached;
// tenants beyond it are still admitted).
func LoadConfig() *Config {
	return &Config{
		// Rate limits
		GlobalRPS: config.GetEnvInt("TRACELAKE_GLOBAL_RPS", defaultGlobalRPS),
		TenantRPS: config.GetEnvInt("TRACELAKE_TENANT_RPS", defaultTenantRPS),
		UnAuthRPS: config.GetEnvInt("TRACELAKE_UNAUTH_RPS", defaultUnAuthRPS),

		// Burst overrides (0 = auto-compute)
		GlobalBurst: config.GetEnvInt("TRACELAKE_GLOBAL_BURST", 0),
		TenantBurst: config.GetEnvInt("TRACELAKE_TENANT_BURST", 0),
		UnAuthBurst: config.GetEnvInt("TRACELAKE_UNAUTH_BURST", 0),

		// Cleanup configuration
		CleanupInterval: config.GetEnvDuration(
			"TRACELAKE_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("TRACELAKE_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxTenants:  config.GetEnvInt("TRACELAKE_RATE_LIMIT_MAX_TENANTS", maxTenants),
	}
}
