package oauth

import (
	"time"
)

// Default token endpoint rate limit
const (
	DefaultRateLimitRate  = 10
	DefaultRateLimitBurst = 20
)

// Config holds the HTTP handler configuration
type Config struct {
	// Rate limiting configuration for the token endpoint and bearer-protected routes
	RateLimit RateLimitConfig

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of reverse proxies in front of the server.
	// Default: 1 when TrustProxy is set.
	TrustedProxyCount int

	// HTTPS adds Strict-Transport-Security to responses
	HTTPS bool
}

// RateLimitConfig holds per-IP rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Negative disables limiting.
	// Default: 10
	Rate float64

	// Burst is the maximum burst size allowed per IP.
	// Default: 20
	Burst int

	// MaxTrackedIPs bounds limiter memory; the least recently seen IP is evicted.
	// Default: security.DefaultMaxTrackedIPs
	MaxTrackedIPs int

	// CleanupInterval is how often to cleanup inactive rate limiters.
	// Default: 5 minutes
	CleanupInterval time.Duration
}

// enabled reports whether per-IP limiting is on
func (c RateLimitConfig) enabled() bool {
	return c.Rate >= 0
}

func applyHandlerDefaults(config *Config) *Config {
	if config == nil {
		config = &Config{}
	}
	if config.RateLimit.Rate == 0 {
		config.RateLimit.Rate = DefaultRateLimitRate
	}
	if config.RateLimit.Burst <= 0 {
		config.RateLimit.Burst = DefaultRateLimitBurst
	}
	if config.TrustProxy && config.TrustedProxyCount <= 0 {
		config.TrustedProxyCount = 1
	}
	return config
}
