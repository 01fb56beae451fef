package server

import (
	"log/slog"
	"time"

	"github.com/giantswarm/kv-oauth/security"
)

// Config holds authorization server configuration
type Config struct {
	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// TokenBytes is the number of random bytes in access and refresh tokens.
	// Tokens are hex encoded, so the string is twice as long.
	TokenBytes int // default: 256

	// CodeBytes is the number of random bytes in authorization codes
	CodeBytes int // default: 256

	// SecretBytes is the number of random bytes in client secrets
	SecretBytes int // default: 32

	// MaxClientsPerOwner limits how many clients a single user may register.
	// A negative value disables the limit.
	MaxClientsPerOwner int // default: 2

	// StoreTimeout bounds every store call. Store calls are detached from the
	// caller's cancellation so a dispatched batch is never abandoned half way.
	StoreTimeout time.Duration // default: 5s

	// HashParams configures the argon2id secret hasher.
	// Zero fields fall back to security.DefaultHashParams.
	HashParams security.HashParams
}

// Default configuration values
const (
	DefaultAuthorizationCodeTTL = 600
	DefaultTokenBytes           = 256
	DefaultCodeBytes            = 256
	DefaultSecretBytes          = 32
	DefaultMaxClientsPerOwner   = 2
	DefaultStoreTimeout         = 5 * time.Second

	// minRandomBytes is the shortest credential accepted without a warning
	minRandomBytes = 16
)

// applyDefaults fills unset configuration values and warns about weak settings
func applyDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.TokenBytes <= 0 {
		config.TokenBytes = DefaultTokenBytes
	}
	if config.CodeBytes <= 0 {
		config.CodeBytes = DefaultCodeBytes
	}
	if config.SecretBytes <= 0 {
		config.SecretBytes = DefaultSecretBytes
	}
	if config.MaxClientsPerOwner == 0 {
		config.MaxClientsPerOwner = DefaultMaxClientsPerOwner
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultStoreTimeout
	}

	logSecurityWarnings(config, logger)
	return config
}

// logSecurityWarnings logs warnings for weak configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.TokenBytes < minRandomBytes || config.CodeBytes < minRandomBytes {
		logger.Warn("SECURITY WARNING: short bearer credentials configured",
			"token_bytes", config.TokenBytes,
			"code_bytes", config.CodeBytes,
			"recommendation", "Use at least 16 random bytes")
	}
	if config.SecretBytes < minRandomBytes {
		logger.Warn("SECURITY WARNING: short client secrets configured",
			"secret_bytes", config.SecretBytes,
			"recommendation", "Use at least 16 random bytes")
	}
	if config.MaxClientsPerOwner < 0 {
		logger.Warn("CONFIGURATION NOTICE: client quota disabled",
			"risk", "Unbounded client registrations per user")
	}
}

// codeTTL returns the authorization code lifetime
func (c *Config) codeTTL() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

// quota returns the per-owner client limit in the form the store expects (0 = unlimited)
func (c *Config) quota() int {
	if c.MaxClientsPerOwner < 0 {
		return 0
	}
	return c.MaxClientsPerOwner
}
