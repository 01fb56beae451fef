package security

// Event type constants for security audit logging.
const (
	// Grant lifecycle

	// EventCodeIssued is logged when an authorization code is issued
	EventCodeIssued = "code_issued"

	// EventTokenIssued is logged when an access/refresh pair is issued directly (implicit grant)
	EventTokenIssued = "token_issued"

	// EventCodeExchanged is logged when an authorization code is exchanged for a token pair
	EventCodeExchanged = "code_exchanged"

	// EventTokenRefreshed is logged when a refresh token is rotated
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when tokens are revoked
	EventTokenRevoked = "token_revoked"

	// Client registry

	EventClientCreated           = "client_created"
	EventClientUpdated           = "client_updated"
	EventClientSecretRegenerated = "client_secret_regenerated" //nolint:gosec // G101: event type name, not a credential

	// Security violations

	// EventAuthFailure is logged when client authentication fails
	EventAuthFailure = "auth_failure"

	// EventCodeReuseDetected is logged when a used authorization code is presented again
	EventCodeReuseDetected = "code_reuse_detected"

	// EventClientMismatch is logged when a code or refresh token is presented by
	// a client other than the one it was issued to, or with a different redirect URI
	EventClientMismatch = "client_mismatch"

	// EventRateLimitExceeded is logged when the token endpoint rate limit is hit
	EventRateLimitExceeded = "rate_limit_exceeded"
)
