// Package security holds the credential primitives and request hardening used
// by the authorization server.
//
// # Secrets and tokens
//
// Client secrets are hashed with argon2id and stored in PHC string format:
//
//	$argon2id$v=19$m=16384,t=2,p=1$<salt>$<key>
//
// Verification reads the parameters from the stored string, so raising the
// cost later does not invalidate existing clients. Authorization codes and
// tokens are opaque: RandomToken hex-encodes bytes from crypto/rand.
//
// # Rate limiting
//
// RateLimiter keeps one token bucket per client address with LRU eviction
// once MaxEntries addresses are tracked. Idle buckets are swept every five
// minutes.
//
//	limiter := security.NewRateLimiter(security.RateLimiterConfig{
//	    RequestsPerSecond: 5,
//	    Burst:             10,
//	})
//	defer limiter.Stop()
//
//	if !limiter.Allow(security.ClientIP(r, false, 0)) {
//	    // respond 429 slow_down
//	}
//
// # Audit
//
// Auditor emits one "security_audit" log record per event. User ids are
// replaced with a truncated SHA-256 so audit logs can be correlated without
// holding the raw identifier.
package security
