package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprintLength is the number of hex characters kept by Fingerprint
const fingerprintLength = 12

// SafeTruncate returns at most the first maxLen bytes of s without panicking.
// A negative maxLen yields an empty string.
//
//	SafeTruncate("very-long-client-id", 8) // "very-lon"
//	SafeTruncate("short", 10)              // "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Fingerprint returns a short, non-reversible identifier for a secret value such
// as a bearer token or authorization code. Log the fingerprint, never the value:
// the same token always yields the same fingerprint, so log lines can be correlated.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}
