package server

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// Input limits
const (
	// MaxSecretLength is the longest client secret accepted for verification.
	// Longer candidates are rejected before the hasher or the store is touched.
	MaxSecretLength = 256

	// MaxRedirectURILength is the longest redirect URI accepted at registration
	MaxRedirectURILength = 2048

	// MaxClientNameLength is the longest client name accepted, in characters
	MaxClientNameLength = 128
)

// ValidateRedirectURI checks that uri is an absolute http or https URL with a
// host and without a fragment (RFC 6749 Section 3.1.2).
func ValidateRedirectURI(uri string) error {
	if uri == "" {
		return fmt.Errorf("%w: redirect URI is required", ErrInvalidRedirectURI)
	}
	if len(uri) > MaxRedirectURILength {
		return fmt.Errorf("%w: redirect URI exceeds %d bytes", ErrInvalidRedirectURI, MaxRedirectURILength)
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRedirectURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != SchemeHTTP && scheme != SchemeHTTPS {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrInvalidRedirectURI, parsed.Scheme)
	}
	if parsed.Host == "" || parsed.Hostname() == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidRedirectURI)
	}
	if parsed.Fragment != "" || strings.Contains(uri, "#") {
		return fmt.Errorf("%w: fragments are not allowed", ErrInvalidRedirectURI)
	}
	return nil
}

// ValidateClientID checks that id is a canonical UUID
func ValidateClientID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != strings.ToLower(id) {
		return fmt.Errorf("%w: %q", ErrInvalidClientID, truncateForError(id))
	}
	return nil
}

// ValidateClientName checks that name is non-blank and not too long
func ValidateClientName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidClientName)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: name is not valid UTF-8", ErrInvalidClientName)
	}
	if utf8.RuneCountInString(name) > MaxClientNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidClientName, MaxClientNameLength)
	}
	return nil
}

// truncateForError keeps attacker-controlled input short inside error messages
func truncateForError(s string) string {
	const maxLen = 64
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
