package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by storage implementations.
// Callers should use errors.Is, implementations wrap these with context.
var (
	ErrClientNotFound            = errors.New("client not found")
	ErrClientQuotaExceeded       = errors.New("client quota exceeded")
	ErrClientExists              = errors.New("client already exists")
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
	ErrAuthorizationCodeUsed     = errors.New("authorization code already used")
	ErrTokenNotFound             = errors.New("token not found")
	ErrTokenClientMismatch       = errors.New("token issued to a different client")
	ErrUserNotFound              = errors.New("user not found")
	ErrInvalidInput              = errors.New("invalid input")
)

// IsNotFoundError reports whether err means the requested entity does not exist.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrAuthorizationCodeNotFound) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// ValidateLength rejects values longer than maxLen. The error wraps ErrInvalidInput.
func ValidateLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%w: %s exceeds maximum length of %d bytes", ErrInvalidInput, fieldName, maxLen)
	}
	return nil
}
