package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/kv-oauth/storage"
)

// OAuth 2.0 error codes from RFC 6749 and RFC 6750.
// The root package re-exports these; they live here because the root package
// imports server.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeServerError          = "server_error"
	ErrorCodeSlowDown             = "slow_down"
)

// Sentinel errors returned by the grant engine and client registry.
// Use errors.Is; the returned errors wrap these with context.
var (
	// ErrRedirectURIMismatch means the presented redirect URI differs from the bound one
	ErrRedirectURIMismatch = errors.New("redirect URI mismatch")

	// ErrClientMismatch means a code or token was presented by a client it was not issued to
	ErrClientMismatch = errors.New("client mismatch")

	// ErrAccessDenied means the user or client may not obtain a grant
	ErrAccessDenied = errors.New("access denied")

	// ErrStorage wraps any failure of the credential store
	ErrStorage = errors.New("storage unavailable")

	// ErrInvalidRedirectURI means a redirect URI is not an absolute http(s) URL
	ErrInvalidRedirectURI = errors.New("invalid redirect URI")

	// ErrInvalidClientID means a client ID is not a UUID
	ErrInvalidClientID = errors.New("invalid client ID")

	// ErrInvalidClientName means a client name is empty or too long
	ErrInvalidClientName = errors.New("invalid client name")

	// ErrSecretTooLong means a presented client secret exceeds MaxSecretLength
	ErrSecretTooLong = errors.New("client secret too long")

	// ErrInvalidClientCredentials means client authentication failed
	ErrInvalidClientCredentials = errors.New("invalid client credentials")

	// ErrInvalidToken means a bearer token is unknown or its user no longer exists
	ErrInvalidToken = errors.New("invalid token")
)

// Error is an OAuth 2.0 error response
type Error struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new OAuth error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// InvalidRequest indicates the request is malformed or missing required parameters
func InvalidRequest(desc string) *Error {
	return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
}

// InvalidClient indicates client authentication failed
func InvalidClient(desc string) *Error {
	return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
}

// InvalidGrant indicates the authorization code or refresh token is invalid
func InvalidGrant(desc string) *Error {
	return NewError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
}

// InvalidToken indicates the bearer token is invalid
func InvalidToken(desc string) *Error {
	return NewError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
}

// AccessDenied indicates the request was refused
func AccessDenied(desc string) *Error {
	return NewError(ErrorCodeAccessDenied, desc, http.StatusBadRequest)
}

// UnsupportedGrantType indicates the grant type is not supported
func UnsupportedGrantType(desc string) *Error {
	return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
}

// ServerError indicates a store failure. The description never carries internals.
func ServerError() *Error {
	return NewError(ErrorCodeServerError, "temporarily unavailable", http.StatusInternalServerError)
}

// SlowDown indicates the caller hit the rate limit
func SlowDown() *Error {
	return NewError(ErrorCodeSlowDown, "too many requests", http.StatusTooManyRequests)
}

// Classify maps an error returned by this package onto its wire representation.
// Descriptions are generic: mismatch details are logged and audited, never echoed.
// Returns nil for a nil error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr
	}

	switch {
	case errors.Is(err, ErrStorage):
		return ServerError()

	case errors.Is(err, ErrAccessDenied),
		errors.Is(err, storage.ErrUserNotFound):
		return AccessDenied("access denied")

	case errors.Is(err, ErrInvalidToken):
		return InvalidToken("token is invalid")

	case errors.Is(err, ErrInvalidClientCredentials),
		errors.Is(err, ErrInvalidClientID),
		errors.Is(err, ErrSecretTooLong),
		errors.Is(err, storage.ErrClientNotFound):
		return InvalidClient("client authentication failed")

	case errors.Is(err, storage.ErrAuthorizationCodeNotFound),
		errors.Is(err, storage.ErrAuthorizationCodeUsed):
		return InvalidGrant("authorization code is invalid")

	case errors.Is(err, storage.ErrTokenNotFound):
		return InvalidGrant("refresh token is invalid")

	case errors.Is(err, ErrClientMismatch),
		errors.Is(err, ErrRedirectURIMismatch),
		errors.Is(err, storage.ErrTokenClientMismatch):
		return InvalidGrant("grant does not match the client")

	case errors.Is(err, ErrInvalidRedirectURI):
		return InvalidRequest("redirect_uri must be an absolute http or https URL")

	case errors.Is(err, ErrInvalidClientName):
		return InvalidRequest("client name is invalid")

	case errors.Is(err, storage.ErrClientQuotaExceeded):
		return InvalidRequest("client limit reached")

	case errors.Is(err, storage.ErrInvalidInput):
		return InvalidRequest("request is invalid")
	}

	return ServerError()
}

// storageError wraps a store failure as ErrStorage. Domain errors the caller
// can act on (not found, quota, reuse, mismatch, invalid input) pass through.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if storage.IsNotFoundError(err) ||
		errors.Is(err, storage.ErrClientQuotaExceeded) ||
		errors.Is(err, storage.ErrClientExists) ||
		errors.Is(err, storage.ErrAuthorizationCodeUsed) ||
		errors.Is(err, storage.ErrTokenClientMismatch) ||
		errors.Is(err, storage.ErrInvalidInput) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
