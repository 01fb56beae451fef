package oauth

import (
	"github.com/giantswarm/kv-oauth/server"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest       = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidGrant         = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidClient        = server.ErrorCodeInvalidClient
	ErrorCodeInvalidToken         = server.ErrorCodeInvalidToken
	ErrorCodeUnsupportedGrantType = server.ErrorCodeUnsupportedGrantType
	ErrorCodeServerError          = server.ErrorCodeServerError
	ErrorCodeAccessDenied         = server.ErrorCodeAccessDenied
	ErrorCodeSlowDown             = server.ErrorCodeSlowDown
)

// Error represents an OAuth 2.0 error response
type Error = server.Error

// NewError creates a new OAuth error
func NewError(code, description string, status int) *Error {
	return server.NewError(code, description, status)
}

// Common OAuth errors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = server.InvalidRequest

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid
	ErrInvalidGrant = server.InvalidGrant

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = server.InvalidClient

	// ErrInvalidToken indicates the access token is invalid
	ErrInvalidToken = server.InvalidToken

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = server.UnsupportedGrantType

	// ErrAccessDenied indicates the user or authorization server denied the request
	ErrAccessDenied = server.AccessDenied

	// ErrServerError indicates the store failed; the description is fixed
	ErrServerError = server.ServerError

	// ErrSlowDown indicates the per-IP rate limit was hit
	ErrSlowDown = server.SlowDown
)

// ErrorFrom maps any error returned by the server package onto an OAuth error
func ErrorFrom(err error) *Error {
	return server.Classify(err)
}
