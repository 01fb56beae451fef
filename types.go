package oauth

// TokenResponse is the token endpoint success body (RFC 6749 Section 5.1)
type TokenResponse struct {
	// AccessToken is the bearer credential for protected routes
	AccessToken string `json:"access_token"`

	// RefreshToken is exchanged for a new pair at the token endpoint
	RefreshToken string `json:"refresh_token"`

	// TokenType is always "bearer"
	TokenType string `json:"token_type"`
}

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// UserResponse is the body served for the authenticated user
type UserResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}
