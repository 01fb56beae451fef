// Package providers defines the identity collaborators the authorization server
// consumes: a user lookup and the federation step that maps a third-party login
// profile onto a local user record.
package providers

import (
	"context"
)

// UserProvider resolves a local user by identifier.
// It is used when minting tokens and when validating bearer tokens.
type UserProvider interface {
	// GetUser returns the user with the given ID.
	// Implementations return an error satisfying storage.IsNotFoundError when absent.
	GetUser(ctx context.Context, userID string) (*User, error)
}

// Federator maps a third-party login profile to a local user, creating the user
// on first sight.
type Federator interface {
	// FindOrCreateUser returns the local user linked to the profile.
	// When profile.UserID is set the profile is linked to that existing user.
	FindOrCreateUser(ctx context.Context, profile *Profile) (*User, error)
}

// User is a local account. The authorization server treats the ID as opaque.
type User struct {
	// ID is the unique local identifier
	ID string `json:"id"`

	// Name is the display name
	Name string `json:"name,omitempty"`

	// Email is the user's email address
	Email string `json:"email,omitempty"`
}

// Profile is an identity asserted by a third-party login provider.
type Profile struct {
	// Provider is the login provider name (e.g., "github", "google")
	Provider string

	// ProviderID is the user's identifier at the provider
	ProviderID string

	// DisplayName is the name reported by the provider
	DisplayName string

	// Email is the email reported by the provider
	Email string

	// UserID links the profile to an already authenticated local user.
	// Empty means "find or create".
	UserID string
}

// Key returns the identifier of the provider connection, "{provider}:{providerID}".
func (p *Profile) Key() string {
	return p.Provider + ":" + p.ProviderID
}
