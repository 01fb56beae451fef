// Package storage defines interfaces for persisting OAuth clients, authorization codes and tokens.
// It supports the in-memory and Valkey backends.
package storage

import (
	"context"
	"time"

	"github.com/giantswarm/kv-oauth/providers"
)

const (
	// MaxTokenLength is the maximum allowed length for token and code strings.
	// Values longer than this are rejected before any store round-trip.
	MaxTokenLength = 1024

	// MaxIDLength is the maximum allowed length for identifiers (userID, clientID)
	MaxIDLength = 256
)

// TokenKind distinguishes the two bearer token families kept by the ledger.
// The value doubles as the key namespace in key-value backends.
type TokenKind string

const (
	// TokenKindAccess identifies access tokens
	TokenKindAccess TokenKind = "accessToken"

	// TokenKindRefresh identifies refresh tokens
	TokenKindRefresh TokenKind = "refreshToken"
)

// Valid reports whether k is one of the known token kinds.
func (k TokenKind) Valid() bool {
	return k == TokenKindAccess || k == TokenKindRefresh
}

// Client represents a registered OAuth client.
type Client struct {
	// ID is the client identifier (uuid v4)
	ID string

	// Name is the human readable client name
	Name string

	// RedirectURI is the single registered redirect URI (http or https)
	RedirectURI string

	// SecretHash is the argon2id hash of the client secret. The plaintext is never stored.
	SecretHash string

	// Owner is the ID of the user that registered the client
	Owner string

	// Trusted clients skip the consent prompt
	Trusted bool

	// CreatedAt is when the client was registered
	CreatedAt time.Time
}

// ClientUpdate is a partial update of a client record. Nil fields are left unchanged.
type ClientUpdate struct {
	Name        *string
	RedirectURI *string
	SecretHash  *string
	Trusted     *bool
}

// IsEmpty reports whether the update carries no changes.
func (u ClientUpdate) IsEmpty() bool {
	return u.Name == nil && u.RedirectURI == nil && u.SecretHash == nil && u.Trusted == nil
}

// AuthorizationCode is a single-use code bound to a client, a redirect URI and a user.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	RedirectURI string
	UserID      string
	CreatedAt   time.Time

	// Used is set once the code has been exchanged
	Used bool
}

// Token is an opaque bearer token record. All ownership data lives here;
// the token string itself carries no structure.
type Token struct {
	Value     string
	ClientID  string
	UserID    string
	CreatedAt time.Time
}

// ClientStore defines the interface for managing OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// CreateClient stores a new client and adds it to its owner's client set.
	// The owner quota check and the insert are a single atomic step.
	// Returns ErrClientQuotaExceeded if the owner already has maxPerOwner clients.
	CreateClient(ctx context.Context, client *Client, maxPerOwner int) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// UpdateClient applies a partial update to an existing client.
	// Returns ErrClientNotFound without writing anything if the client does not exist.
	UpdateClient(ctx context.Context, clientID string, update ClientUpdate) error

	// DeleteClient removes a client and its owner set membership atomically
	DeleteClient(ctx context.Context, clientID string) error

	// ListClientsByOwner returns all clients registered by the owner
	ListClientsByOwner(ctx context.Context, ownerID string) ([]*Client, error)
}

// TokenLedger persists authorization codes, access tokens and refresh tokens.
//
// Every token is indexed twice: by its value, and by a reverse index derived from
// (userID, clientID) via PairID. The reverse index always points at the most
// recently issued token for the pair. All multi-key writes are applied as one
// atomic step so concurrent readers never observe a forward record without its
// reverse pointer or vice versa.
type TokenLedger interface {
	// SaveAuthorizationCode stores a code that expires after ttl
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode, ttl time.Duration) error

	// GetAuthorizationCode retrieves a code without consuming it
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically checks that the code is unused and marks it used.
	// If it was already used the stored code is returned together with ErrAuthorizationCodeUsed
	// so the caller can revoke what was issued from it.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// SaveToken stores a token record, adds it to the user's token set and points the
	// reverse index at it. Any token the index previously pointed at is retired in the
	// same atomic step.
	SaveToken(ctx context.Context, kind TokenKind, token *Token) error

	// GetToken looks a token up by value
	GetToken(ctx context.Context, kind TokenKind, token string) (*Token, error)

	// FindTokenByIDs returns the current token value for a (user, client) pair
	FindTokenByIDs(ctx context.Context, kind TokenKind, userID, clientID string) (string, error)

	// RemoveTokenByIDs revokes a token. The reverse index is consulted first: it is
	// cleared when it points at the removed token or at a record that no longer exists,
	// and left alone when it points at a newer live token.
	RemoveTokenByIDs(ctx context.Context, kind TokenKind, token, userID, clientID string) error

	// ConsumeToken atomically deletes a token if it belongs to clientID.
	// On a client mismatch nothing is deleted and ErrTokenClientMismatch is returned
	// together with the stored record.
	ConsumeToken(ctx context.Context, kind TokenKind, token, clientID string) (*Token, error)

	// RevokeTokensForUser removes every access and refresh token of a user.
	// Returns the number of tokens revoked.
	RevokeTokensForUser(ctx context.Context, userID string) (int, error)
}

// UserStore persists local users and their provider connections.
type UserStore interface {
	providers.UserProvider
	providers.Federator
}

// Store is the full credential store used by the server.
type Store interface {
	ClientStore
	TokenLedger
	UserStore
}
