// Package mock provides mock implementations of storage interfaces for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/kv-oauth/providers"
	"github.com/giantswarm/kv-oauth/storage"
	"github.com/giantswarm/kv-oauth/storage/memory"
)

// MockStore is a mock implementation of storage.Store for testing.
//
// Every method dispatches to the matching Func field. NewMockStore fills the
// fields with a memory store, so tests only override the calls they want to
// fail or observe:
//
//	m := mock.NewMockStore()
//	m.SaveTokenFunc = func(context.Context, storage.TokenKind, *storage.Token) error {
//	    return errors.New("connection reset")
//	}
type MockStore struct {
	mu         sync.Mutex
	CallCounts map[string]int

	// Backend is the memory store behind the default implementations
	Backend *memory.Store

	CreateClientFunc             func(ctx context.Context, client *storage.Client, maxPerOwner int) error
	GetClientFunc                func(ctx context.Context, clientID string) (*storage.Client, error)
	UpdateClientFunc             func(ctx context.Context, clientID string, update storage.ClientUpdate) error
	DeleteClientFunc             func(ctx context.Context, clientID string) error
	ListClientsByOwnerFunc       func(ctx context.Context, ownerID string) ([]*storage.Client, error)
	SaveAuthorizationCodeFunc    func(ctx context.Context, code *storage.AuthorizationCode, ttl time.Duration) error
	GetAuthorizationCodeFunc     func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	ConsumeAuthorizationCodeFunc func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	SaveTokenFunc                func(ctx context.Context, kind storage.TokenKind, token *storage.Token) error
	GetTokenFunc                 func(ctx context.Context, kind storage.TokenKind, token string) (*storage.Token, error)
	FindTokenByIDsFunc           func(ctx context.Context, kind storage.TokenKind, userID, clientID string) (string, error)
	RemoveTokenByIDsFunc         func(ctx context.Context, kind storage.TokenKind, token, userID, clientID string) error
	ConsumeTokenFunc             func(ctx context.Context, kind storage.TokenKind, token, clientID string) (*storage.Token, error)
	RevokeTokensForUserFunc      func(ctx context.Context, userID string) (int, error)
	GetUserFunc                  func(ctx context.Context, userID string) (*providers.User, error)
	FindOrCreateUserFunc         func(ctx context.Context, profile *providers.Profile) (*providers.User, error)
}

var _ storage.Store = (*MockStore)(nil)

// NewMockStore creates a mock store backed by a fresh memory store.
// Call Stop when done to release the memory store's cleanup goroutine.
func NewMockStore() *MockStore {
	b := memory.New()
	return &MockStore{
		CallCounts: make(map[string]int),
		Backend:    b,

		CreateClientFunc:             b.CreateClient,
		GetClientFunc:                b.GetClient,
		UpdateClientFunc:             b.UpdateClient,
		DeleteClientFunc:             b.DeleteClient,
		ListClientsByOwnerFunc:       b.ListClientsByOwner,
		SaveAuthorizationCodeFunc:    b.SaveAuthorizationCode,
		GetAuthorizationCodeFunc:     b.GetAuthorizationCode,
		ConsumeAuthorizationCodeFunc: b.ConsumeAuthorizationCode,
		SaveTokenFunc:                b.SaveToken,
		GetTokenFunc:                 b.GetToken,
		FindTokenByIDsFunc:           b.FindTokenByIDs,
		RemoveTokenByIDsFunc:         b.RemoveTokenByIDs,
		ConsumeTokenFunc:             b.ConsumeToken,
		RevokeTokensForUserFunc:      b.RevokeTokensForUser,
		GetUserFunc:                  b.GetUser,
		FindOrCreateUserFunc:         b.FindOrCreateUser,
	}
}

// Stop stops the backing memory store
func (m *MockStore) Stop() {
	m.Backend.Stop()
}

func (m *MockStore) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}

// Calls returns how many times method was called
func (m *MockStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCounts[method]
}

// CreateClient calls CreateClientFunc
func (m *MockStore) CreateClient(ctx context.Context, client *storage.Client, maxPerOwner int) error {
	m.recordCall("CreateClient")
	return m.CreateClientFunc(ctx, client, maxPerOwner)
}

// GetClient calls GetClientFunc
func (m *MockStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.recordCall("GetClient")
	return m.GetClientFunc(ctx, clientID)
}

// UpdateClient calls UpdateClientFunc
func (m *MockStore) UpdateClient(ctx context.Context, clientID string, update storage.ClientUpdate) error {
	m.recordCall("UpdateClient")
	return m.UpdateClientFunc(ctx, clientID, update)
}

// DeleteClient calls DeleteClientFunc
func (m *MockStore) DeleteClient(ctx context.Context, clientID string) error {
	m.recordCall("DeleteClient")
	return m.DeleteClientFunc(ctx, clientID)
}

// ListClientsByOwner calls ListClientsByOwnerFunc
func (m *MockStore) ListClientsByOwner(ctx context.Context, ownerID string) ([]*storage.Client, error) {
	m.recordCall("ListClientsByOwner")
	return m.ListClientsByOwnerFunc(ctx, ownerID)
}

// SaveAuthorizationCode calls SaveAuthorizationCodeFunc
func (m *MockStore) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode, ttl time.Duration) error {
	m.recordCall("SaveAuthorizationCode")
	return m.SaveAuthorizationCodeFunc(ctx, code, ttl)
}

// GetAuthorizationCode calls GetAuthorizationCodeFunc
func (m *MockStore) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.recordCall("GetAuthorizationCode")
	return m.GetAuthorizationCodeFunc(ctx, code)
}

// ConsumeAuthorizationCode calls ConsumeAuthorizationCodeFunc
func (m *MockStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.recordCall("ConsumeAuthorizationCode")
	return m.ConsumeAuthorizationCodeFunc(ctx, code)
}

// SaveToken calls SaveTokenFunc
func (m *MockStore) SaveToken(ctx context.Context, kind storage.TokenKind, token *storage.Token) error {
	m.recordCall("SaveToken")
	return m.SaveTokenFunc(ctx, kind, token)
}

// GetToken calls GetTokenFunc
func (m *MockStore) GetToken(ctx context.Context, kind storage.TokenKind, token string) (*storage.Token, error) {
	m.recordCall("GetToken")
	return m.GetTokenFunc(ctx, kind, token)
}

// FindTokenByIDs calls FindTokenByIDsFunc
func (m *MockStore) FindTokenByIDs(ctx context.Context, kind storage.TokenKind, userID, clientID string) (string, error) {
	m.recordCall("FindTokenByIDs")
	return m.FindTokenByIDsFunc(ctx, kind, userID, clientID)
}

// RemoveTokenByIDs calls RemoveTokenByIDsFunc
func (m *MockStore) RemoveTokenByIDs(ctx context.Context, kind storage.TokenKind, token, userID, clientID string) error {
	m.recordCall("RemoveTokenByIDs")
	return m.RemoveTokenByIDsFunc(ctx, kind, token, userID, clientID)
}

// ConsumeToken calls ConsumeTokenFunc
func (m *MockStore) ConsumeToken(ctx context.Context, kind storage.TokenKind, token, clientID string) (*storage.Token, error) {
	m.recordCall("ConsumeToken")
	return m.ConsumeTokenFunc(ctx, kind, token, clientID)
}

// RevokeTokensForUser calls RevokeTokensForUserFunc
func (m *MockStore) RevokeTokensForUser(ctx context.Context, userID string) (int, error) {
	m.recordCall("RevokeTokensForUser")
	return m.RevokeTokensForUserFunc(ctx, userID)
}

// GetUser calls GetUserFunc
func (m *MockStore) GetUser(ctx context.Context, userID string) (*providers.User, error) {
	m.recordCall("GetUser")
	return m.GetUserFunc(ctx, userID)
}

// FindOrCreateUser calls FindOrCreateUserFunc
func (m *MockStore) FindOrCreateUser(ctx context.Context, profile *providers.Profile) (*providers.User, error) {
	m.recordCall("FindOrCreateUser")
	return m.FindOrCreateUserFunc(ctx, profile)
}
