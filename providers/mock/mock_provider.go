// Package mock provides mock implementations of the provider interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/giantswarm/kv-oauth/providers"
	"github.com/giantswarm/kv-oauth/storage"
)

// MockUserProvider is a mock implementation of providers.UserProvider and
// providers.Federator for testing
type MockUserProvider struct {
	// GetUserFunc is called when GetUser() is invoked
	GetUserFunc func(ctx context.Context, userID string) (*providers.User, error)

	// FindOrCreateUserFunc is called when FindOrCreateUser() is invoked
	FindOrCreateUserFunc func(ctx context.Context, profile *providers.Profile) (*providers.User, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

var (
	_ providers.UserProvider = (*MockUserProvider)(nil)
	_ providers.Federator    = (*MockUserProvider)(nil)
)

// NewMockUserProvider creates a mock that knows the given users.
// FindOrCreateUser derives the user ID from the profile key.
func NewMockUserProvider(users ...*providers.User) *MockUserProvider {
	known := make(map[string]*providers.User, len(users))
	for _, u := range users {
		known[u.ID] = u
	}

	m := &MockUserProvider{
		CallCounts: make(map[string]int),
	}
	m.GetUserFunc = func(_ context.Context, userID string) (*providers.User, error) {
		if u, ok := known[userID]; ok {
			return u, nil
		}
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
	}
	m.FindOrCreateUserFunc = func(_ context.Context, profile *providers.Profile) (*providers.User, error) {
		id := profile.UserID
		if id == "" {
			id = "mock-" + profile.Key()
		}
		return &providers.User{ID: id, Name: profile.DisplayName, Email: profile.Email}, nil
	}
	return m
}

// GetUser implements providers.UserProvider
func (m *MockUserProvider) GetUser(ctx context.Context, userID string) (*providers.User, error) {
	m.incrementCallCount("GetUser")
	return m.GetUserFunc(ctx, userID)
}

// FindOrCreateUser implements providers.Federator
func (m *MockUserProvider) FindOrCreateUser(ctx context.Context, profile *providers.Profile) (*providers.User, error) {
	m.incrementCallCount("FindOrCreateUser")
	return m.FindOrCreateUserFunc(ctx, profile)
}

// GetCallCount returns the number of times a method was called
func (m *MockUserProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

func (m *MockUserProvider) incrementCallCount(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}
