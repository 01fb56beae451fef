package server

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/giantswarm/kv-oauth/providers"
	"github.com/giantswarm/kv-oauth/security"
	"github.com/giantswarm/kv-oauth/storage"
	"github.com/giantswarm/kv-oauth/storage/memory"
)

// testHashParams keeps argon2id cheap in tests
var testHashParams = security.HashParams{Time: 1, Memory: 1024, Threads: 1}

func setupTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	srv, err := NewFromStore(store, &Config{HashParams: testHashParams}, nil)
	if err != nil {
		t.Fatalf("NewFromStore() error = %v", err)
	}
	return srv, store
}

func createTestUser(t *testing.T, srv *Server) *providers.User {
	t.Helper()

	user, err := srv.UserFromProfile(context.Background(), &providers.Profile{
		Provider:    "github",
		ProviderID:  uuid.NewString(),
		DisplayName: "Test User",
		Email:       "test@example.com",
	})
	if err != nil {
		t.Fatalf("UserFromProfile() error = %v", err)
	}
	return user
}

func createTestClient(t *testing.T, srv *Server, ownerID string) (*storage.Client, string) {
	t.Helper()

	client, secret, err := srv.Clients.Create(context.Background(), ownerID, "Test Client", "https://app.example.com/callback")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return client, secret
}

func TestNew(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	srv, err := NewFromStore(store, &Config{AuthorizationCodeTTL: 60}, nil)
	if err != nil {
		t.Fatalf("NewFromStore() error = %v", err)
	}
	if srv == nil {
		t.Fatal("NewFromStore() returned nil")
	}
	if srv.Config.AuthorizationCodeTTL != 60 {
		t.Errorf("AuthorizationCodeTTL = %d, want 60", srv.Config.AuthorizationCodeTTL)
	}
	if srv.Logger == nil {
		t.Error("Logger should not be nil")
	}
	if srv.Clients == nil {
		t.Error("Clients should not be nil")
	}
}

func TestNew_WithLogger(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	logger := slog.Default()
	srv, err := New(store, store, store, nil, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.Logger != logger {
		t.Error("Logger should match provided logger")
	}
}

func TestNew_NilConfig(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	srv, err := New(store, store, store, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.Config == nil {
		t.Fatal("Config should not be nil when nil is passed")
	}
	if srv.Config.TokenBytes != DefaultTokenBytes {
		t.Errorf("TokenBytes = %d, want %d", srv.Config.TokenBytes, DefaultTokenBytes)
	}
}

func TestNew_MissingDependencies(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	tests := []struct {
		name    string
		clients storage.ClientStore
		ledger  storage.TokenLedger
		users   storage.UserStore
	}{
		{name: "missing client store", ledger: store, users: store},
		{name: "missing ledger", clients: store, users: store},
		{name: "missing user store", clients: store, ledger: store},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.clients, tt.ledger, tt.users, nil, nil); err == nil {
				t.Error("New() expected error")
			}
		})
	}

	if _, err := NewFromStore(nil, nil, nil); err == nil {
		t.Error("NewFromStore(nil) expected error")
	}
}

func TestServer_SetAuditorAndInstrumentation(t *testing.T) {
	srv, _ := setupTestServer(t)

	aud := security.NewAuditor(slog.Default(), true)
	srv.SetAuditor(aud)
	if srv.Auditor != aud {
		t.Error("Auditor not set")
	}

	srv.SetInstrumentation(nil)
	if srv.metrics() != nil {
		t.Error("metrics() should be nil without instrumentation")
	}
}
