package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/kv-oauth/storage"
	"github.com/giantswarm/kv-oauth/storage/memory"
	"github.com/giantswarm/kv-oauth/storage/mock"
)

func setupMockServer(t *testing.T) (*Server, *mock.MockStore) {
	t.Helper()

	m := mock.NewMockStore()
	t.Cleanup(m.Stop)

	srv, err := NewFromStore(m, &Config{HashParams: testHashParams}, nil)
	require.NoError(t, err)
	return srv, m
}

func TestClientRegistry_Create(t *testing.T) {
	srv, store := setupTestServer(t)
	ctx := context.Background()

	client, secret, err := srv.Clients.Create(ctx, "owner-1", "My App", "https://app.example.com/callback")
	require.NoError(t, err)

	_, err = uuid.Parse(client.ID)
	assert.NoError(t, err, "client ID should be a UUID")
	assert.Equal(t, "My App", client.Name)
	assert.Equal(t, "https://app.example.com/callback", client.RedirectURI)
	assert.Equal(t, "owner-1", client.Owner)
	assert.False(t, client.Trusted)
	assert.Len(t, secret, 2*DefaultSecretBytes)

	stored, err := store.GetClient(ctx, client.ID)
	require.NoError(t, err)
	assert.NotEqual(t, secret, stored.SecretHash)
	assert.NotContains(t, stored.SecretHash, secret)
	assert.True(t, strings.HasPrefix(stored.SecretHash, "$argon2id$"))

	ok, err := srv.Clients.VerifySecret(ctx, client.ID, secret)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClientRegistry_Create_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		owner       string
		clientName  string
		redirectURI string
		wantErr     error
	}{
		{"ftp redirect", "owner", "App", "ftp://example.com/cb", ErrInvalidRedirectURI},
		{"relative redirect", "owner", "App", "/cb", ErrInvalidRedirectURI},
		{"fragment redirect", "owner", "App", "https://example.com/cb#x", ErrInvalidRedirectURI},
		{"empty name", "owner", "", "https://example.com/cb", ErrInvalidClientName},
		{"no owner", "", "App", "https://example.com/cb", storage.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, m := setupMockServer(t)

			_, _, err := srv.Clients.Create(context.Background(), tt.owner, tt.clientName, tt.redirectURI)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, ErrorCodeInvalidRequest, Classify(err).Code)
			assert.Zero(t, m.Calls("CreateClient"), "invalid input must not reach the store")
		})
	}
}

func TestClientRegistry_Quota(t *testing.T) {
	srv, _ := setupTestServer(t)
	ctx := context.Background()

	for i := 0; i < DefaultMaxClientsPerOwner; i++ {
		_, _, err := srv.Clients.Create(ctx, "owner-1", "App", "https://app.example.com/cb")
		require.NoError(t, err)
	}

	_, _, err := srv.Clients.Create(ctx, "owner-1", "App", "https://app.example.com/cb")
	assert.ErrorIs(t, err, storage.ErrClientQuotaExceeded)
	assert.Equal(t, ErrorCodeInvalidRequest, Classify(err).Code)

	// other owners are unaffected
	_, _, err = srv.Clients.Create(ctx, "owner-2", "App", "https://app.example.com/cb")
	assert.NoError(t, err)

	clients, err := srv.Clients.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, clients, DefaultMaxClientsPerOwner)
}

func TestClientRegistry_QuotaDisabled(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	srv, err := NewFromStore(store, &Config{HashParams: testHashParams, MaxClientsPerOwner: -1}, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _, err := srv.Clients.Create(context.Background(), "owner-1", "App", "https://app.example.com/cb")
		require.NoError(t, err)
	}
}

func TestClientRegistry_Updates(t *testing.T) {
	srv, _ := setupTestServer(t)
	ctx := context.Background()
	client, _ := createTestClient(t, srv, "owner-1")

	require.NoError(t, srv.Clients.UpdateName(ctx, client.ID, "Renamed"))
	require.NoError(t, srv.Clients.UpdateRedirectURI(ctx, client.ID, "https://new.example.com/cb"))
	require.NoError(t, srv.Clients.SetTrusted(ctx, client.ID, true))

	got, err := srv.Clients.Find(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "https://new.example.com/cb", got.RedirectURI)
	assert.True(t, got.Trusted)
	assert.Equal(t, client.SecretHash, got.SecretHash)
	assert.Equal(t, client.Owner, got.Owner)

	assert.ErrorIs(t, srv.Clients.UpdateRedirectURI(ctx, client.ID, "mailto:a@b.c"), ErrInvalidRedirectURI)
	assert.ErrorIs(t, srv.Clients.UpdateName(ctx, client.ID, ""), ErrInvalidClientName)
}

func TestClientRegistry_UpdateMissingClient(t *testing.T) {
	srv, store := setupTestServer(t)
	ctx := context.Background()
	missing := uuid.NewString()

	err := srv.Clients.UpdateName(ctx, missing, "Ghost")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
	assert.Equal(t, ErrorCodeInvalidClient, Classify(err).Code)

	_, err = store.GetClient(ctx, missing)
	assert.ErrorIs(t, err, storage.ErrClientNotFound, "update must not create a client")
}

func TestClientRegistry_InvalidClientIDSkipsStore(t *testing.T) {
	srv, m := setupMockServer(t)
	ctx := context.Background()

	_, err := srv.Clients.Find(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidClientID)

	err = srv.Clients.UpdateName(ctx, "not-a-uuid", "App")
	assert.ErrorIs(t, err, ErrInvalidClientID)

	_, _, err = srv.Clients.RegenerateSecret(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidClientID)

	assert.Zero(t, m.Calls("GetClient"))
	assert.Zero(t, m.Calls("UpdateClient"))
}

func TestClientRegistry_RegenerateSecret(t *testing.T) {
	srv, _ := setupTestServer(t)
	ctx := context.Background()
	client, oldSecret := createTestClient(t, srv, "owner-1")
	user := createTestUser(t, srv)

	token, err := srv.Token(ctx, client, user)
	require.NoError(t, err)

	updated, newSecret, err := srv.Clients.RegenerateSecret(ctx, client.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldSecret, newSecret)
	assert.NotEqual(t, client.SecretHash, updated.SecretHash)

	ok, err := srv.Clients.VerifySecret(ctx, client.ID, oldSecret)
	require.NoError(t, err)
	assert.False(t, ok, "old secret must stop working")

	ok, err = srv.Clients.VerifySecret(ctx, client.ID, newSecret)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := srv.ValidateAccessToken(ctx, token.AccessToken)
	require.NoError(t, err, "issued tokens survive secret regeneration")
	assert.Equal(t, user.ID, got.ID)
}

func TestClientRegistry_VerifySecret(t *testing.T) {
	srv, _ := setupTestServer(t)
	ctx := context.Background()
	client, secret := createTestClient(t, srv, "owner-1")

	tests := []struct {
		name      string
		clientID  string
		candidate string
		want      bool
		wantErr   error
	}{
		{name: "correct", clientID: client.ID, candidate: secret, want: true},
		{name: "wrong", clientID: client.ID, candidate: "wrong"},
		{name: "empty", clientID: client.ID, candidate: ""},
		{name: "unknown client", clientID: uuid.NewString(), candidate: secret},
		{name: "malformed client id", clientID: "client", candidate: secret},
		{name: "too long", clientID: client.ID, candidate: strings.Repeat("a", MaxSecretLength+1), wantErr: ErrSecretTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := srv.Clients.VerifySecret(ctx, tt.clientID, tt.candidate)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestClientRegistry_VerifySecret_TooLongSkipsStore(t *testing.T) {
	srv, m := setupMockServer(t)

	_, err := srv.Clients.VerifySecret(context.Background(), uuid.NewString(), strings.Repeat("a", MaxSecretLength+1))
	assert.ErrorIs(t, err, ErrSecretTooLong)
	assert.Zero(t, m.Calls("GetClient"))
}

func TestClientRegistry_Authenticate(t *testing.T) {
	srv, _ := setupTestServer(t)
	ctx := context.Background()
	client, secret := createTestClient(t, srv, "owner-1")

	got, err := srv.Clients.Authenticate(ctx, client.ID, secret)
	require.NoError(t, err)
	assert.Equal(t, client.ID, got.ID)

	_, err = srv.Clients.Authenticate(ctx, client.ID, "nope")
	assert.ErrorIs(t, err, ErrInvalidClientCredentials)
	assert.Equal(t, ErrorCodeInvalidClient, Classify(err).Code)

	_, err = srv.Clients.Authenticate(ctx, uuid.NewString(), secret)
	assert.ErrorIs(t, err, ErrInvalidClientCredentials)
}

func TestClientRegistry_ListByOwner(t *testing.T) {
	srv, _ := setupTestServer(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var created []string
	for i := 0; i < 2; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		srv.SetClock(func() time.Time { return at })
		c, _ := createTestClient(t, srv, "owner-1")
		created = append(created, c.ID)
	}

	clients, err := srv.Clients.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, created[0], clients[0].ID)
	assert.Equal(t, created[1], clients[1].ID)

	none, err := srv.Clients.ListByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClientRegistry_StoreFailure(t *testing.T) {
	srv, m := setupMockServer(t)
	ctx := context.Background()

	m.GetClientFunc = func(context.Context, string) (*storage.Client, error) {
		return nil, errors.New("dial tcp 10.0.0.1:6379: connection refused")
	}

	_, err := srv.Clients.Find(ctx, uuid.NewString())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)

	oauthErr := Classify(err)
	assert.Equal(t, ErrorCodeServerError, oauthErr.Code)
	assert.NotContains(t, oauthErr.Description, "connection refused")

	_, err = srv.Clients.VerifySecret(ctx, uuid.NewString(), "secret")
	assert.ErrorIs(t, err, ErrStorage)
}
