package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/giantswarm/kv-oauth/security"
	"github.com/giantswarm/kv-oauth/storage"
)

// ClientRegistry manages OAuth clients and verifies their secrets.
// Secrets are returned in plaintext exactly once, at creation or regeneration;
// only the argon2id hash is stored.
type ClientRegistry struct {
	store  storage.ClientStore
	hasher *security.Hasher
	srv    *Server
}

func newClientRegistry(store storage.ClientStore, hasher *security.Hasher, srv *Server) *ClientRegistry {
	return &ClientRegistry{
		store:  store,
		hasher: hasher,
		srv:    srv,
	}
}

// Find returns the client with the given ID
func (r *ClientRegistry) Find(ctx context.Context, clientID string) (*storage.Client, error) {
	if err := ValidateClientID(clientID); err != nil {
		return nil, err
	}

	sctx, cancel := r.srv.storeContext(ctx)
	defer cancel()

	client, err := r.store.GetClient(sctx, clientID)
	if err != nil {
		return nil, r.storeFailure("get client", err)
	}
	return client, nil
}

// Create registers a new client for ownerID and returns it with its plaintext secret
func (r *ClientRegistry) Create(ctx context.Context, ownerID, name, redirectURI string) (*storage.Client, string, error) {
	if ownerID == "" {
		return nil, "", fmt.Errorf("%w: owner is required", storage.ErrInvalidInput)
	}
	if err := ValidateClientName(name); err != nil {
		return nil, "", err
	}
	if err := ValidateRedirectURI(redirectURI); err != nil {
		return nil, "", err
	}

	secret, hash, err := r.generateSecret()
	if err != nil {
		return nil, "", err
	}

	client := &storage.Client{
		ID:          uuid.NewString(),
		Name:        name,
		RedirectURI: redirectURI,
		SecretHash:  hash,
		Owner:       ownerID,
		CreatedAt:   r.srv.now(),
	}

	sctx, cancel := r.srv.storeContext(ctx)
	defer cancel()

	if err := r.store.CreateClient(sctx, client, r.srv.Config.quota()); err != nil {
		if errors.Is(err, storage.ErrClientQuotaExceeded) {
			r.srv.Logger.Warn("Client registration rejected: quota reached",
				"owner", ownerID,
				"max_allowed", r.srv.Config.MaxClientsPerOwner)
		}
		return nil, "", r.storeFailure("create client", err)
	}

	r.srv.Auditor.LogClientCreated(ctx, ownerID, client.ID)
	if m := r.srv.metrics(); m != nil {
		m.RecordClientRegistration(ctx)
	}
	r.srv.Logger.Info("Registered new OAuth client",
		"client_id", client.ID,
		"client_name", client.Name,
		"owner", ownerID)

	return client, secret, nil
}

// UpdateName renames a client
func (r *ClientRegistry) UpdateName(ctx context.Context, clientID, name string) error {
	if err := ValidateClientID(clientID); err != nil {
		return err
	}
	if err := ValidateClientName(name); err != nil {
		return err
	}
	return r.update(ctx, clientID, storage.ClientUpdate{Name: &name}, "name")
}

// UpdateRedirectURI replaces a client's redirect URI
func (r *ClientRegistry) UpdateRedirectURI(ctx context.Context, clientID, redirectURI string) error {
	if err := ValidateClientID(clientID); err != nil {
		return err
	}
	if err := ValidateRedirectURI(redirectURI); err != nil {
		return err
	}
	return r.update(ctx, clientID, storage.ClientUpdate{RedirectURI: &redirectURI}, "redirect_uri")
}

// SetTrusted marks a client as trusted (skips consent) or untrusted
func (r *ClientRegistry) SetTrusted(ctx context.Context, clientID string, trusted bool) error {
	if err := ValidateClientID(clientID); err != nil {
		return err
	}
	return r.update(ctx, clientID, storage.ClientUpdate{Trusted: &trusted}, "trusted")
}

// RegenerateSecret replaces a client's secret and returns the new plaintext.
// Tokens already issued to the client stay valid.
func (r *ClientRegistry) RegenerateSecret(ctx context.Context, clientID string) (*storage.Client, string, error) {
	if err := ValidateClientID(clientID); err != nil {
		return nil, "", err
	}

	secret, hash, err := r.generateSecret()
	if err != nil {
		return nil, "", err
	}

	sctx, cancel := r.srv.storeContext(ctx)
	defer cancel()

	if err := r.store.UpdateClient(sctx, clientID, storage.ClientUpdate{SecretHash: &hash}); err != nil {
		return nil, "", r.storeFailure("regenerate secret", err)
	}
	client, err := r.store.GetClient(sctx, clientID)
	if err != nil {
		return nil, "", r.storeFailure("get client", err)
	}

	r.srv.Auditor.LogClientSecretRegenerated(ctx, clientID)
	if m := r.srv.metrics(); m != nil {
		m.RecordSecretRotation(ctx, clientID)
	}
	r.srv.Logger.Info("Regenerated client secret", "client_id", clientID)

	return client, secret, nil
}

// VerifySecret reports whether candidate is the client's secret.
// An unknown client costs the same hash work as a known one.
func (r *ClientRegistry) VerifySecret(ctx context.Context, clientID, candidate string) (bool, error) {
	if len(candidate) > MaxSecretLength {
		return false, fmt.Errorf("%w: %d bytes", ErrSecretTooLong, len(candidate))
	}
	if ValidateClientID(clientID) != nil {
		r.hasher.DummyVerify(candidate)
		return false, nil
	}

	sctx, cancel := r.srv.storeContext(ctx)
	defer cancel()

	client, err := r.store.GetClient(sctx, clientID)
	if err != nil {
		r.hasher.DummyVerify(candidate)
		if errors.Is(err, storage.ErrClientNotFound) {
			return false, nil
		}
		return false, r.storeFailure("get client", err)
	}

	ok, err := r.hasher.Verify(candidate, client.SecretHash)
	if err != nil {
		r.srv.Logger.Error("Stored client secret hash is unreadable",
			"client_id", clientID,
			"error", err)
		return false, fmt.Errorf("%w: verify secret: %w", ErrStorage, err)
	}
	return ok, nil
}

// Authenticate returns the client when candidate is its secret, and
// ErrInvalidClientCredentials otherwise
func (r *ClientRegistry) Authenticate(ctx context.Context, clientID, candidate string) (*storage.Client, error) {
	ok, err := r.VerifySecret(ctx, clientID, candidate)
	if err != nil {
		return nil, err
	}
	if !ok {
		if m := r.srv.metrics(); m != nil {
			m.RecordClientAuthFailed(ctx, "bad_credentials")
		}
		return nil, ErrInvalidClientCredentials
	}
	return r.Find(ctx, clientID)
}

// ListByOwner returns the clients registered by ownerID, oldest first
func (r *ClientRegistry) ListByOwner(ctx context.Context, ownerID string) ([]*storage.Client, error) {
	sctx, cancel := r.srv.storeContext(ctx)
	defer cancel()

	clients, err := r.store.ListClientsByOwner(sctx, ownerID)
	if err != nil {
		return nil, r.storeFailure("list clients", err)
	}
	return clients, nil
}

// update applies a partial update and audits the changed fields
func (r *ClientRegistry) update(ctx context.Context, clientID string, update storage.ClientUpdate, field string) error {
	sctx, cancel := r.srv.storeContext(ctx)
	defer cancel()

	if err := r.store.UpdateClient(sctx, clientID, update); err != nil {
		return r.storeFailure("update client", err)
	}

	r.srv.Auditor.LogClientUpdated(ctx, clientID, field)
	r.srv.Logger.Info("Updated OAuth client", "client_id", clientID, "field", field)
	return nil
}

// generateSecret mints a client secret and its argon2id hash
func (r *ClientRegistry) generateSecret() (string, string, error) {
	secret, err := randomCredential(r.srv.Config.SecretBytes)
	if err != nil {
		return "", "", err
	}
	hash, err := r.hasher.Hash(secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return secret, hash, nil
}

// storeFailure logs store internals and returns an error safe for callers
func (r *ClientRegistry) storeFailure(op string, err error) error {
	wrapped := storageError(op, err)
	if errors.Is(wrapped, ErrStorage) {
		r.srv.Logger.Error("Client store failure", "operation", op, "error", err)
	}
	return wrapped
}
