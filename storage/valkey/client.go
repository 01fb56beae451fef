package valkey

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/kv-oauth/storage"
)

// Client hash fields
const (
	fieldID          = "id"
	fieldName        = "name"
	fieldRedirectURI = "redirectUri"
	fieldSecret      = "secret"
	fieldOwner       = "owner"
	fieldTrusted     = "trusted"
	fieldCreatedAt   = "createdAt"
)

// ============================================================
// ClientStore Implementation
// ============================================================

// CreateClient stores a new client, enforcing the per-owner quota in the same script
func (s *Store) CreateClient(ctx context.Context, client *storage.Client, maxPerOwner int) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("%w: client ID is required", storage.ErrInvalidInput)
	}
	if err := storage.ValidateLength(client.ID, storage.MaxIDLength, "client ID"); err != nil {
		return err
	}
	if maxPerOwner < 0 {
		maxPerOwner = 0
	}

	return s.observe(ctx, "create_client", func(ctx context.Context) error {
		args := []string{
			strconv.Itoa(maxPerOwner),
			client.ID,
			fieldID, client.ID,
			fieldName, client.Name,
			fieldRedirectURI, client.RedirectURI,
			fieldSecret, client.SecretHash,
			fieldOwner, client.Owner,
			fieldTrusted, formatBool(client.Trusted),
			fieldCreatedAt, formatTime(client.CreatedAt),
		}

		result, err := s.client.Do(ctx,
			s.client.B().Eval().Script(luaCreateClient).
				Numkeys(2).
				Key(s.clientKey(client.ID), s.ownerClientsKey(client.Owner)).
				Arg(args...).
				Build(),
		).ToString()
		if err != nil {
			return fmt.Errorf("failed to create client: %w", err)
		}

		switch result {
		case "EXISTS":
			return storage.ErrClientExists
		case "QUOTA_EXCEEDED":
			s.logger.Warn("Client quota reached", "owner", client.Owner, "max_allowed", maxPerOwner)
			return storage.ErrClientQuotaExceeded
		}

		s.logger.Debug("Saved client", "client_id", client.ID, "owner", client.Owner)
		return nil
	})
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.clientKey(clientID)).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrClientNotFound
	}
	return clientFromFields(clientID, fields), nil
}

func clientFromFields(clientID string, f map[string]string) *storage.Client {
	id := f[fieldID]
	if id == "" {
		id = clientID
	}
	return &storage.Client{
		ID:          id,
		Name:        f[fieldName],
		RedirectURI: f[fieldRedirectURI],
		SecretHash:  f[fieldSecret],
		Owner:       f[fieldOwner],
		Trusted:     parseBool(f[fieldTrusted]),
		CreatedAt:   parseTime(f[fieldCreatedAt]),
	}
}

// UpdateClient applies a partial update to an existing client
func (s *Store) UpdateClient(ctx context.Context, clientID string, update storage.ClientUpdate) error {
	if update.IsEmpty() {
		if _, err := s.GetClient(ctx, clientID); err != nil {
			return err
		}
		return nil
	}

	var args []string
	if update.Name != nil {
		args = append(args, fieldName, *update.Name)
	}
	if update.RedirectURI != nil {
		args = append(args, fieldRedirectURI, *update.RedirectURI)
	}
	if update.SecretHash != nil {
		args = append(args, fieldSecret, *update.SecretHash)
	}
	if update.Trusted != nil {
		args = append(args, fieldTrusted, formatBool(*update.Trusted))
	}

	return s.observe(ctx, "update_client", func(ctx context.Context) error {
		updated, err := s.client.Do(ctx,
			s.client.B().Eval().Script(luaUpdateClient).
				Numkeys(1).
				Key(s.clientKey(clientID)).
				Arg(args...).
				Build(),
		).AsInt64()
		if err != nil {
			return fmt.Errorf("failed to update client: %w", err)
		}
		if updated == 0 {
			return storage.ErrClientNotFound
		}
		return nil
	})
}

// DeleteClient removes a client and its owner set membership in one MULTI/EXEC batch
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}

	return s.observe(ctx, "delete_client", func(ctx context.Context) error {
		err := s.execMulti(ctx,
			s.client.B().Del().Key(s.clientKey(clientID)).Build(),
			s.client.B().Srem().Key(s.ownerClientsKey(client.Owner)).Member(clientID).Build(),
		)
		if err != nil {
			return fmt.Errorf("failed to delete client: %w", err)
		}
		s.logger.Debug("Deleted client", "client_id", clientID)
		return nil
	})
}

// ListClientsByOwner returns the owner's clients ordered by creation time
func (s *Store) ListClientsByOwner(ctx context.Context, ownerID string) ([]*storage.Client, error) {
	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.ownerClientsKey(ownerID)).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	if len(ids) == 0 {
		return []*storage.Client{}, nil
	}

	cmds := make([]valkeygo.Completed, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, s.client.B().Hgetall().Key(s.clientKey(id)).Build())
	}

	clients := make([]*storage.Client, 0, len(ids))
	for i, resp := range s.client.DoMulti(ctx, cmds...) {
		fields, err := resp.AsStrMap()
		if err != nil {
			return nil, fmt.Errorf("failed to get client %s: %w", ids[i], err)
		}
		if len(fields) == 0 {
			// set member without a record; deleted between SMEMBERS and HGETALL
			continue
		}
		clients = append(clients, clientFromFields(ids[i], fields))
	}

	sort.Slice(clients, func(i, j int) bool {
		if clients[i].CreatedAt.Equal(clients[j].CreatedAt) {
			return clients[i].ID < clients[j].ID
		}
		return clients[i].CreatedAt.Before(clients[j].CreatedAt)
	})
	return clients, nil
}
