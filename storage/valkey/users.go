package valkey

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/giantswarm/kv-oauth/providers"
	"github.com/giantswarm/kv-oauth/storage"
)

// fieldEmail is the user hash email field. Profile fields are written by luaFindOrCreateUser.
const fieldEmail = "email"

// ============================================================
// UserStore Implementation
// ============================================================

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (*providers.User, error) {
	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.userKey(userID)).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrUserNotFound
	}
	id := fields[fieldID]
	if id == "" {
		id = userID
	}
	return &providers.User{
		ID:    id,
		Name:  fields[fieldName],
		Email: fields[fieldEmail],
	}, nil
}

// FindOrCreateUser returns the user linked to a provider profile. On first
// sight the user hash, the profile hash and the connection set entry are
// written by one script, so concurrent first logins share a single user.
func (s *Store) FindOrCreateUser(ctx context.Context, profile *providers.Profile) (*providers.User, error) {
	if profile == nil || profile.Provider == "" || profile.ProviderID == "" {
		return nil, fmt.Errorf("%w: provider and provider ID are required", storage.ErrInvalidInput)
	}
	key := profile.Key()
	if err := storage.ValidateLength(key, storage.MaxIDLength, "provider profile"); err != nil {
		return nil, err
	}

	var user *providers.User
	err := s.observe(ctx, "find_or_create_user", func(ctx context.Context) error {
		candidate := uuid.NewString()
		reply, err := s.client.Do(ctx,
			s.client.B().Eval().Script(luaFindOrCreateUser).
				Numkeys(1).
				Key(s.profileKey(key)).
				Arg(
					s.userKey(""),
					s.connectionsKey(""),
					profile.UserID,
					candidate,
					key,
					profile.Provider,
					profile.ProviderID,
					profile.DisplayName,
					profile.Email,
				).
				Build(),
		).AsStrSlice()
		if err != nil {
			return fmt.Errorf("failed to save user: %w", err)
		}
		if len(reply) == 0 {
			return fmt.Errorf("failed to save user: empty reply")
		}

		switch reply[0] {
		case "USER_NOT_FOUND":
			return storage.ErrUserNotFound
		case "DANGLING":
			return fmt.Errorf("%w: profile %s points at a missing user", storage.ErrUserNotFound, key)
		}
		if len(reply) < 3 {
			return fmt.Errorf("failed to save user: short reply")
		}

		if reply[2] == "1" {
			user = &providers.User{ID: reply[1], Name: profile.DisplayName, Email: profile.Email}
			s.logger.Info("Created user from provider profile", "user_id", user.ID, "provider", profile.Provider)
			return nil
		}
		user, err = s.GetUser(ctx, reply[1])
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
