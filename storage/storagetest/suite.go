// Package storagetest is a behavioural test suite shared by every storage.Store
// backend. Each backend's tests call RunStoreTests with a factory that returns
// an empty, isolated store.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/kv-oauth/providers"
	"github.com/giantswarm/kv-oauth/storage"
)

// Factory returns an empty store. Cleanup is registered on t by the factory.
type Factory func(t *testing.T) storage.Store

// RunStoreTests runs the full suite against stores built by factory.
func RunStoreTests(t *testing.T, factory Factory) {
	t.Run("Clients", func(t *testing.T) { runClientTests(t, factory) })
	t.Run("AuthorizationCodes", func(t *testing.T) { runCodeTests(t, factory) })
	t.Run("Tokens", func(t *testing.T) { runTokenTests(t, factory) })
	t.Run("Users", func(t *testing.T) { runUserTests(t, factory) })
}

func newClient(owner string, created time.Time) *storage.Client {
	return &storage.Client{
		ID:          uuid.NewString(),
		Name:        "app",
		RedirectURI: "https://cb.example/r",
		SecretHash:  "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$a2V5",
		Owner:       owner,
		CreatedAt:   created,
	}
}

func newToken(userID, clientID string) *storage.Token {
	return &storage.Token{
		Value:     uuid.NewString() + uuid.NewString(),
		UserID:    userID,
		ClientID:  clientID,
		CreatedAt: time.Now(),
	}
}

func runClientTests(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := factory(t)
		c := newClient("owner-1", time.Now())
		c.Trusted = true
		require.NoError(t, s.CreateClient(ctx, c, 10))

		got, err := s.GetClient(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		assert.Equal(t, c.Name, got.Name)
		assert.Equal(t, c.RedirectURI, got.RedirectURI)
		assert.Equal(t, c.SecretHash, got.SecretHash)
		assert.Equal(t, c.Owner, got.Owner)
		assert.True(t, got.Trusted)
		assert.WithinDuration(t, c.CreatedAt, got.CreatedAt, time.Second)
	})

	t.Run("get missing", func(t *testing.T) {
		s := factory(t)
		_, err := s.GetClient(ctx, uuid.NewString())
		assert.ErrorIs(t, err, storage.ErrClientNotFound)
	})

	t.Run("duplicate id", func(t *testing.T) {
		s := factory(t)
		c := newClient("owner-1", time.Now())
		require.NoError(t, s.CreateClient(ctx, c, 0))
		assert.ErrorIs(t, s.CreateClient(ctx, c, 0), storage.ErrClientExists)
	})

	t.Run("owner quota", func(t *testing.T) {
		s := factory(t)
		for i := 0; i < 2; i++ {
			require.NoError(t, s.CreateClient(ctx, newClient("owner-q", time.Now()), 2))
		}
		assert.ErrorIs(t, s.CreateClient(ctx, newClient("owner-q", time.Now()), 2), storage.ErrClientQuotaExceeded)
		// other owners are unaffected
		assert.NoError(t, s.CreateClient(ctx, newClient("owner-r", time.Now()), 2))
	})

	t.Run("concurrent creates respect quota", func(t *testing.T) {
		s := factory(t)
		var ok atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.CreateClient(ctx, newClient("owner-c", time.Now()), 3) == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(3), ok.Load())
	})

	t.Run("update", func(t *testing.T) {
		s := factory(t)
		c := newClient("owner-1", time.Now())
		require.NoError(t, s.CreateClient(ctx, c, 0))

		name := "renamed"
		uri := "http://localhost:8080/cb"
		trusted := true
		require.NoError(t, s.UpdateClient(ctx, c.ID, storage.ClientUpdate{Name: &name, RedirectURI: &uri, Trusted: &trusted}))

		got, err := s.GetClient(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, name, got.Name)
		assert.Equal(t, uri, got.RedirectURI)
		assert.True(t, got.Trusted)
		assert.Equal(t, c.SecretHash, got.SecretHash, "unset fields are left alone")
	})

	t.Run("update missing does not create", func(t *testing.T) {
		s := factory(t)
		id := uuid.NewString()
		name := "ghost"
		assert.ErrorIs(t, s.UpdateClient(ctx, id, storage.ClientUpdate{Name: &name}), storage.ErrClientNotFound)
		_, err := s.GetClient(ctx, id)
		assert.ErrorIs(t, err, storage.ErrClientNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		s := factory(t)
		c := newClient("owner-d", time.Now())
		require.NoError(t, s.CreateClient(ctx, c, 1))
		require.NoError(t, s.DeleteClient(ctx, c.ID))

		_, err := s.GetClient(ctx, c.ID)
		assert.ErrorIs(t, err, storage.ErrClientNotFound)
		// the quota slot is released
		assert.NoError(t, s.CreateClient(ctx, newClient("owner-d", time.Now()), 1))
		assert.ErrorIs(t, s.DeleteClient(ctx, c.ID), storage.ErrClientNotFound)
	})

	t.Run("list by owner", func(t *testing.T) {
		s := factory(t)
		base := time.Now().Add(-time.Hour).Truncate(time.Second)
		first := newClient("owner-l", base)
		second := newClient("owner-l", base.Add(time.Minute))
		require.NoError(t, s.CreateClient(ctx, second, 0))
		require.NoError(t, s.CreateClient(ctx, first, 0))
		require.NoError(t, s.CreateClient(ctx, newClient("someone-else", base), 0))

		list, err := s.ListClientsByOwner(ctx, "owner-l")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.ID, list[0].ID)
		assert.Equal(t, second.ID, list[1].ID)

		empty, err := s.ListClientsByOwner(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("rejects empty id", func(t *testing.T) {
		s := factory(t)
		c := newClient("owner", time.Now())
		c.ID = ""
		assert.ErrorIs(t, s.CreateClient(ctx, c, 0), storage.ErrInvalidInput)
	})
}

func runCodeTests(t *testing.T, factory Factory) {
	ctx := context.Background()

	newCode := func() *storage.AuthorizationCode {
		return &storage.AuthorizationCode{
			Code:        uuid.NewString(),
			ClientID:    uuid.NewString(),
			RedirectURI: "https://cb.example/r",
			UserID:      uuid.NewString(),
			CreatedAt:   time.Now(),
		}
	}

	t.Run("save and get", func(t *testing.T) {
		s := factory(t)
		code := newCode()
		require.NoError(t, s.SaveAuthorizationCode(ctx, code, time.Minute))

		got, err := s.GetAuthorizationCode(ctx, code.Code)
		require.NoError(t, err)
		assert.Equal(t, code.ClientID, got.ClientID)
		assert.Equal(t, code.RedirectURI, got.RedirectURI)
		assert.Equal(t, code.UserID, got.UserID)
		assert.False(t, got.Used)
	})

	t.Run("consume once", func(t *testing.T) {
		s := factory(t)
		code := newCode()
		require.NoError(t, s.SaveAuthorizationCode(ctx, code, time.Minute))

		got, err := s.ConsumeAuthorizationCode(ctx, code.Code)
		require.NoError(t, err)
		assert.Equal(t, code.UserID, got.UserID)

		again, err := s.ConsumeAuthorizationCode(ctx, code.Code)
		assert.ErrorIs(t, err, storage.ErrAuthorizationCodeUsed)
		require.NotNil(t, again, "reuse returns the stored code")
		assert.Equal(t, code.ClientID, again.ClientID)
		assert.Equal(t, code.UserID, again.UserID)
		assert.True(t, again.Used)
	})

	t.Run("concurrent consume has one winner", func(t *testing.T) {
		s := factory(t)
		code := newCode()
		require.NoError(t, s.SaveAuthorizationCode(ctx, code, time.Minute))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.ConsumeAuthorizationCode(ctx, code.Code); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("unknown code", func(t *testing.T) {
		s := factory(t)
		_, err := s.GetAuthorizationCode(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
		_, err = s.ConsumeAuthorizationCode(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
	})

	t.Run("rejects oversized code", func(t *testing.T) {
		s := factory(t)
		code := newCode()
		code.Code = fmt.Sprintf("%0*d", storage.MaxTokenLength+1, 0)
		assert.ErrorIs(t, s.SaveAuthorizationCode(ctx, code, time.Minute), storage.ErrInvalidInput)
	})
}

func runTokenTests(t *testing.T, factory Factory) {
	ctx := context.Background()
	kinds := []storage.TokenKind{storage.TokenKindAccess, storage.TokenKindRefresh}

	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			t.Run("save, get and find", func(t *testing.T) {
				s := factory(t)
				tok := newToken(uuid.NewString(), uuid.NewString())
				require.NoError(t, s.SaveToken(ctx, kind, tok))

				got, err := s.GetToken(ctx, kind, tok.Value)
				require.NoError(t, err)
				assert.Equal(t, tok.UserID, got.UserID)
				assert.Equal(t, tok.ClientID, got.ClientID)

				found, err := s.FindTokenByIDs(ctx, kind, tok.UserID, tok.ClientID)
				require.NoError(t, err)
				assert.Equal(t, tok.Value, found)
			})

			t.Run("save retires the previous token of the pair", func(t *testing.T) {
				s := factory(t)
				userID, clientID := uuid.NewString(), uuid.NewString()
				first := newToken(userID, clientID)
				second := newToken(userID, clientID)
				require.NoError(t, s.SaveToken(ctx, kind, first))
				require.NoError(t, s.SaveToken(ctx, kind, second))

				_, err := s.GetToken(ctx, kind, first.Value)
				assert.ErrorIs(t, err, storage.ErrTokenNotFound)
				found, err := s.FindTokenByIDs(ctx, kind, userID, clientID)
				require.NoError(t, err)
				assert.Equal(t, second.Value, found)
			})

			t.Run("pairs are isolated per client", func(t *testing.T) {
				s := factory(t)
				userID := uuid.NewString()
				a := newToken(userID, uuid.NewString())
				b := newToken(userID, uuid.NewString())
				require.NoError(t, s.SaveToken(ctx, kind, a))
				require.NoError(t, s.SaveToken(ctx, kind, b))

				foundA, err := s.FindTokenByIDs(ctx, kind, userID, a.ClientID)
				require.NoError(t, err)
				assert.Equal(t, a.Value, foundA)
				foundB, err := s.FindTokenByIDs(ctx, kind, userID, b.ClientID)
				require.NoError(t, err)
				assert.Equal(t, b.Value, foundB)
			})

			t.Run("remove current token clears index", func(t *testing.T) {
				s := factory(t)
				tok := newToken(uuid.NewString(), uuid.NewString())
				require.NoError(t, s.SaveToken(ctx, kind, tok))
				require.NoError(t, s.RemoveTokenByIDs(ctx, kind, tok.Value, tok.UserID, tok.ClientID))

				_, err := s.GetToken(ctx, kind, tok.Value)
				assert.ErrorIs(t, err, storage.ErrTokenNotFound)
				_, err = s.FindTokenByIDs(ctx, kind, tok.UserID, tok.ClientID)
				assert.ErrorIs(t, err, storage.ErrTokenNotFound)

				// idempotent
				assert.NoError(t, s.RemoveTokenByIDs(ctx, kind, tok.Value, tok.UserID, tok.ClientID))
			})

			t.Run("remove stale token keeps live index", func(t *testing.T) {
				s := factory(t)
				userID, clientID := uuid.NewString(), uuid.NewString()
				old := newToken(userID, clientID)
				live := newToken(userID, clientID)
				require.NoError(t, s.SaveToken(ctx, kind, old))
				require.NoError(t, s.SaveToken(ctx, kind, live))

				require.NoError(t, s.RemoveTokenByIDs(ctx, kind, old.Value, userID, clientID))

				found, err := s.FindTokenByIDs(ctx, kind, userID, clientID)
				require.NoError(t, err)
				assert.Equal(t, live.Value, found)
				_, err = s.GetToken(ctx, kind, live.Value)
				assert.NoError(t, err)
			})

			t.Run("consume", func(t *testing.T) {
				s := factory(t)
				tok := newToken(uuid.NewString(), uuid.NewString())
				require.NoError(t, s.SaveToken(ctx, kind, tok))

				got, err := s.ConsumeToken(ctx, kind, tok.Value, tok.ClientID)
				require.NoError(t, err)
				assert.Equal(t, tok.UserID, got.UserID)

				_, err = s.GetToken(ctx, kind, tok.Value)
				assert.ErrorIs(t, err, storage.ErrTokenNotFound)
				_, err = s.FindTokenByIDs(ctx, kind, tok.UserID, tok.ClientID)
				assert.ErrorIs(t, err, storage.ErrTokenNotFound)

				_, err = s.ConsumeToken(ctx, kind, tok.Value, tok.ClientID)
				assert.ErrorIs(t, err, storage.ErrTokenNotFound)
			})

			t.Run("consume by another client leaves token", func(t *testing.T) {
				s := factory(t)
				tok := newToken(uuid.NewString(), uuid.NewString())
				require.NoError(t, s.SaveToken(ctx, kind, tok))

				got, err := s.ConsumeToken(ctx, kind, tok.Value, uuid.NewString())
				assert.ErrorIs(t, err, storage.ErrTokenClientMismatch)
				require.NotNil(t, got)
				assert.Equal(t, tok.ClientID, got.ClientID)

				_, err = s.GetToken(ctx, kind, tok.Value)
				assert.NoError(t, err)
			})

			t.Run("concurrent consume has one winner", func(t *testing.T) {
				s := factory(t)
				tok := newToken(uuid.NewString(), uuid.NewString())
				require.NoError(t, s.SaveToken(ctx, kind, tok))

				var wins atomic.Int32
				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if _, err := s.ConsumeToken(ctx, kind, tok.Value, tok.ClientID); err == nil {
							wins.Add(1)
						}
					}()
				}
				wg.Wait()
				assert.Equal(t, int32(1), wins.Load())
			})

			t.Run("rejects invalid input", func(t *testing.T) {
				s := factory(t)
				assert.ErrorIs(t, s.SaveToken(ctx, kind, &storage.Token{Value: "v"}), storage.ErrInvalidInput)
				assert.ErrorIs(t, s.SaveToken(ctx, storage.TokenKind("bogus"), newToken("u", "c")), storage.ErrInvalidInput)
			})
		})
	}

	t.Run("revoke all tokens for user", func(t *testing.T) {
		s := factory(t)
		userID := uuid.NewString()
		var saved []*storage.Token
		for i := 0; i < 2; i++ {
			clientID := uuid.NewString()
			for _, kind := range kinds {
				tok := newToken(userID, clientID)
				require.NoError(t, s.SaveToken(ctx, kind, tok))
				saved = append(saved, tok)
			}
		}
		bystander := newToken(uuid.NewString(), uuid.NewString())
		require.NoError(t, s.SaveToken(ctx, storage.TokenKindAccess, bystander))

		n, err := s.RevokeTokensForUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		for _, kind := range kinds {
			for _, tok := range saved {
				_, err := s.GetToken(ctx, kind, tok.Value)
				assert.ErrorIs(t, err, storage.ErrTokenNotFound)
				_, err = s.FindTokenByIDs(ctx, kind, userID, tok.ClientID)
				assert.ErrorIs(t, err, storage.ErrTokenNotFound)
			}
		}
		_, err = s.GetToken(ctx, storage.TokenKindAccess, bystander.Value)
		assert.NoError(t, err)

		n, err = s.RevokeTokensForUser(ctx, userID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func runUserTests(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("find or create", func(t *testing.T) {
		s := factory(t)
		profile := &providers.Profile{Provider: "github", ProviderID: "42", DisplayName: "Ada", Email: "ada@example.com"}

		created, err := s.FindOrCreateUser(ctx, profile)
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, "Ada", created.Name)

		again, err := s.FindOrCreateUser(ctx, &providers.Profile{Provider: "github", ProviderID: "42"})
		require.NoError(t, err)
		assert.Equal(t, created.ID, again.ID)

		got, err := s.GetUser(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", got.Email)
	})

	t.Run("concurrent first logins share one user", func(t *testing.T) {
		s := factory(t)
		var (
			mu  sync.Mutex
			ids = make(map[string]struct{})
			wg  sync.WaitGroup
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				u, err := s.FindOrCreateUser(ctx, &providers.Profile{Provider: "github", ProviderID: "42", DisplayName: "Ada"})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				ids[u.ID] = struct{}{}
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Len(t, ids, 1)
	})

	t.Run("link provider to existing user", func(t *testing.T) {
		s := factory(t)
		user, err := s.FindOrCreateUser(ctx, &providers.Profile{Provider: "github", ProviderID: "7", DisplayName: "Bob"})
		require.NoError(t, err)

		linked, err := s.FindOrCreateUser(ctx, &providers.Profile{Provider: "gitlab", ProviderID: "x", UserID: user.ID})
		require.NoError(t, err)
		assert.Equal(t, user.ID, linked.ID)

		viaNew, err := s.FindOrCreateUser(ctx, &providers.Profile{Provider: "gitlab", ProviderID: "x"})
		require.NoError(t, err)
		assert.Equal(t, user.ID, viaNew.ID)
	})

	t.Run("link to missing user", func(t *testing.T) {
		s := factory(t)
		_, err := s.FindOrCreateUser(ctx, &providers.Profile{Provider: "github", ProviderID: "9", UserID: uuid.NewString()})
		assert.ErrorIs(t, err, storage.ErrUserNotFound)
	})

	t.Run("unknown user", func(t *testing.T) {
		s := factory(t)
		_, err := s.GetUser(ctx, uuid.NewString())
		assert.ErrorIs(t, err, storage.ErrUserNotFound)
	})

	t.Run("incomplete profile", func(t *testing.T) {
		s := factory(t)
		_, err := s.FindOrCreateUser(ctx, &providers.Profile{Provider: "github"})
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
	})
}
