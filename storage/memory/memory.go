// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
//
// Every method runs as one critical section, which gives each multi-key write the
// same all-or-nothing visibility a MULTI/EXEC batch or Lua script gives in Valkey.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/kv-oauth/instrumentation"
	"github.com/giantswarm/kv-oauth/internal/util"
	"github.com/giantswarm/kv-oauth/providers"
	"github.com/giantswarm/kv-oauth/storage"
)

type codeEntry struct {
	code      storage.AuthorizationCode
	expiresAt time.Time // zero means no expiry
}

type set map[string]struct{}

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.RWMutex

	// Clients and the per-owner client sets
	clients      map[string]*storage.Client
	ownerClients map[string]set

	// Authorization codes
	codes map[string]*codeEntry

	// Tokens by kind: value -> record, user -> token set, pair -> current token
	tokens     map[storage.TokenKind]map[string]*storage.Token
	userTokens map[storage.TokenKind]map[string]set
	index      map[storage.TokenKind]map[string]string

	// Users and provider connections
	users       map[string]*providers.User
	profiles    map[string]*providers.Profile
	connections map[string]set

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	tokensCountAtomic  atomic.Int64
	clientsCountAtomic atomic.Int64
	codesCountAtomic   atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once

	now    func() time.Time
	logger *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.TokenLedger = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:      make(map[string]*storage.Client),
		ownerClients: make(map[string]set),
		codes:        make(map[string]*codeEntry),
		tokens: map[storage.TokenKind]map[string]*storage.Token{
			storage.TokenKindAccess:  {},
			storage.TokenKindRefresh: {},
		},
		userTokens: map[storage.TokenKind]map[string]set{
			storage.TokenKindAccess:  {},
			storage.TokenKindRefresh: {},
		},
		index: map[storage.TokenKind]map[string]string{
			storage.TokenKindAccess:  {},
			storage.TokenKindRefresh: {},
		},
		users:           make(map[string]*providers.User),
		profiles:        make(map[string]*providers.Profile),
		connections:     make(map[string]set),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock replaces the time source. Used by tests to expire codes deterministically.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.tokensCountAtomic.Store(int64(len(s.tokens[storage.TokenKindAccess]) + len(s.tokens[storage.TokenKindRefresh])))
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.tokensCountAtomic.Load() },
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// ClientStore Implementation
// ============================================================

// CreateClient stores a new client, enforcing the per-owner quota
func (s *Store) CreateClient(ctx context.Context, client *storage.Client, maxPerOwner int) (err error) {
	ctx, span := s.startStorageSpan(ctx, "create_client")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "create_client", err, start) }(time.Now())

	if client == nil || client.ID == "" {
		return fmt.Errorf("%w: client ID is required", storage.ErrInvalidInput)
	}
	if err := storage.ValidateLength(client.ID, storage.MaxIDLength, "client ID"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ID]; exists {
		return storage.ErrClientExists
	}
	owned := s.ownerClients[client.Owner]
	if maxPerOwner > 0 && len(owned) >= maxPerOwner {
		return storage.ErrClientQuotaExceeded
	}
	if owned == nil {
		owned = make(set)
		s.ownerClients[client.Owner] = owned
	}

	c := *client
	s.clients[c.ID] = &c
	owned[c.ID] = struct{}{}
	s.clientsCountAtomic.Store(int64(len(s.clients)))

	s.logger.Debug("Saved client", "client_id", c.ID, "owner", c.Owner)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	out := *c
	return &out, nil
}

// UpdateClient applies a partial update to an existing client
func (s *Store) UpdateClient(ctx context.Context, clientID string, update storage.ClientUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[clientID]
	if !ok {
		return storage.ErrClientNotFound
	}
	if update.Name != nil {
		c.Name = *update.Name
	}
	if update.RedirectURI != nil {
		c.RedirectURI = *update.RedirectURI
	}
	if update.SecretHash != nil {
		c.SecretHash = *update.SecretHash
	}
	if update.Trusted != nil {
		c.Trusted = *update.Trusted
	}
	return nil
}

// DeleteClient removes a client and its owner set membership
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[clientID]
	if !ok {
		return storage.ErrClientNotFound
	}
	delete(s.clients, clientID)
	if owned := s.ownerClients[c.Owner]; owned != nil {
		delete(owned, clientID)
		if len(owned) == 0 {
			delete(s.ownerClients, c.Owner)
		}
	}
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	return nil
}

// ListClientsByOwner returns the owner's clients ordered by creation time
func (s *Store) ListClientsByOwner(ctx context.Context, ownerID string) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := s.ownerClients[ownerID]
	clients := make([]*storage.Client, 0, len(owned))
	for id := range owned {
		if c, ok := s.clients[id]; ok {
			out := *c
			clients = append(clients, &out)
		}
	}
	sort.Slice(clients, func(i, j int) bool {
		if clients[i].CreatedAt.Equal(clients[j].CreatedAt) {
			return clients[i].ID < clients[j].ID
		}
		return clients[i].CreatedAt.Before(clients[j].CreatedAt)
	})
	return clients, nil
}

// ============================================================
// TokenLedger Implementation: authorization codes
// ============================================================

// SaveAuthorizationCode stores an authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode, ttl time.Duration) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_code")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "save_code", err, start) }(time.Now())

	if code == nil || code.Code == "" {
		return fmt.Errorf("%w: code is required", storage.ErrInvalidInput)
	}
	if err := storage.ValidateLength(code.Code, storage.MaxTokenLength, "code"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &codeEntry{code: *code}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.codes[code.Code] = entry
	s.codesCountAtomic.Store(int64(len(s.codes)))

	s.logger.Debug("Saved authorization code",
		"code_fp", util.Fingerprint(code.Code),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.codes[code]
	if !ok || s.expired(entry) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	out := entry.code
	return &out, nil
}

// ConsumeAuthorizationCode atomically checks that a code is unused and marks it used.
// The code is only returned alongside ErrAuthorizationCodeUsed on reuse so the caller
// can revoke tokens minted from it.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_code")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "consume_code", err, start) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[code]
	if !ok || s.expired(entry) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	if entry.code.Used {
		out := entry.code
		return &out, storage.ErrAuthorizationCodeUsed
	}

	entry.code.Used = true
	s.logger.Debug("Marked authorization code as used",
		"code_fp", util.Fingerprint(code))

	out := entry.code
	return &out, nil
}

func (s *Store) expired(entry *codeEntry) bool {
	return !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt)
}

// ============================================================
// TokenLedger Implementation: access and refresh tokens
// ============================================================

// SaveToken stores a token and points the (user, client) index at it,
// retiring whichever token the index pointed at before.
func (s *Store) SaveToken(ctx context.Context, kind storage.TokenKind, token *storage.Token) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_token")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "save_token", err, start) }(time.Now())

	if err := validateToken(kind, token); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pair := storage.PairID(token.UserID, token.ClientID)
	if previous := s.index[kind][pair]; previous != "" && previous != token.Value {
		s.deleteTokenLocked(kind, previous, token.UserID)
		s.logger.Debug("Retired previous token for pair",
			"kind", kind,
			"token_fp", util.Fingerprint(previous))
	}

	t := *token
	s.tokens[kind][t.Value] = &t
	s.userSet(kind, t.UserID)[t.Value] = struct{}{}
	s.index[kind][pair] = t.Value
	s.updateTokenCount()

	return nil
}

// GetToken looks a token up by value
func (s *Store) GetToken(ctx context.Context, kind storage.TokenKind, token string) (*storage.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[kind][token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	out := *t
	return &out, nil
}

// FindTokenByIDs returns the token the (user, client) index currently points at
func (s *Store) FindTokenByIDs(ctx context.Context, kind storage.TokenKind, userID, clientID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.index[kind][storage.PairID(userID, clientID)]
	if !ok {
		return "", storage.ErrTokenNotFound
	}
	return token, nil
}

// RemoveTokenByIDs revokes a token, clearing the reverse index only when it
// points at this token or at a record that no longer exists
func (s *Store) RemoveTokenByIDs(ctx context.Context, kind storage.TokenKind, token, userID, clientID string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "remove_token")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "remove_token", err, start) }(time.Now())

	if !kind.Valid() {
		return fmt.Errorf("%w: unknown token kind %q", storage.ErrInvalidInput, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pair := storage.PairID(userID, clientID)
	indexed := s.index[kind][pair]

	s.deleteTokenLocked(kind, token, userID)

	switch {
	case indexed == "":
	case indexed == token:
		delete(s.index[kind], pair)
	default:
		if _, live := s.tokens[kind][indexed]; !live {
			delete(s.index[kind], pair)
			s.removeFromUserSet(kind, userID, indexed)
		}
	}
	s.updateTokenCount()
	return nil
}

// ConsumeToken atomically deletes a token if it was issued to clientID
func (s *Store) ConsumeToken(ctx context.Context, kind storage.TokenKind, token, clientID string) (_ *storage.Token, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_token")
	defer span.End()
	defer func(start time.Time) { s.recordStorageOperation(ctx, span, "consume_token", err, start) }(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[kind][token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	out := *t
	if t.ClientID != clientID {
		return &out, storage.ErrTokenClientMismatch
	}

	s.deleteTokenLocked(kind, token, t.UserID)
	pair := storage.PairID(t.UserID, t.ClientID)
	if s.index[kind][pair] == token {
		delete(s.index[kind], pair)
	}
	s.updateTokenCount()
	return &out, nil
}

// RevokeTokensForUser removes all access and refresh tokens of a user
func (s *Store) RevokeTokensForUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, kind := range []storage.TokenKind{storage.TokenKindAccess, storage.TokenKindRefresh} {
		for token := range s.userTokens[kind][userID] {
			if t, ok := s.tokens[kind][token]; ok {
				pair := storage.PairID(t.UserID, t.ClientID)
				if s.index[kind][pair] == token {
					delete(s.index[kind], pair)
				}
				delete(s.tokens[kind], token)
				revoked++
			}
		}
		delete(s.userTokens[kind], userID)
	}
	s.updateTokenCount()

	s.logger.Info("Revoked all tokens for user", "user_id", userID, "tokens_revoked", revoked)
	return revoked, nil
}

func validateToken(kind storage.TokenKind, token *storage.Token) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown token kind %q", storage.ErrInvalidInput, kind)
	}
	if token == nil || token.Value == "" || token.UserID == "" || token.ClientID == "" {
		return fmt.Errorf("%w: token value, user ID and client ID are required", storage.ErrInvalidInput)
	}
	if err := storage.ValidateLength(token.Value, storage.MaxTokenLength, "token"); err != nil {
		return err
	}
	if err := storage.ValidateLength(token.UserID, storage.MaxIDLength, "user ID"); err != nil {
		return err
	}
	return storage.ValidateLength(token.ClientID, storage.MaxIDLength, "client ID")
}

// deleteTokenLocked removes a token record and its user set membership. Caller holds s.mu.
func (s *Store) deleteTokenLocked(kind storage.TokenKind, token, userID string) {
	delete(s.tokens[kind], token)
	s.removeFromUserSet(kind, userID, token)
}

func (s *Store) removeFromUserSet(kind storage.TokenKind, userID, token string) {
	if members := s.userTokens[kind][userID]; members != nil {
		delete(members, token)
		if len(members) == 0 {
			delete(s.userTokens[kind], userID)
		}
	}
}

func (s *Store) userSet(kind storage.TokenKind, userID string) set {
	members := s.userTokens[kind][userID]
	if members == nil {
		members = make(set)
		s.userTokens[kind][userID] = members
	}
	return members
}

func (s *Store) updateTokenCount() {
	s.tokensCountAtomic.Store(int64(len(s.tokens[storage.TokenKindAccess]) + len(s.tokens[storage.TokenKindRefresh])))
}

// ============================================================
// UserStore Implementation
// ============================================================

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (*providers.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

// FindOrCreateUser returns the user linked to a provider profile, creating
// the user and the link on first sight
func (s *Store) FindOrCreateUser(ctx context.Context, profile *providers.Profile) (*providers.User, error) {
	if profile == nil || profile.Provider == "" || profile.ProviderID == "" {
		return nil, fmt.Errorf("%w: provider and provider ID are required", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := profile.Key()

	var user *providers.User
	switch {
	case profile.UserID != "":
		u, ok := s.users[profile.UserID]
		if !ok {
			return nil, storage.ErrUserNotFound
		}
		user = u
	case s.profiles[key] != nil:
		u, ok := s.users[s.profiles[key].UserID]
		if !ok {
			return nil, fmt.Errorf("%w: profile %s points at a missing user", storage.ErrUserNotFound, key)
		}
		user = u
	default:
		user = &providers.User{
			ID:    uuid.NewString(),
			Name:  profile.DisplayName,
			Email: profile.Email,
		}
		s.users[user.ID] = user
		s.logger.Info("Created user from provider profile", "user_id", user.ID, "provider", profile.Provider)
	}

	p := *profile
	p.UserID = user.ID
	s.profiles[key] = &p
	conns := s.connections[user.ID]
	if conns == nil {
		conns = make(set)
		s.connections[user.ID] = conns
	}
	conns[key] = struct{}{}

	out := *user
	return &out, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	for code, entry := range s.codes {
		if s.expired(entry) {
			delete(s.codes, code)
			cleaned++
		}
	}
	s.codesCountAtomic.Store(int64(len(s.codes)))

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired authorization codes", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation.
// Without a tracer it returns a non-recording span so the caller's span is never ended here.
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}

	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
