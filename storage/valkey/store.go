package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/kv-oauth/instrumentation"
	"github.com/giantswarm/kv-oauth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "kvoauth:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Username is the optional ACL user
	Username string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "kvoauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// ConfigFromURL builds a Config from a redis:// or rediss:// URL.
// A rediss URL enables TLS with the system roots.
func ConfigFromURL(rawURL string) (Config, error) {
	opt, err := valkeygo.ParseURL(rawURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid valkey url: %w", err)
	}
	if len(opt.InitAddress) == 0 {
		return Config{}, fmt.Errorf("invalid valkey url: no address")
	}
	return Config{
		Address:  opt.InitAddress[0],
		Username: opt.Username,
		Password: opt.Password,
		DB:       opt.SelectDB,
		TLS:      opt.TLSConfig,
	}, nil
}

// Store is a Valkey-backed implementation of storage.Store.
//
// Single-key reads are plain commands. Every write that touches more than one
// key runs either as a Lua script (when it must read before it writes) or as a
// MULTI/EXEC batch (when it only writes).
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.TokenLedger = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := valkeygo.NewClient(clientOption(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix,
		"tls", cfg.TLS != nil)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// clientOption maps cfg onto valkey-go options. Scripts and MULTI/EXEC batches
// span keys in different slots, so cluster discovery is switched off.
func clientOption(cfg Config) valkeygo.ClientOption {
	return valkeygo.ClientOption{
		InitAddress:       []string{cfg.Address},
		SelectDB:          cfg.DB,
		Username:          cfg.Username,
		Password:          cfg.Password,
		TLSConfig:         cfg.TLS,
		ForceSingleClient: true,
	}
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetInstrumentation enables storage spans and operation metrics.
// Call before the store is shared between goroutines.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return s.prefix + "client:" + clientID
}

// ownerClientsKey returns {prefix}clients:{ownerID}
func (s *Store) ownerClientsKey(ownerID string) string {
	return s.prefix + "clients:" + ownerID
}

// codeKey returns {prefix}authorizationCode:{code}
func (s *Store) codeKey(code string) string {
	return s.prefix + "authorizationCode:" + code
}

// tokenKey returns {prefix}accessToken:{token} or {prefix}refreshToken:{token}
func (s *Store) tokenKey(kind storage.TokenKind, token string) string {
	return s.tokenKeyPrefix(kind) + token
}

// tokenKeyPrefix is passed to scripts that derive record keys from set members
func (s *Store) tokenKeyPrefix(kind storage.TokenKind) string {
	return s.prefix + string(kind) + ":"
}

// userTokensKey returns {prefix}accessTokens:{userID} or {prefix}refreshTokens:{userID}
func (s *Store) userTokensKey(kind storage.TokenKind, userID string) string {
	return s.userTokensKeyPrefix(kind) + userID
}

func (s *Store) userTokensKeyPrefix(kind storage.TokenKind) string {
	return s.prefix + string(kind) + "s:"
}

// indexKey returns {prefix}accessTokenIndex:{pairID} or {prefix}refreshTokenIndex:{pairID}
func (s *Store) indexKey(kind storage.TokenKind, pairID string) string {
	return s.indexKeyPrefix(kind) + pairID
}

func (s *Store) indexKeyPrefix(kind storage.TokenKind) string {
	return s.prefix + string(kind) + "Index:"
}

// userKey returns {prefix}user:{userID}
func (s *Store) userKey(userID string) string {
	return s.prefix + "user:" + userID
}

// profileKey returns {prefix}profile:{provider}:{providerID}
func (s *Store) profileKey(profileKey string) string {
	return s.prefix + "profile:" + profileKey
}

// connectionsKey returns {prefix}connections:{userID}
func (s *Store) connectionsKey(userID string) string {
	return s.prefix + "connections:" + userID
}

// ============================================================
// Encoding Helpers
// ============================================================

// Timestamps are stored as unix milliseconds.
func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTime(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBool(v string) bool {
	return v == "1" || v == "true"
}

// pairsToMap converts a flat [field, value, ...] reply into a map
func pairsToMap(flat []string) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return m
}

// execMulti runs cmds inside MULTI/EXEC and returns the first error, including
// errors of commands that failed inside EXEC.
func (s *Store) execMulti(ctx context.Context, cmds ...valkeygo.Completed) error {
	batch := make([]valkeygo.Completed, 0, len(cmds)+2)
	batch = append(batch, s.client.B().Multi().Build())
	batch = append(batch, cmds...)
	batch = append(batch, s.client.B().Exec().Build())

	resps := s.client.DoMulti(ctx, batch...)
	for _, resp := range resps {
		if err := resp.Error(); err != nil {
			return err
		}
	}

	results, err := resps[len(resps)-1].ToArray()
	if err != nil {
		if isNilError(err) {
			return fmt.Errorf("transaction aborted")
		}
		return err
	}
	for i := range results {
		if err := results[i].Error(); err != nil {
			return fmt.Errorf("command %d in transaction: %w", i+1, err)
		}
	}
	return nil
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// observe wraps a storage operation in a span and records its outcome.
func (s *Store) observe(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if s.tracer == nil {
		return fn(ctx)
	}

	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	defer span.End()
	instrumentation.AddStorageAttributes(span, operation, "valkey")

	start := time.Now()
	err := fn(ctx)

	result := "success"
	if err != nil && !storage.IsNotFoundError(err) {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(start).Milliseconds()))
	return err
}
