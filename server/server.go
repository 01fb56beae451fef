package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/kv-oauth/instrumentation"
	"github.com/giantswarm/kv-oauth/providers"
	"github.com/giantswarm/kv-oauth/security"
	"github.com/giantswarm/kv-oauth/storage"
)

// Server implements the authorization server core: the grant engine and the
// client registry over a credential store.
type Server struct {
	ledger    storage.TokenLedger
	users     providers.UserProvider
	federator providers.Federator

	// Clients is the client registry sharing this server's store and hasher
	Clients *ClientRegistry

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	tracer trace.Tracer
	now    func() time.Time
}

// New creates a new authorization server.
// users resolves bearer token owners and federates login profiles.
func New(
	clientStore storage.ClientStore,
	ledger storage.TokenLedger,
	users storage.UserStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("token ledger is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applyDefaults(config, logger)

	srv := &Server{
		ledger:    ledger,
		users:     users,
		federator: users,
		Config:    config,
		Logger:    logger,
		now:       time.Now,
	}
	srv.Clients = newClientRegistry(clientStore, security.NewHasher(config.HashParams), srv)
	return srv, nil
}

// NewFromStore creates a server whose clients, ledger and users all live in one store
func NewFromStore(store storage.Store, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return New(store, store, store, config, logger)
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables metrics and tracing for grant flows
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	} else {
		s.tracer = nil
	}
}

// SetClock overrides the time source. Intended for tests.
func (s *Server) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// storeContext derives the context for one store call: detached from the
// caller's cancellation and bounded by StoreTimeout
func (s *Server) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.Config.StoreTimeout)
}

// metrics returns the metrics recorder, or nil when instrumentation is off
func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

// startSpan starts a span for a grant operation. Without a tracer the span is
// non-recording.
func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return s.tracer.Start(ctx, name)
}

// randomCredential mints a hex credential of n random bytes
func randomCredential(n int) (string, error) {
	v, err := security.RandomToken(n)
	if err != nil {
		return "", fmt.Errorf("failed to generate credential: %w", err)
	}
	return v, nil
}
