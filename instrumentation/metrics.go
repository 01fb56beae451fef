package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the OAuth server
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Grant Metrics
	CodeIssued       metric.Int64Counter
	ImplicitGranted  metric.Int64Counter
	CodeExchanged    metric.Int64Counter
	TokenRefreshed   metric.Int64Counter
	TokenRevoked     metric.Int64Counter
	ClientRegistered metric.Int64Counter
	SecretRotated    metric.Int64Counter

	// Security Metrics
	RateLimitExceeded metric.Int64Counter
	CodeReuseDetected metric.Int64Counter
	GrantMismatch     metric.Int64Counter
	ClientAuthFailed  metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageTokensCount       metric.Int64ObservableGauge
	StorageClientsCount      metric.Int64ObservableGauge
	StorageCodesCount        metric.Int64ObservableGauge

	// Audit Metrics
	AuditEventsTotal metric.Int64Counter
}

type counterSpec struct {
	dst   *metric.Int64Counter
	scope string
	name  string
	desc  string
	unit  string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, "http", "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.CodeIssued, "server", "oauth.code.issued", "Number of authorization codes issued", "{code}"},
		{&m.ImplicitGranted, "server", "oauth.implicit.granted", "Number of token pairs issued by the implicit grant", "{grant}"},
		{&m.CodeExchanged, "server", "oauth.code.exchanged", "Number of authorization codes exchanged for tokens", "{exchange}"},
		{&m.TokenRefreshed, "server", "oauth.token.refreshed", "Number of refresh token rotations", "{refresh}"},
		{&m.TokenRevoked, "server", "oauth.token.revoked", "Number of tokens revoked", "{revocation}"},
		{&m.ClientRegistered, "server", "oauth.client.registered", "Number of clients registered", "{client}"},
		{&m.SecretRotated, "server", "oauth.client.secret_rotated", "Number of client secrets regenerated", "{rotation}"},
		{&m.RateLimitExceeded, "security", "oauth.rate_limit.exceeded", "Number of requests rejected by rate limiting", "{request}"},
		{&m.CodeReuseDetected, "security", "oauth.code.reuse_detected", "Number of authorization code replays", "{event}"},
		{&m.GrantMismatch, "security", "oauth.grant.mismatch", "Number of grants rejected for client or redirect URI mismatch", "{event}"},
		{&m.ClientAuthFailed, "security", "oauth.client.auth_failed", "Number of failed client authentications", "{event}"},
		{&m.StorageOperationTotal, "storage", "storage.operation.total", "Total number of storage operations", "{operation}"},
		{&m.AuditEventsTotal, "security", "audit.events.total", "Total number of audit events", "{event}"},
	}

	for _, c := range counters {
		counter, err := inst.Meter(c.scope).Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	m.HTTPRequestDuration, err = inst.Meter("http").Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = inst.Meter("storage").Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	storageMeter := inst.Meter("storage")
	m.StorageTokensCount, err = storageMeter.Int64ObservableGauge(
		"storage.tokens.count",
		metric.WithDescription("Number of stored access and refresh tokens"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.tokens.count gauge: %w", err)
	}

	m.StorageClientsCount, err = storageMeter.Int64ObservableGauge(
		"storage.clients.count",
		metric.WithDescription("Number of registered clients"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.clients.count gauge: %w", err)
	}

	m.StorageCodesCount, err = storageMeter.Int64ObservableGauge(
		"storage.codes.count",
		metric.WithDescription("Number of pending authorization codes"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.codes.count gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordCodeIssued records an authorization code grant
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	m.CodeIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordImplicitGrant records an implicit grant
func (m *Metrics) RecordImplicitGrant(ctx context.Context, clientID string) {
	m.ImplicitGranted.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID string) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordTokenRefresh records a refresh token rotation
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordTokenRevocation records revoked tokens
func (m *Metrics) RecordTokenRevocation(ctx context.Context, reason string, count int) {
	m.TokenRevoked.Add(ctx, int64(count), metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context) {
	m.ClientRegistered.Add(ctx, 1)
}

// RecordSecretRotation records a client secret regeneration
func (m *Metrics) RecordSecretRotation(ctx context.Context, clientID string) {
	m.SecretRotated.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordRateLimitExceeded records a rate limit rejection
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("limiter_type", limiterType)))
}

// RecordCodeReuseDetected records an authorization code replay
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordGrantMismatch records a grant rejected because of a client or redirect mismatch
func (m *Metrics) RecordGrantMismatch(ctx context.Context, grantType, reason string) {
	m.GrantMismatch.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("reason", reason),
	))
}

// RecordClientAuthFailed records a failed client authentication
func (m *Metrics) RecordClientAuthFailed(ctx context.Context, reason string) {
	m.ClientAuthFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}
