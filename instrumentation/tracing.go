package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never record actual credential values (access tokens, refresh
// tokens, authorization codes, client secrets) in traces or metrics. Only record
// metadata such as grant types, identifiers and validation results.
const (
	// OAuth flow attributes
	AttrClientID   = "oauth.client_id"  // Client identifier (non-secret)
	AttrUserID     = "oauth.user_id"    // User identifier (non-secret)
	AttrGrantType  = "oauth.grant_type" // OAuth grant type
	AttrCodeReuse  = "oauth.code.reuse" // Whether code reuse was detected
	AttrTokenKind  = "oauth.token.kind" //nolint:gosec // accessToken or refreshToken, not the token
	AttrError      = "oauth.error"      // Error code
	AttrMismatchOn = "oauth.mismatch"   // Which binding failed: client_id, redirect_uri

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrRateLimiterType = "security.rate_limiter.type"
	AttrClientIP        = "security.client_ip"
	AttrAuditEventType  = "security.audit.event_type"

	// HTTP attributes
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddGrantAttributes adds common grant attributes to a span (nil-safe)
func AddGrantAttributes(span trace.Span, grantType, clientID, userID string) {
	if grantType != "" {
		SetSpanAttributes(span, attribute.String(AttrGrantType, grantType))
	}
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe).
// Callers must check ShouldLogClientIPs first.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
