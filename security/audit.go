package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor writes security events to a structured logger.
// User ids are hashed before they reach the log.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	now     func() time.Time
	onEvent func(ctx context.Context, eventType string)
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// OnEvent registers a hook called for every emitted event, typically a metrics counter.
func (a *Auditor) OnEvent(fn func(ctx context.Context, eventType string)) {
	a.onEvent = fn
}

// Event is a single audit record
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	RequestID string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with the user id hashed
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = a.now()
	if event.RequestID == "" {
		event.RequestID = GetRequestID(ctx)
	}

	attrs := []any{
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"timestamp", event.Timestamp,
	}
	if event.IPAddress != "" {
		attrs = append(attrs, "ip_address", event.IPAddress)
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, "details", event.Details)
	}

	a.logger.InfoContext(ctx, "security_audit", attrs...)

	if a.onEvent != nil {
		a.onEvent(ctx, event.Type)
	}
}

// LogCodeIssued logs when an authorization code is issued
func (a *Auditor) LogCodeIssued(ctx context.Context, userID, clientID string) {
	a.LogEvent(ctx, Event{Type: EventCodeIssued, UserID: userID, ClientID: clientID})
}

// LogTokenIssued logs when a token pair is issued by the implicit grant
func (a *Auditor) LogTokenIssued(ctx context.Context, userID, clientID string) {
	a.LogEvent(ctx, Event{Type: EventTokenIssued, UserID: userID, ClientID: clientID})
}

// LogCodeExchanged logs a successful authorization code exchange
func (a *Auditor) LogCodeExchanged(ctx context.Context, userID, clientID string) {
	a.LogEvent(ctx, Event{Type: EventCodeExchanged, UserID: userID, ClientID: clientID})
}

// LogTokenRefreshed logs a successful refresh token rotation
func (a *Auditor) LogTokenRefreshed(ctx context.Context, userID, clientID string) {
	a.LogEvent(ctx, Event{Type: EventTokenRefreshed, UserID: userID, ClientID: clientID})
}

// LogTokenRevoked logs a revocation. reason is "rotation", "code_reuse" or "operator".
func (a *Auditor) LogTokenRevoked(ctx context.Context, userID, clientID, reason string, count int) {
	a.LogEvent(ctx, Event{
		Type:     EventTokenRevoked,
		UserID:   userID,
		ClientID: clientID,
		Details:  map[string]any{"reason": reason, "count": count},
	})
}

// LogClientCreated logs a new client registration
func (a *Auditor) LogClientCreated(ctx context.Context, ownerID, clientID string) {
	a.LogEvent(ctx, Event{Type: EventClientCreated, UserID: ownerID, ClientID: clientID})
}

// LogClientUpdated logs a change to a client's mutable fields
func (a *Auditor) LogClientUpdated(ctx context.Context, clientID string, fields ...string) {
	a.LogEvent(ctx, Event{
		Type:     EventClientUpdated,
		ClientID: clientID,
		Details:  map[string]any{"fields": fields},
	})
}

// LogClientSecretRegenerated logs a secret rotation
func (a *Auditor) LogClientSecretRegenerated(ctx context.Context, clientID string) {
	a.LogEvent(ctx, Event{Type: EventClientSecretRegenerated, ClientID: clientID})
}

// LogAuthFailure logs a client authentication failure
func (a *Auditor) LogAuthFailure(ctx context.Context, clientID, ipAddress, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogCodeReuseDetected logs a second presentation of an authorization code
func (a *Auditor) LogCodeReuseDetected(ctx context.Context, userID, clientID string) {
	a.LogEvent(ctx, Event{Type: EventCodeReuseDetected, UserID: userID, ClientID: clientID})
}

// LogClientMismatch logs a grant presented by the wrong client or with the wrong redirect URI.
// expected and presented are client ids or redirect URIs, depending on field.
func (a *Auditor) LogClientMismatch(ctx context.Context, grantType, field, expected, presented string) {
	a.LogEvent(ctx, Event{
		Type:     EventClientMismatch,
		ClientID: presented,
		Details: map[string]any{
			"grant_type": grantType,
			"field":      field,
			"expected":   expected,
			"presented":  presented,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ctx context.Context, ipAddress string) {
	a.LogEvent(ctx, Event{Type: EventRateLimitExceeded, IPAddress: ipAddress})
}

// hashForLogging creates a short SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
