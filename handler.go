package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/kv-oauth/instrumentation"
	"github.com/giantswarm/kv-oauth/internal/util"
	"github.com/giantswarm/kv-oauth/providers"
	"github.com/giantswarm/kv-oauth/security"
	"github.com/giantswarm/kv-oauth/server"
	"github.com/giantswarm/kv-oauth/storage"
)

const (
	endpointToken = "token"
	endpointUser  = "user"

	// longest grant_type value echoed into logs
	maxLoggedParamLength = 64

	retryAfterSeconds = "1"
)

// Handler is a thin HTTP adapter for the OAuth Server.
// It handles HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server      *server.Server
	config      *Config
	rateLimiter *security.RateLimiter
	logger      *slog.Logger
	tracer      trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler. Call Close to stop the rate limiter sweep.
func NewHandler(srv *server.Server, config *Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	config = applyHandlerDefaults(config)

	h := &Handler{
		server: srv,
		config: config,
		logger: logger,
	}

	if config.RateLimit.enabled() {
		h.rateLimiter = security.NewRateLimiter(security.RateLimiterConfig{
			RequestsPerSecond: config.RateLimit.Rate,
			Burst:             config.RateLimit.Burst,
			MaxEntries:        config.RateLimit.MaxTrackedIPs,
			SweepInterval:     config.RateLimit.CleanupInterval,
			Logger:            logger,
		})
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// Close releases the handler's background resources
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// ServeToken handles POST /oauth2/token for the authorization_code and
// refresh_token grants.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token")
		defer span.End()
	}

	status := h.serveToken(ctx, w, r, span)
	h.recordHTTPMetrics(ctx, endpointToken, r.Method, status, startTime)
	instrumentation.AddHTTPAttributes(span, r.Method, endpointToken, status)
}

func (h *Handler) serveToken(ctx context.Context, w http.ResponseWriter, r *http.Request, span trace.Span) int {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return http.StatusMethodNotAllowed
	}

	clientIP := security.ClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
	if h.shouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, clientIP)
	}

	if h.checkIPRateLimit(ctx, w, clientIP) {
		return http.StatusTooManyRequests
	}

	if err := r.ParseForm(); err != nil {
		return h.writeError(w, ErrInvalidRequest("Failed to parse request"))
	}

	grantType := r.PostFormValue("grant_type")
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, util.SafeTruncate(grantType, maxLoggedParamLength)))

	switch grantType {
	case server.GrantTypeAuthorizationCode, server.GrantTypeRefreshToken:
	case "":
		return h.writeError(w, ErrInvalidRequest("Required parameter 'grant_type' missing"))
	default:
		h.logger.Debug("Unsupported grant type requested",
			"grant_type", util.SafeTruncate(grantType, maxLoggedParamLength),
			"ip", clientIP)
		return h.writeError(w, ErrUnsupportedGrantType("Grant type not supported"))
	}

	client, err := h.authenticateClient(ctx, r, clientIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "client authentication failed")
		return h.writeServerError(w, err)
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.ID))

	var token *oauth2.Token
	switch grantType {
	case server.GrantTypeAuthorizationCode:
		code := r.PostFormValue("code")
		if code == "" {
			return h.writeError(w, ErrInvalidRequest("Required parameter 'code' missing"))
		}
		token, err = h.server.ExchangeCode(ctx, client, code, r.PostFormValue("redirect_uri"))

	case server.GrantTypeRefreshToken:
		refreshToken := r.PostFormValue("refresh_token")
		if refreshToken == "" {
			return h.writeError(w, ErrInvalidRequest("Required parameter 'refresh_token' missing"))
		}
		token, err = h.server.ExchangeRefreshToken(ctx, client, refreshToken)
	}

	if err != nil {
		h.logger.Warn("Token request failed",
			"grant_type", grantType,
			"client_id", client.ID,
			"ip", clientIP,
			"error", err)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "grant failed")
		return h.writeServerError(w, err)
	}

	h.logger.Info("Token request successful", "grant_type", grantType, "client_id", client.ID, "ip", clientIP)
	instrumentation.SetSpanSuccess(span)

	h.writeTokenResponse(w, token)
	return http.StatusOK
}

// authenticateClient validates client credentials from either Basic Auth or form parameters
func (h *Handler) authenticateClient(ctx context.Context, r *http.Request, clientIP string) (*storage.Client, error) {
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostFormValue("client_id")
		clientSecret = r.PostFormValue("client_secret")
	}

	if clientID == "" || clientSecret == "" {
		h.logAuthFailure(ctx, clientID, clientIP, "missing_credentials")
		return nil, ErrInvalidClient("Client authentication required")
	}

	client, err := h.server.Clients.Authenticate(ctx, clientID, clientSecret)
	if err != nil {
		if errors.Is(err, server.ErrStorage) {
			return nil, err
		}
		h.logAuthFailure(ctx, clientID, clientIP, "bad_credentials")
		return nil, ErrInvalidClient("Client authentication failed")
	}
	return client, nil
}

// logAuthFailure logs and audits a failed client authentication
func (h *Handler) logAuthFailure(ctx context.Context, clientID, clientIP, reason string) {
	clientID = util.SafeTruncate(clientID, maxLoggedParamLength)
	h.logger.Warn("Client authentication failed", "client_id", clientID, "ip", clientIP, "reason", reason)
	h.server.Auditor.LogAuthFailure(ctx, clientID, clientIP, reason)
}

// ValidateToken is middleware that validates bearer access tokens and
// places the token's user in the request context
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		clientIP := security.ClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)

		if h.checkIPRateLimit(ctx, w, clientIP) {
			return
		}

		accessToken, ok := extractBearerToken(r)
		if !ok {
			h.writeUnauthorizedError(w, ErrInvalidToken("Missing or malformed Authorization header"))
			return
		}

		user, err := h.server.ValidateAccessToken(ctx, accessToken)
		if err != nil {
			if errors.Is(err, server.ErrStorage) {
				h.writeServerError(w, err)
				return
			}
			h.logger.Debug("Token validation failed",
				"ip", clientIP,
				"token_fp", util.Fingerprint(accessToken))
			h.writeUnauthorizedError(w, ErrInvalidToken("Token validation failed"))
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUser(ctx, user)))
	})
}

// ServeUser writes the authenticated user as JSON. Mount behind ValidateToken.
func (h *Handler) ServeUser(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	user, ok := UserFromContext(r.Context())
	if !ok || user == nil {
		h.writeUnauthorizedError(w, ErrInvalidToken("Authentication required"))
		h.recordHTTPMetrics(r.Context(), endpointUser, r.Method, http.StatusUnauthorized, startTime)
		return
	}

	security.SetSecurityHeaders(w, h.config.HTTPS)
	security.SetNoStoreHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(UserResponse{ID: user.ID, Name: user.Name, Email: user.Email})

	h.recordHTTPMetrics(r.Context(), endpointUser, r.Method, http.StatusOK, startTime)
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(ctx context.Context, w http.ResponseWriter, clientIP string) bool {
	if h.rateLimiter == nil || h.rateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP)
	if m := h.metrics(); m != nil {
		m.RecordRateLimitExceeded(ctx, "ip")
	}
	h.server.Auditor.LogRateLimitExceeded(ctx, clientIP)

	w.Header().Set("Retry-After", retryAfterSeconds)
	h.writeError(w, ErrSlowDown())
	return true
}

// extractBearerToken extracts the token from an "Authorization: Bearer" header
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *oauth2.Token) {
	security.SetSecurityHeaders(w, h.config.HTTPS)
	security.SetNoStoreHeaders(w)

	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = server.TokenTypeBearer
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    tokenType,
	})
}

// writeServerError classifies err and writes the matching OAuth error
func (h *Handler) writeServerError(w http.ResponseWriter, err error) int {
	return h.writeError(w, ErrorFrom(err))
}

// writeError writes an OAuth error response and returns its status
func (h *Handler) writeError(w http.ResponseWriter, oauthErr *Error) int {
	security.SetSecurityHeaders(w, h.config.HTTPS)
	security.SetNoStoreHeaders(w)

	if oauthErr.Code == ErrorCodeInvalidClient && w.Header().Get("WWW-Authenticate") == "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth2"`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
	return oauthErr.Status
}

// writeUnauthorizedError writes a 401 with a Bearer challenge (RFC 6750 Section 3)
func (h *Handler) writeUnauthorizedError(w http.ResponseWriter, oauthErr *Error) {
	w.Header().Set("WWW-Authenticate", `Bearer error="`+oauthErr.Code+`"`)
	h.writeError(w, oauthErr)
}

type contextKey string

const userKey contextKey = "user"

// UserFromContext retrieves the authenticated user from the request context
func UserFromContext(ctx context.Context) (*providers.User, bool) {
	user, ok := ctx.Value(userKey).(*providers.User)
	return user, ok
}

// ContextWithUser creates a context with the given user.
//
// WARNING: This function should ONLY be used for testing. In production,
// the user should ONLY be set by the ValidateToken middleware.
func ContextWithUser(ctx context.Context, user *providers.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func (h *Handler) metrics() *instrumentation.Metrics {
	if h.server.Instrumentation == nil {
		return nil
	}
	return h.server.Instrumentation.Metrics()
}

func (h *Handler) shouldLogClientIPs() bool {
	return h.server.Instrumentation != nil && h.server.Instrumentation.ShouldLogClientIPs()
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	m := h.metrics()
	if m == nil {
		return
	}
	duration := time.Since(startTime).Seconds() * 1000
	m.RecordHTTPRequest(ctx, method, endpoint, status, duration)
}
