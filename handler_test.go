package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/kv-oauth/internal/testutil"
	"github.com/giantswarm/kv-oauth/providers"
	"github.com/giantswarm/kv-oauth/security"
	"github.com/giantswarm/kv-oauth/server"
	"github.com/giantswarm/kv-oauth/storage"
	"github.com/giantswarm/kv-oauth/storage/memory"
	"github.com/giantswarm/kv-oauth/storage/mock"
)

const testRedirectURI = "https://app.example.com/callback"

type testEnv struct {
	handler *Handler
	srv     *server.Server
	client  *storage.Client
	secret  string
	user    *providers.User
}

func newTestEnv(t *testing.T, store storage.Store, config *Config) *testEnv {
	t.Helper()

	srv, err := server.NewFromStore(store, &server.Config{
		HashParams: security.HashParams{Time: 1, Memory: 1024, Threads: 1},
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	user, err := srv.UserFromProfile(ctx, &providers.Profile{
		Provider:    "github",
		ProviderID:  uuid.NewString(),
		DisplayName: "Test User",
		Email:       "test@example.com",
	})
	require.NoError(t, err)

	client, secret, err := srv.Clients.Create(ctx, user.ID, "Test Client", testRedirectURI)
	require.NoError(t, err)

	h := NewHandler(srv, config, nil)
	t.Cleanup(h.Close)

	return &testEnv{handler: h, srv: srv, client: client, secret: secret, user: user}
}

func setupTestHandler(t *testing.T) *testEnv {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)
	return newTestEnv(t, store, &Config{RateLimit: RateLimitConfig{Rate: -1}})
}

func (e *testEnv) authorize(t *testing.T) string {
	t.Helper()

	code, err := e.srv.Authorize(context.Background(), e.client, testRedirectURI, e.user)
	require.NoError(t, err)
	return code
}

func (e *testEnv) tokenRequest(form url.Values) *testutil.HTTPRequest {
	return testutil.NewHTTPRequest(http.MethodPost, "/oauth2/token").
		WithForm(form.Encode()).
		WithBasicAuth(e.client.ID, e.secret)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func decodeToken(t *testing.T, rec *httptest.ResponseRecorder) TokenResponse {
	t.Helper()

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestNewHandler(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	srv, err := server.NewFromStore(store, nil, nil)
	require.NoError(t, err)

	h := NewHandler(srv, nil, nil)
	defer h.Close()

	assert.NotNil(t, h.logger)
	assert.NotNil(t, h.rateLimiter, "rate limiting is on by default")
	assert.Equal(t, float64(DefaultRateLimitRate), h.config.RateLimit.Rate)
	assert.Equal(t, DefaultRateLimitBurst, h.config.RateLimit.Burst)

	disabled := NewHandler(srv, &Config{RateLimit: RateLimitConfig{Rate: -1}}, nil)
	defer disabled.Close()
	assert.Nil(t, disabled.rateLimiter)
}

func TestHandler_ServeToken_InvalidMethod(t *testing.T) {
	env := setupTestHandler(t)

	rec := testutil.NewHTTPRequest(http.MethodGet, "/oauth2/token").Do(http.HandlerFunc(env.handler.ServeToken))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestHandler_ServeToken_RequestErrors(t *testing.T) {
	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing grant type",
			form:       url.Values{},
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "unsupported grant type",
			form:       url.Values{"grant_type": {"client_credentials"}},
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeUnsupportedGrantType,
		},
		{
			name:       "missing code",
			form:       url.Values{"grant_type": {"authorization_code"}, "redirect_uri": {testRedirectURI}},
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "missing refresh token",
			form:       url.Values{"grant_type": {"refresh_token"}},
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "unknown code",
			form:       url.Values{"grant_type": {"authorization_code"}, "code": {"deadbeef"}, "redirect_uri": {testRedirectURI}},
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidGrant,
		},
		{
			name:       "unknown refresh token",
			form:       url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"deadbeef"}},
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestHandler(t)

			rec := env.tokenRequest(tt.form).Do(http.HandlerFunc(env.handler.ServeToken))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Error)
		})
	}
}

func TestHandler_ServeToken_ClientAuthentication(t *testing.T) {
	env := setupTestHandler(t)
	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"x"}}

	tests := []struct {
		name    string
		request *testutil.HTTPRequest
	}{
		{
			name:    "no credentials",
			request: testutil.NewHTTPRequest(http.MethodPost, "/oauth2/token").WithForm(form.Encode()),
		},
		{
			name: "wrong secret",
			request: testutil.NewHTTPRequest(http.MethodPost, "/oauth2/token").
				WithForm(form.Encode()).
				WithBasicAuth(env.client.ID, "wrong"),
		},
		{
			name: "unknown client",
			request: testutil.NewHTTPRequest(http.MethodPost, "/oauth2/token").
				WithForm(form.Encode()).
				WithBasicAuth(uuid.NewString(), env.secret),
		},
		{
			name: "malformed client id",
			request: testutil.NewHTTPRequest(http.MethodPost, "/oauth2/token").
				WithForm(form.Encode()).
				WithBasicAuth("client\r\nX-Injected: 1", env.secret),
		},
		{
			name: "oversized secret",
			request: testutil.NewHTTPRequest(http.MethodPost, "/oauth2/token").
				WithForm(form.Encode()).
				WithBasicAuth(env.client.ID, strings.Repeat("s", server.MaxSecretLength+1)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.request.Do(http.HandlerFunc(env.handler.ServeToken))

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.True(t, strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Basic"))
			assert.Equal(t, ErrorCodeInvalidClient, decodeError(t, rec).Error)
		})
	}
}

func TestHandler_ServeToken_AuthorizationCode(t *testing.T) {
	env := setupTestHandler(t)
	code := env.authorize(t)

	rec := env.tokenRequest(url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {testRedirectURI},
	}).Do(http.HandlerFunc(env.handler.ServeToken))

	resp := decodeToken(t, rec)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	user, err := env.srv.ValidateAccessToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, env.user.ID, user.ID)
}

func TestHandler_ServeToken_FormCredentials(t *testing.T) {
	env := setupTestHandler(t)
	code := env.authorize(t)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"client_id":     {env.client.ID},
		"client_secret": {env.secret},
	}
	rec := testutil.NewHTTPRequest(http.MethodPost, "/oauth2/token").
		WithForm(form.Encode()).
		Do(http.HandlerFunc(env.handler.ServeToken))

	resp := decodeToken(t, rec)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestHandler_ServeToken_CodeReuse(t *testing.T) {
	env := setupTestHandler(t)
	code := env.authorize(t)
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {testRedirectURI},
	}

	first := decodeToken(t, env.tokenRequest(form).Do(http.HandlerFunc(env.handler.ServeToken)))

	rec := env.tokenRequest(form).Do(http.HandlerFunc(env.handler.ServeToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrorCodeInvalidGrant, decodeError(t, rec).Error)

	_, err := env.srv.ValidateAccessToken(context.Background(), first.AccessToken)
	assert.ErrorIs(t, err, server.ErrInvalidToken)
}

func TestHandler_ServeToken_RedirectMismatch(t *testing.T) {
	env := setupTestHandler(t)
	code := env.authorize(t)

	rec := env.tokenRequest(url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://evil.example.com/callback"},
	}).Do(http.HandlerFunc(env.handler.ServeToken))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, ErrorCodeInvalidGrant, resp.Error)
	assert.NotContains(t, resp.ErrorDescription, "evil.example.com")
}

func TestHandler_ServeToken_RefreshToken(t *testing.T) {
	env := setupTestHandler(t)
	code := env.authorize(t)

	first := decodeToken(t, env.tokenRequest(url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {testRedirectURI},
	}).Do(http.HandlerFunc(env.handler.ServeToken)))

	refreshForm := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {first.RefreshToken}}

	second := decodeToken(t, env.tokenRequest(refreshForm).Do(http.HandlerFunc(env.handler.ServeToken)))
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	rec := env.tokenRequest(refreshForm).Do(http.HandlerFunc(env.handler.ServeToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrorCodeInvalidGrant, decodeError(t, rec).Error)
}

func TestHandler_ServeToken_StorageFailure(t *testing.T) {
	m := mock.NewMockStore()
	t.Cleanup(m.Stop)
	env := newTestEnv(t, m, &Config{RateLimit: RateLimitConfig{Rate: -1}})
	code := env.authorize(t)

	m.SaveTokenFunc = func(context.Context, storage.TokenKind, *storage.Token) error {
		return errors.New("i/o timeout talking to 10.0.0.7:6379")
	}

	rec := env.tokenRequest(url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {testRedirectURI},
	}).Do(http.HandlerFunc(env.handler.ServeToken))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, ErrorCodeServerError, resp.Error)
	assert.Equal(t, "temporarily unavailable", resp.ErrorDescription)
}

func TestHandler_ServeToken_RateLimit(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	env := newTestEnv(t, store, &Config{RateLimit: RateLimitConfig{Rate: 0.001, Burst: 1}})

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"x"}}

	first := env.tokenRequest(form).Do(http.HandlerFunc(env.handler.ServeToken))
	assert.NotEqual(t, http.StatusTooManyRequests, first.Code)

	rec := env.tokenRequest(form).Do(http.HandlerFunc(env.handler.ServeToken))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, ErrorCodeSlowDown, decodeError(t, rec).Error)
}

func TestHandler_ValidateToken(t *testing.T) {
	env := setupTestHandler(t)
	token, err := env.srv.Token(context.Background(), env.client, env.user)
	require.NoError(t, err)

	var gotUser *providers.User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	protected := env.handler.ValidateToken(next)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid token", header: "Bearer " + token.AccessToken, wantStatus: http.StatusNoContent},
		{name: "lowercase scheme", header: "bearer " + token.AccessToken, wantStatus: http.StatusNoContent},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantStatus: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer abc123", wantStatus: http.StatusUnauthorized},
		{name: "refresh token", header: "Bearer " + token.RefreshToken, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser = nil
			req := testutil.NewHTTPRequest(http.MethodGet, "/api/user")
			if tt.header != "" {
				req = req.WithHeader("Authorization", tt.header)
			}
			rec := req.Do(protected)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Nil(t, gotUser)
				assert.True(t, strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Bearer"))
				assert.Equal(t, ErrorCodeInvalidToken, decodeError(t, rec).Error)
				return
			}
			require.NotNil(t, gotUser)
			assert.Equal(t, env.user.ID, gotUser.ID)
		})
	}
}

func TestHandler_ServeUser(t *testing.T) {
	env := setupTestHandler(t)
	token, err := env.srv.Token(context.Background(), env.client, env.user)
	require.NoError(t, err)

	rec := testutil.NewHTTPRequest(http.MethodGet, "/api/user").
		WithHeader("Authorization", "Bearer "+token.AccessToken).
		Do(env.handler.ValidateToken(http.HandlerFunc(env.handler.ServeUser)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp UserResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, env.user.ID, resp.ID)
	assert.Equal(t, "test@example.com", resp.Email)
}

func TestHandler_ServeUser_WithoutMiddleware(t *testing.T) {
	env := setupTestHandler(t)

	rec := testutil.NewHTTPRequest(http.MethodGet, "/api/user").Do(http.HandlerFunc(env.handler.ServeUser))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestContextWithUser(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)

	user := &providers.User{ID: "u1"}
	got, ok := UserFromContext(ContextWithUser(context.Background(), user))
	assert.True(t, ok)
	assert.Equal(t, user, got)
}

func TestTokenResponse_FieldNames(t *testing.T) {
	data, err := json.Marshal(TokenResponse{AccessToken: "a", RefreshToken: "r", TokenType: "bearer"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"a","refresh_token":"r","token_type":"bearer"}`, string(data))
}
