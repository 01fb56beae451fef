package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/kv-oauth/storage"
)

// MockTime provides a controllable time source for deterministic testing.
// Pass m.Now wherever a func() time.Time clock is accepted.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// GenerateRandomString returns a random hex string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, (length+1)/2)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return hex.EncodeToString(b)[:length]
}

// GenerateTestClient creates a client record with a random uuid owned by ownerID.
// SecretHash is a placeholder; tests that verify secrets register through the server.
func GenerateTestClient(ownerID string) *storage.Client {
	return &storage.Client{
		ID:          uuid.NewString(),
		Name:        "Test Client",
		RedirectURI: "https://cb.example/r",
		SecretHash:  "$argon2id$placeholder",
		Owner:       ownerID,
		CreatedAt:   time.Now(),
	}
}

// GenerateTestToken creates a token record for the given pair with a random value
func GenerateTestToken(userID, clientID string) *storage.Token {
	return &storage.Token{
		Value:     GenerateRandomString(64),
		UserID:    userID,
		ClientID:  clientID,
		CreatedAt: time.Now(),
	}
}

// GenerateTestAuthorizationCode creates an unused code for the given client and user
func GenerateTestAuthorizationCode(clientID, redirectURI, userID string) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        GenerateRandomString(64),
		ClientID:    clientID,
		RedirectURI: redirectURI,
		UserID:      userID,
		CreatedAt:   time.Now(),
	}
}

// HTTPRequest is a builder for token endpoint test requests
type HTTPRequest struct {
	method  string
	url     string
	headers map[string]string
	body    string
}

// NewHTTPRequest creates a new HTTP request builder
func NewHTTPRequest(method, url string) *HTTPRequest {
	return &HTTPRequest{
		method:  method,
		url:     url,
		headers: make(map[string]string),
	}
}

// WithHeader adds a header to the request
func (r *HTTPRequest) WithHeader(key, value string) *HTTPRequest {
	r.headers[key] = value
	return r
}

// WithForm sets a form-encoded body
func (r *HTTPRequest) WithForm(body string) *HTTPRequest {
	r.body = body
	r.headers["Content-Type"] = "application/x-www-form-urlencoded"
	return r
}

// WithBasicAuth sets HTTP Basic client credentials
func (r *HTTPRequest) WithBasicAuth(clientID, secret string) *HTTPRequest {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth(clientID, secret)
	r.headers["Authorization"] = req.Header.Get("Authorization")
	return r
}

// Do executes the request against the handler and returns the recorder
func (r *HTTPRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(r.method, r.url, strings.NewReader(r.body))
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}
