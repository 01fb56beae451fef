package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDContext(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("empty context returned %q", got)
	}
	ctx := WithRequestID(context.Background(), "abc")
	if got := GetRequestID(ctx); got != "abc" {
		t.Errorf("GetRequestID() = %q, want abc", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		upstream   string
		wantKept   bool
		wantUUIDv4 bool
	}{
		{name: "no upstream id", wantUUIDv4: true},
		{name: "valid upstream id", upstream: "lb-1234_abcd", wantKept: true},
		{name: "header injection attempt", upstream: "abc\r\nX-Evil: 1", wantUUIDv4: true},
		{name: "too long", upstream: strings.Repeat("a", 129), wantUUIDv4: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			r := httptest.NewRequest(http.MethodPost, "/oauth2/token", nil)
			if tt.upstream != "" {
				// Raw map write so CR/LF reach the middleware unchanged
				r.Header[http.CanonicalHeaderKey(RequestIDHeader)] = []string{tt.upstream}
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			got := w.Header().Get(RequestIDHeader)
			if got != seen {
				t.Errorf("response id %q != context id %q", got, seen)
			}
			if tt.wantKept && got != tt.upstream {
				t.Errorf("id = %q, want upstream %q", got, tt.upstream)
			}
			if tt.wantUUIDv4 {
				u, err := uuid.Parse(got)
				if err != nil || u.Version() != 4 {
					t.Errorf("id = %q, want a v4 uuid", got)
				}
			}
		})
	}
}
