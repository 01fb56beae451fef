package server

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidateRedirectURI(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{name: "https", uri: "https://app.example.com/callback"},
		{name: "http", uri: "http://app.example.com/callback"},
		{name: "localhost with port", uri: "http://localhost:8080/cb"},
		{name: "uppercase scheme", uri: "HTTPS://app.example.com/cb"},
		{name: "query string", uri: "https://app.example.com/cb?tenant=a"},
		{name: "empty", uri: "", wantErr: true},
		{name: "relative", uri: "/callback", wantErr: true},
		{name: "ftp", uri: "ftp://files.example.com/cb", wantErr: true},
		{name: "javascript", uri: "javascript:alert(1)", wantErr: true},
		{name: "custom scheme", uri: "myapp://callback", wantErr: true},
		{name: "no host", uri: "https:///callback", wantErr: true},
		{name: "fragment", uri: "https://app.example.com/cb#frag", wantErr: true},
		{name: "empty fragment", uri: "https://app.example.com/cb#", wantErr: true},
		{name: "too long", uri: "https://app.example.com/" + strings.Repeat("a", MaxRedirectURILength), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRedirectURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRedirectURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRedirectURI) {
				t.Errorf("error should wrap ErrInvalidRedirectURI, got %v", err)
			}
		})
	}
}

func TestValidateClientID(t *testing.T) {
	id := uuid.NewString()

	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "uuid", id: id},
		{name: "uppercase uuid", id: strings.ToUpper(id)},
		{name: "empty", id: "", wantErr: true},
		{name: "not a uuid", id: "client-1", wantErr: true},
		{name: "braced uuid", id: "{" + id + "}", wantErr: true},
		{name: "urn uuid", id: "urn:uuid:" + id, wantErr: true},
		{name: "very long", id: strings.Repeat("x", 1000), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateClientID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateClientID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidClientID) {
					t.Errorf("error should wrap ErrInvalidClientID, got %v", err)
				}
				if len(err.Error()) > 200 {
					t.Errorf("error message should truncate input, got %d bytes", len(err.Error()))
				}
			}
		})
	}
}

func TestValidateClientName(t *testing.T) {
	tests := []struct {
		name       string
		clientName string
		wantErr    bool
	}{
		{name: "plain", clientName: "My App"},
		{name: "unicode", clientName: "Überweisung 💸"},
		{name: "max length", clientName: strings.Repeat("ä", MaxClientNameLength)},
		{name: "empty", clientName: "", wantErr: true},
		{name: "blank", clientName: "   ", wantErr: true},
		{name: "too long", clientName: strings.Repeat("a", MaxClientNameLength+1), wantErr: true},
		{name: "invalid utf8", clientName: "bad\xff", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateClientName(tt.clientName)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateClientName(%q) error = %v, wantErr %v", tt.clientName, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidClientName) {
				t.Errorf("error should wrap ErrInvalidClientName, got %v", err)
			}
		})
	}
}
