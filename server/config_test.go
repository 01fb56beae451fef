package server

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	config := applyDefaults(&Config{}, slog.Default())

	if config.AuthorizationCodeTTL != 600 {
		t.Errorf("AuthorizationCodeTTL = %d, want 600", config.AuthorizationCodeTTL)
	}
	if config.TokenBytes != 256 {
		t.Errorf("TokenBytes = %d, want 256", config.TokenBytes)
	}
	if config.CodeBytes != 256 {
		t.Errorf("CodeBytes = %d, want 256", config.CodeBytes)
	}
	if config.SecretBytes != 32 {
		t.Errorf("SecretBytes = %d, want 32", config.SecretBytes)
	}
	if config.MaxClientsPerOwner != 2 {
		t.Errorf("MaxClientsPerOwner = %d, want 2", config.MaxClientsPerOwner)
	}
	if config.StoreTimeout != 5*time.Second {
		t.Errorf("StoreTimeout = %v, want 5s", config.StoreTimeout)
	}
	if config.codeTTL() != 10*time.Minute {
		t.Errorf("codeTTL() = %v, want 10m", config.codeTTL())
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	config := applyDefaults(&Config{
		AuthorizationCodeTTL: 30,
		TokenBytes:           64,
		CodeBytes:            48,
		SecretBytes:          24,
		MaxClientsPerOwner:   5,
		StoreTimeout:         time.Second,
	}, slog.Default())

	if config.AuthorizationCodeTTL != 30 || config.TokenBytes != 64 || config.CodeBytes != 48 ||
		config.SecretBytes != 24 || config.MaxClientsPerOwner != 5 || config.StoreTimeout != time.Second {
		t.Errorf("explicit values overwritten: %+v", config)
	}
}

func TestConfig_Quota(t *testing.T) {
	tests := []struct {
		name string
		max  int
		want int
	}{
		{name: "limited", max: 2, want: 2},
		{name: "disabled", max: -1, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{MaxClientsPerOwner: tt.max}
			if got := c.quota(); got != tt.want {
				t.Errorf("quota() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLogSecurityWarnings(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	applyDefaults(&Config{TokenBytes: 8, SecretBytes: 4, MaxClientsPerOwner: -1}, logger)

	out := buf.String()
	for _, want := range []string{"short bearer credentials", "short client secrets", "client quota disabled"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestLogSecurityWarnings_QuietOnDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	applyDefaults(&Config{}, logger)

	if buf.Len() != 0 {
		t.Errorf("unexpected warnings: %s", buf.String())
	}
}
