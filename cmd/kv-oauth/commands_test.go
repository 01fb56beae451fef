package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/kv-oauth/providers"
	"github.com/giantswarm/kv-oauth/storage/memory"
)

// newTestApp returns an app whose commands all share one memory store
func newTestApp(t *testing.T) *app {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)
	return &app{
		v:       viper.New(),
		logger:  slog.New(slog.DiscardHandler),
		backend: store,
	}
}

func runCommand(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommandFor(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--env-file", "", "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// outputField returns the value printed after "key:" in command output
func outputField(t *testing.T, out, key string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, key+":"); ok {
			return strings.TrimSpace(rest)
		}
	}
	t.Fatalf("%q not found in output %q", key, out)
	return ""
}

func TestClientCommands(t *testing.T) {
	a := newTestApp(t)
	owner := uuid.NewString()

	out, err := runCommand(t, a, "client", "create",
		"--owner", owner, "--name", "Dashboard", "--redirect-uri", "https://cb.example/r")
	require.NoError(t, err)
	clientID := outputField(t, out, "client_id")
	secret := outputField(t, out, "client_secret")
	assert.Len(t, secret, 64)

	out, err = runCommand(t, a, "client", "list", "--owner", owner)
	require.NoError(t, err)
	assert.Contains(t, out, clientID)
	assert.Contains(t, out, "https://cb.example/r")
	assert.Contains(t, out, "false")

	_, err = runCommand(t, a, "client", "trust", clientID)
	require.NoError(t, err)
	_, err = runCommand(t, a, "client", "update", clientID, "--name", "Renamed")
	require.NoError(t, err)

	out, err = runCommand(t, a, "client", "list", "--owner", owner)
	require.NoError(t, err)
	assert.Contains(t, out, "Renamed")
	assert.Contains(t, out, "true")

	out, err = runCommand(t, a, "client", "regenerate-secret", clientID)
	require.NoError(t, err)
	rotated := outputField(t, out, "client_secret")
	assert.NotEqual(t, secret, rotated)

	srv, err := a.newServer(a.backend, nil)
	require.NoError(t, err)
	ok, err := srv.Clients.VerifySecret(context.Background(), clientID, rotated)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClientCommands_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"invalid redirect uri", []string{"client", "create", "--owner", "o", "--name", "n", "--redirect-uri", "ftp://cb.example"}},
		{"missing owner flag", []string{"client", "create", "--name", "n", "--redirect-uri", "https://cb.example/r"}},
		{"update without changes", []string{"client", "update", uuid.NewString()}},
		{"update missing client", []string{"client", "update", uuid.NewString(), "--name", "x"}},
		{"revoke without user", []string{"tokens", "revoke"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCommand(t, newTestApp(t), tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestTokensRevoke(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	srv, err := a.newServer(a.backend, nil)
	require.NoError(t, err)
	client, _, err := srv.Clients.Create(ctx, "owner-1", "CLI", "https://cb.example/r")
	require.NoError(t, err)
	user := &providers.User{ID: uuid.NewString()}

	_, err = srv.Token(ctx, client, user)
	require.NoError(t, err)
	out, err := runCommand(t, a, "tokens", "revoke", "--user", user.ID, "--client", client.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "revoked 2 token(s)")

	token, err := srv.Token(ctx, client, user)
	require.NoError(t, err)
	out, err = runCommand(t, a, "tokens", "revoke", "--user", user.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "revoked 2 token(s)")

	_, err = srv.ValidateAccessToken(ctx, token.AccessToken)
	assert.Error(t, err)
}
