package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/giantswarm/kv-oauth/storage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"storage failure", fmt.Errorf("%w: save: %w", ErrStorage, errors.New("dial tcp: refused")), ErrorCodeServerError, http.StatusInternalServerError},
		{"unknown error", errors.New("boom"), ErrorCodeServerError, http.StatusInternalServerError},
		{"access denied", fmt.Errorf("%w: %w", ErrAccessDenied, ErrRedirectURIMismatch), ErrorCodeAccessDenied, http.StatusBadRequest},
		{"user not found", storage.ErrUserNotFound, ErrorCodeAccessDenied, http.StatusBadRequest},
		{"invalid token", ErrInvalidToken, ErrorCodeInvalidToken, http.StatusUnauthorized},
		{"bad credentials", ErrInvalidClientCredentials, ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"bad client id", fmt.Errorf("%w: x", ErrInvalidClientID), ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"secret too long", ErrSecretTooLong, ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"client not found", storage.ErrClientNotFound, ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"code not found", storage.ErrAuthorizationCodeNotFound, ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"code reused", storage.ErrAuthorizationCodeUsed, ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"token not found", storage.ErrTokenNotFound, ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"client mismatch", ErrClientMismatch, ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"redirect mismatch", ErrRedirectURIMismatch, ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"ledger client mismatch", storage.ErrTokenClientMismatch, ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"invalid redirect", fmt.Errorf("%w: ftp", ErrInvalidRedirectURI), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"invalid name", ErrInvalidClientName, ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"quota", storage.ErrClientQuotaExceeded, ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"invalid input", storage.ErrInvalidInput, ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"oauth error passes through", SlowDown(), ErrorCodeSlowDown, http.StatusTooManyRequests},
		{"wrapped oauth error", fmt.Errorf("handler: %w", UnsupportedGrantType("x")), ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.wantCode, got.Code)
				assert.Equal(t, tt.wantStatus, got.Status)
			}
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassify_DoesNotLeakInternals(t *testing.T) {
	err := fmt.Errorf("%w: consume: %w", ErrStorage, errors.New("READONLY You can't write against a read only replica"))

	got := Classify(err)
	assert.Equal(t, "temporarily unavailable", got.Description)
	assert.NotContains(t, got.Error(), "READONLY")
}

func TestStorageError(t *testing.T) {
	passThrough := []error{
		storage.ErrClientNotFound,
		storage.ErrTokenNotFound,
		storage.ErrClientQuotaExceeded,
		storage.ErrAuthorizationCodeUsed,
		storage.ErrTokenClientMismatch,
		fmt.Errorf("%w: too long", storage.ErrInvalidInput),
	}
	for _, err := range passThrough {
		wrapped := storageError("op", err)
		assert.ErrorIs(t, wrapped, err)
		assert.NotErrorIs(t, wrapped, ErrStorage)
	}

	wrapped := storageError("save token", errors.New("i/o timeout"))
	assert.ErrorIs(t, wrapped, ErrStorage)
	assert.True(t, strings.Contains(wrapped.Error(), "save token"))

	assert.NoError(t, storageError("op", nil))
}

func TestError_Error(t *testing.T) {
	err := InvalidGrant("code is invalid")
	assert.Equal(t, "invalid_grant: code is invalid", err.Error())
}
