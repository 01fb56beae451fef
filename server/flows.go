package server

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/kv-oauth/instrumentation"
	"github.com/giantswarm/kv-oauth/internal/util"
	"github.com/giantswarm/kv-oauth/providers"
	"github.com/giantswarm/kv-oauth/storage"
)

// Grant types
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeImplicit          = "implicit"
)

const (
	// TokenTypeBearer is the token_type of every issued pair
	TokenTypeBearer = "bearer"

	// Scope is the single scope granted to every token
	Scope = "*"
)

// Revocation reasons recorded in audit events and metrics
const (
	revokeReasonCodeReuse = "code_reuse"
	revokeReasonRotation  = "rotation"
	revokeReasonOperator  = "operator"
)

// Authorize issues an authorization code for user to client.
// redirectURI must equal the client's registered URI.
func (s *Server) Authorize(ctx context.Context, client *storage.Client, redirectURI string, user *providers.User) (string, error) {
	ctx, span := s.startSpan(ctx, "oauth.authorize")
	defer span.End()

	if client == nil || user == nil || user.ID == "" {
		return "", s.fail(span, fmt.Errorf("%w: client and user are required", storage.ErrInvalidInput))
	}
	instrumentation.AddGrantAttributes(span, GrantTypeAuthorizationCode, client.ID, user.ID)

	if redirectURI != client.RedirectURI {
		s.recordMismatch(ctx, span, GrantTypeAuthorizationCode, "redirect_uri", client.RedirectURI, redirectURI)
		return "", s.fail(span, fmt.Errorf("%w: %w", ErrAccessDenied, ErrRedirectURIMismatch))
	}

	code, err := randomCredential(s.Config.CodeBytes)
	if err != nil {
		return "", s.fail(span, err)
	}

	authCode := &storage.AuthorizationCode{
		Code:        code,
		ClientID:    client.ID,
		RedirectURI: redirectURI,
		UserID:      user.ID,
		CreatedAt:   s.now(),
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.ledger.SaveAuthorizationCode(sctx, authCode, s.Config.codeTTL()); err != nil {
		return "", s.fail(span, s.storeFailure("save authorization code", err))
	}

	s.Auditor.LogCodeIssued(ctx, user.ID, client.ID)
	if m := s.metrics(); m != nil {
		m.RecordCodeIssued(ctx, client.ID)
	}
	s.Logger.Debug("Issued authorization code",
		"client_id", client.ID,
		"user_id", user.ID,
		"code_fp", util.Fingerprint(code))

	instrumentation.SetSpanSuccess(span)
	return code, nil
}

// Token runs the implicit grant: a token pair is issued to client for user directly
func (s *Server) Token(ctx context.Context, client *storage.Client, user *providers.User) (*oauth2.Token, error) {
	ctx, span := s.startSpan(ctx, "oauth.token")
	defer span.End()

	if client == nil || user == nil || user.ID == "" {
		return nil, s.fail(span, fmt.Errorf("%w: client and user are required", storage.ErrInvalidInput))
	}
	instrumentation.AddGrantAttributes(span, GrantTypeImplicit, client.ID, user.ID)

	token, err := s.issueTokens(ctx, user.ID, client.ID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.Auditor.LogTokenIssued(ctx, user.ID, client.ID)
	if m := s.metrics(); m != nil {
		m.RecordImplicitGrant(ctx, client.ID)
	}

	instrumentation.SetSpanSuccess(span)
	return token, nil
}

// ExchangeCode redeems an authorization code for a token pair.
//
// The code is consumed before any check, so a failed exchange still burns it.
// Presenting a code a second time revokes the tokens issued from it
// (RFC 6749 Section 4.1.2).
func (s *Server) ExchangeCode(ctx context.Context, client *storage.Client, code, redirectURI string) (*oauth2.Token, error) {
	ctx, span := s.startSpan(ctx, "oauth.exchange_code")
	defer span.End()

	if client == nil {
		return nil, s.fail(span, fmt.Errorf("%w: client is required", storage.ErrInvalidInput))
	}
	instrumentation.AddGrantAttributes(span, GrantTypeAuthorizationCode, client.ID, "")

	if code == "" {
		return nil, s.fail(span, storage.ErrAuthorizationCodeNotFound)
	}

	sctx, cancel := s.storeContext(ctx)
	authCode, err := s.ledger.ConsumeAuthorizationCode(sctx, code)
	cancel()

	if err != nil {
		switch {
		case errors.Is(err, storage.ErrAuthorizationCodeUsed) && authCode != nil:
			s.handleCodeReuse(ctx, span, authCode)
			return nil, s.fail(span, storage.ErrAuthorizationCodeUsed)

		case errors.Is(err, storage.ErrAuthorizationCodeNotFound), errors.Is(err, storage.ErrInvalidInput):
			s.Logger.Debug("Authorization code validation failed",
				"reason", err.Error(),
				"client_id", client.ID,
				"code_fp", util.Fingerprint(code))
			s.Auditor.LogAuthFailure(ctx, client.ID, "", "invalid_authorization_code")
			return nil, s.fail(span, storage.ErrAuthorizationCodeNotFound)
		}
		return nil, s.fail(span, s.storeFailure("consume authorization code", err))
	}

	// Code is now marked used; no other request can redeem it

	if authCode.ClientID != client.ID {
		s.recordMismatch(ctx, span, GrantTypeAuthorizationCode, "client_id", authCode.ClientID, client.ID)
		return nil, s.fail(span, ErrClientMismatch)
	}
	if authCode.RedirectURI != redirectURI {
		s.recordMismatch(ctx, span, GrantTypeAuthorizationCode, "redirect_uri", authCode.RedirectURI, redirectURI)
		return nil, s.fail(span, ErrRedirectURIMismatch)
	}

	instrumentation.AddGrantAttributes(span, "", "", authCode.UserID)

	token, err := s.issueTokens(ctx, authCode.UserID, client.ID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.Auditor.LogCodeExchanged(ctx, authCode.UserID, client.ID)
	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, client.ID)
	}
	s.Logger.Info("Authorization code exchanged", "client_id", client.ID, "user_id", authCode.UserID)

	instrumentation.SetSpanSuccess(span)
	return token, nil
}

// handleCodeReuse revokes the pair's tokens after a code was presented twice
func (s *Server) handleCodeReuse(ctx context.Context, span trace.Span, authCode *storage.AuthorizationCode) {
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrCodeReuse, true))

	s.Logger.Warn("Authorization code reuse detected, revoking issued tokens",
		"user_id", authCode.UserID,
		"client_id", authCode.ClientID,
		"code_fp", util.Fingerprint(authCode.Code))
	s.Auditor.LogCodeReuseDetected(ctx, authCode.UserID, authCode.ClientID)
	if m := s.metrics(); m != nil {
		m.RecordCodeReuseDetected(ctx)
	}

	revoked, err := s.RevokePair(ctx, authCode.UserID, authCode.ClientID, revokeReasonCodeReuse)
	if err != nil {
		s.Logger.Error("Failed to revoke tokens after code reuse", "error", err)
		return
	}
	s.Logger.Info("Revoked tokens after code reuse", "tokens_revoked", revoked)
}

// ExchangeRefreshToken rotates a refresh token: the presented token is
// consumed, a new pair is issued and the previous access token is removed.
// Of two concurrent exchanges of the same token exactly one succeeds.
func (s *Server) ExchangeRefreshToken(ctx context.Context, client *storage.Client, refreshToken string) (*oauth2.Token, error) {
	ctx, span := s.startSpan(ctx, "oauth.exchange_refresh_token")
	defer span.End()

	if client == nil {
		return nil, s.fail(span, fmt.Errorf("%w: client is required", storage.ErrInvalidInput))
	}
	instrumentation.AddGrantAttributes(span, GrantTypeRefreshToken, client.ID, "")

	if refreshToken == "" {
		return nil, s.fail(span, storage.ErrTokenNotFound)
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	old, err := s.ledger.ConsumeToken(sctx, storage.TokenKindRefresh, refreshToken, client.ID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenClientMismatch) && old != nil:
			s.recordMismatch(ctx, span, GrantTypeRefreshToken, "client_id", old.ClientID, client.ID)
			return nil, s.fail(span, ErrClientMismatch)

		case errors.Is(err, storage.ErrTokenNotFound), errors.Is(err, storage.ErrInvalidInput):
			s.Logger.Debug("Refresh token validation failed",
				"reason", err.Error(),
				"client_id", client.ID,
				"token_fp", util.Fingerprint(refreshToken))
			s.Auditor.LogAuthFailure(ctx, client.ID, "", "invalid_refresh_token")
			return nil, s.fail(span, storage.ErrTokenNotFound)
		}
		return nil, s.fail(span, s.storeFailure("consume refresh token", err))
	}

	// Refresh token is now deleted; a concurrent exchange gets not found

	instrumentation.AddGrantAttributes(span, "", "", old.UserID)

	oldAccess, err := s.ledger.FindTokenByIDs(sctx, storage.TokenKindAccess, old.UserID, client.ID)
	if err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		return nil, s.fail(span, s.storeFailure("find access token", err))
	}

	token, err := s.issueTokens(ctx, old.UserID, client.ID)
	if err != nil {
		return nil, s.fail(span, err)
	}

	if oldAccess != "" {
		if err := s.ledger.RemoveTokenByIDs(sctx, storage.TokenKindAccess, oldAccess, old.UserID, client.ID); err != nil {
			return nil, s.fail(span, s.storeFailure("remove previous access token", err))
		}
		s.Auditor.LogTokenRevoked(ctx, old.UserID, client.ID, revokeReasonRotation, 1)
		if m := s.metrics(); m != nil {
			m.RecordTokenRevocation(ctx, revokeReasonRotation, 1)
		}
	}

	s.Auditor.LogTokenRefreshed(ctx, old.UserID, client.ID)
	if m := s.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, client.ID)
	}
	s.Logger.Info("Refresh token rotated", "client_id", client.ID, "user_id", old.UserID)

	instrumentation.SetSpanSuccess(span)
	return token, nil
}

// NeedsConsent reports whether user must approve client before a grant.
// Trusted clients and clients the user already holds an access token for skip consent.
func (s *Server) NeedsConsent(ctx context.Context, client *storage.Client, user *providers.User) (bool, error) {
	if client == nil || user == nil {
		return true, fmt.Errorf("%w: client and user are required", storage.ErrInvalidInput)
	}
	if client.Trusted {
		return false, nil
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	_, err := s.ledger.FindTokenByIDs(sctx, storage.TokenKindAccess, user.ID, client.ID)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, storage.ErrTokenNotFound):
		return true, nil
	}
	return true, s.storeFailure("find access token", err)
}

// ValidateAccessToken resolves a bearer token to its user.
// Every valid token carries the wildcard scope.
func (s *Server) ValidateAccessToken(ctx context.Context, accessToken string) (*providers.User, error) {
	if accessToken == "" || len(accessToken) > storage.MaxTokenLength {
		return nil, ErrInvalidToken
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	token, err := s.ledger.GetToken(sctx, storage.TokenKindAccess, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, s.storeFailure("get access token", err)
	}

	user, err := s.users.GetUser(sctx, token.UserID)
	if err != nil {
		if storage.IsNotFoundError(err) {
			s.Logger.Warn("Access token belongs to a missing user",
				"user_id", token.UserID,
				"token_fp", util.Fingerprint(accessToken))
			return nil, ErrInvalidToken
		}
		return nil, s.storeFailure("get user", err)
	}
	return user, nil
}

// UserFromProfile maps a third-party login profile to a local user
func (s *Server) UserFromProfile(ctx context.Context, profile *providers.Profile) (*providers.User, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	user, err := s.federator.FindOrCreateUser(sctx, profile)
	if err != nil {
		return nil, s.storeFailure("find or create user", err)
	}
	return user, nil
}

// RevokePair removes the current access and refresh token of (userID, clientID).
// Returns the number of tokens removed.
func (s *Server) RevokePair(ctx context.Context, userID, clientID, reason string) (int, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	revoked := 0
	for _, kind := range []storage.TokenKind{storage.TokenKindAccess, storage.TokenKindRefresh} {
		token, err := s.ledger.FindTokenByIDs(sctx, kind, userID, clientID)
		if errors.Is(err, storage.ErrTokenNotFound) {
			continue
		}
		if err != nil {
			return revoked, s.storeFailure("find token", err)
		}
		if err := s.ledger.RemoveTokenByIDs(sctx, kind, token, userID, clientID); err != nil {
			return revoked, s.storeFailure("remove token", err)
		}
		revoked++
	}

	s.Auditor.LogTokenRevoked(ctx, userID, clientID, reason, revoked)
	if m := s.metrics(); m != nil && revoked > 0 {
		m.RecordTokenRevocation(ctx, reason, revoked)
	}
	return revoked, nil
}

// RevokeUserTokens removes every access and refresh token of userID
func (s *Server) RevokeUserTokens(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user is required", storage.ErrInvalidInput)
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	revoked, err := s.ledger.RevokeTokensForUser(sctx, userID)
	if err != nil {
		return 0, s.storeFailure("revoke user tokens", err)
	}

	s.Auditor.LogTokenRevoked(ctx, userID, "", revokeReasonOperator, revoked)
	if m := s.metrics(); m != nil && revoked > 0 {
		m.RecordTokenRevocation(ctx, revokeReasonOperator, revoked)
	}
	return revoked, nil
}

// issueTokens mints and saves an access and refresh token for the pair.
// Saving a token retires the pair's previous token of the same kind.
func (s *Server) issueTokens(ctx context.Context, userID, clientID string) (*oauth2.Token, error) {
	accessToken, err := randomCredential(s.Config.TokenBytes)
	if err != nil {
		return nil, err
	}
	refreshToken, err := randomCredential(s.Config.TokenBytes)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	now := s.now()
	access := &storage.Token{Value: accessToken, ClientID: clientID, UserID: userID, CreatedAt: now}
	if err := s.ledger.SaveToken(sctx, storage.TokenKindAccess, access); err != nil {
		return nil, s.storeFailure("save access token", err)
	}

	refresh := &storage.Token{Value: refreshToken, ClientID: clientID, UserID: userID, CreatedAt: now}
	if err := s.ledger.SaveToken(sctx, storage.TokenKindRefresh, refresh); err != nil {
		// Do not leave a lone access token behind
		if rmErr := s.ledger.RemoveTokenByIDs(sctx, storage.TokenKindAccess, accessToken, userID, clientID); rmErr != nil {
			s.Logger.Error("Failed to remove access token after partial issuance",
				"client_id", clientID,
				"error", rmErr)
		}
		return nil, s.storeFailure("save refresh token", err)
	}

	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    TokenTypeBearer,
	}
	return token.WithExtra(map[string]any{"scope": Scope}), nil
}

// recordMismatch logs, audits and counts a grant rejected on a binding check.
// The expected and presented values never reach the caller.
func (s *Server) recordMismatch(ctx context.Context, span trace.Span, grantType, field, expected, presented string) {
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrMismatchOn, field))

	s.Logger.Warn("Grant rejected: binding mismatch",
		"grant_type", grantType,
		"field", field,
		"expected", expected,
		"presented", presented)
	s.Auditor.LogClientMismatch(ctx, grantType, field, expected, presented)
	if m := s.metrics(); m != nil {
		m.RecordGrantMismatch(ctx, grantType, field)
	}
}

// storeFailure logs store internals and returns an error safe for callers
func (s *Server) storeFailure(op string, err error) error {
	wrapped := storageError(op, err)
	if errors.Is(wrapped, ErrStorage) {
		s.Logger.Error("Credential store failure", "operation", op, "error", err)
	}
	return wrapped
}

// fail records err on span and returns it
func (s *Server) fail(span trace.Span, err error) error {
	instrumentation.RecordError(span, err)
	if oauthErr := Classify(err); oauthErr != nil {
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, oauthErr.Code))
	}
	return err
}
