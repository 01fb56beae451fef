package valkey

import (
	"context"
	"fmt"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/kv-oauth/internal/util"
	"github.com/giantswarm/kv-oauth/storage"
)

// Code and token hash fields
const (
	fieldClientID = "clientId"
	fieldUserID   = "userId"
	fieldUsed     = "used"
)

var tokenKinds = []storage.TokenKind{storage.TokenKindAccess, storage.TokenKindRefresh}

// ============================================================
// TokenLedger Implementation: authorization codes
// ============================================================

// SaveAuthorizationCode writes the code hash and its TTL in one MULTI/EXEC batch
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode, ttl time.Duration) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("%w: code is required", storage.ErrInvalidInput)
	}
	if err := storage.ValidateLength(code.Code, storage.MaxTokenLength, "code"); err != nil {
		return err
	}

	return s.observe(ctx, "save_code", func(ctx context.Context) error {
		key := s.codeKey(code.Code)
		cmds := []valkeygo.Completed{
			s.client.B().Hset().Key(key).FieldValue().
				FieldValue(fieldClientID, code.ClientID).
				FieldValue(fieldRedirectURI, code.RedirectURI).
				FieldValue(fieldUserID, code.UserID).
				FieldValue(fieldCreatedAt, formatTime(code.CreatedAt)).
				FieldValue(fieldUsed, formatBool(code.Used)).
				Build(),
		}
		if ttl > 0 {
			cmds = append(cmds, s.client.B().Pexpire().Key(key).Milliseconds(ttl.Milliseconds()).Build())
		}

		if err := s.execMulti(ctx, cmds...); err != nil {
			return fmt.Errorf("failed to save authorization code: %w", err)
		}

		s.logger.Debug("Saved authorization code",
			"code_fp", util.Fingerprint(code.Code),
			"client_id", code.ClientID)
		return nil
	})
}

// GetAuthorizationCode retrieves an authorization code without consuming it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	if err := storage.ValidateLength(code, storage.MaxTokenLength, "code"); err != nil {
		return nil, err
	}

	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.codeKey(code)).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	return codeFromFields(code, fields), nil
}

func codeFromFields(code string, f map[string]string) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        code,
		ClientID:    f[fieldClientID],
		RedirectURI: f[fieldRedirectURI],
		UserID:      f[fieldUserID],
		CreatedAt:   parseTime(f[fieldCreatedAt]),
		Used:        parseBool(f[fieldUsed]),
	}
}

// ConsumeAuthorizationCode atomically checks that a code is unused and marks it used.
// On reuse the stored code is returned together with ErrAuthorizationCodeUsed.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	if err := storage.ValidateLength(code, storage.MaxTokenLength, "code"); err != nil {
		return nil, err
	}

	var out *storage.AuthorizationCode
	err := s.observe(ctx, "consume_code", func(ctx context.Context) error {
		reply, err := s.client.Do(ctx,
			s.client.B().Eval().Script(luaConsumeCode).
				Numkeys(1).
				Key(s.codeKey(code)).
				Build(),
		).AsStrSlice()
		if err != nil {
			return fmt.Errorf("failed to consume authorization code: %w", err)
		}
		if len(reply) == 0 {
			return fmt.Errorf("failed to consume authorization code: empty reply")
		}

		switch reply[0] {
		case "NOT_FOUND":
			return storage.ErrAuthorizationCodeNotFound
		case "ALREADY_USED":
			out = codeFromFields(code, pairsToMap(reply[1:]))
			return storage.ErrAuthorizationCodeUsed
		}

		out = codeFromFields(code, pairsToMap(reply[1:]))
		out.Used = true
		s.logger.Debug("Marked authorization code as used",
			"code_fp", util.Fingerprint(code))
		return nil
	})
	return out, err
}

// ============================================================
// TokenLedger Implementation: access and refresh tokens
// ============================================================

// SaveToken stores a token and points the (user, client) index at it,
// retiring whichever token the index pointed at before
func (s *Store) SaveToken(ctx context.Context, kind storage.TokenKind, token *storage.Token) error {
	if err := validateToken(kind, token); err != nil {
		return err
	}

	return s.observe(ctx, "save_token", func(ctx context.Context) error {
		pairID := storage.PairID(token.UserID, token.ClientID)
		retired, err := s.client.Do(ctx,
			s.client.B().Eval().Script(luaSaveToken).
				Numkeys(3).
				Key(
					s.tokenKey(kind, token.Value),
					s.userTokensKey(kind, token.UserID),
					s.indexKey(kind, pairID),
				).
				Arg(
					token.Value,
					token.ClientID,
					token.UserID,
					formatTime(token.CreatedAt),
					pairID,
					s.tokenKeyPrefix(kind),
				).
				Build(),
		).ToString()
		if err != nil {
			return fmt.Errorf("failed to save %s: %w", kind, err)
		}

		if retired != "" {
			s.logger.Debug("Retired previous token for pair",
				"kind", kind,
				"token_fp", util.Fingerprint(retired))
		}
		return nil
	})
}

// GetToken looks a token up by value
func (s *Store) GetToken(ctx context.Context, kind storage.TokenKind, token string) (*storage.Token, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown token kind %q", storage.ErrInvalidInput, kind)
	}
	if err := storage.ValidateLength(token, storage.MaxTokenLength, "token"); err != nil {
		return nil, err
	}

	fields, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.tokenKey(kind, token)).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", kind, err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrTokenNotFound
	}
	return tokenFromFields(token, fields), nil
}

func tokenFromFields(token string, f map[string]string) *storage.Token {
	return &storage.Token{
		Value:     token,
		ClientID:  f[fieldClientID],
		UserID:    f[fieldUserID],
		CreatedAt: parseTime(f[fieldCreatedAt]),
	}
}

// FindTokenByIDs returns the token the (user, client) index currently points at
func (s *Store) FindTokenByIDs(ctx context.Context, kind storage.TokenKind, userID, clientID string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown token kind %q", storage.ErrInvalidInput, kind)
	}

	token, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.indexKey(kind, storage.PairID(userID, clientID))).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return "", storage.ErrTokenNotFound
		}
		return "", fmt.Errorf("failed to find %s: %w", kind, err)
	}
	return token, nil
}

// RemoveTokenByIDs revokes a token, clearing the reverse index only when it
// points at this token or at a record that no longer exists
func (s *Store) RemoveTokenByIDs(ctx context.Context, kind storage.TokenKind, token, userID, clientID string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown token kind %q", storage.ErrInvalidInput, kind)
	}

	return s.observe(ctx, "remove_token", func(ctx context.Context) error {
		err := s.client.Do(ctx,
			s.client.B().Eval().Script(luaRemoveToken).
				Numkeys(3).
				Key(
					s.tokenKey(kind, token),
					s.userTokensKey(kind, userID),
					s.indexKey(kind, storage.PairID(userID, clientID)),
				).
				Arg(token, s.tokenKeyPrefix(kind)).
				Build(),
		).Error()
		if err != nil {
			return fmt.Errorf("failed to remove %s: %w", kind, err)
		}
		return nil
	})
}

// ConsumeToken atomically deletes a token if it was issued to clientID
func (s *Store) ConsumeToken(ctx context.Context, kind storage.TokenKind, token, clientID string) (*storage.Token, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown token kind %q", storage.ErrInvalidInput, kind)
	}
	if err := storage.ValidateLength(token, storage.MaxTokenLength, "token"); err != nil {
		return nil, err
	}

	var out *storage.Token
	err := s.observe(ctx, "consume_token", func(ctx context.Context) error {
		reply, err := s.client.Do(ctx,
			s.client.B().Eval().Script(luaConsumeToken).
				Numkeys(1).
				Key(s.tokenKey(kind, token)).
				Arg(token, clientID, s.userTokensKeyPrefix(kind), s.indexKeyPrefix(kind)).
				Build(),
		).AsStrSlice()
		if err != nil {
			return fmt.Errorf("failed to consume %s: %w", kind, err)
		}
		if len(reply) == 0 {
			return fmt.Errorf("failed to consume %s: empty reply", kind)
		}

		switch reply[0] {
		case "NOT_FOUND":
			return storage.ErrTokenNotFound
		case "MISMATCH":
			out = tokenFromFields(token, pairsToMap(reply[1:]))
			return storage.ErrTokenClientMismatch
		}
		out = tokenFromFields(token, pairsToMap(reply[1:]))
		return nil
	})
	return out, err
}

// RevokeTokensForUser removes all access and refresh tokens of a user in one script
func (s *Store) RevokeTokensForUser(ctx context.Context, userID string) (int, error) {
	keys := make([]string, 0, len(tokenKinds))
	args := make([]string, 0, 2*len(tokenKinds))
	for _, kind := range tokenKinds {
		keys = append(keys, s.userTokensKey(kind, userID))
		args = append(args, s.tokenKeyPrefix(kind), s.indexKeyPrefix(kind))
	}

	var revoked int64
	err := s.observe(ctx, "revoke_user_tokens", func(ctx context.Context) error {
		var err error
		revoked, err = s.client.Do(ctx,
			s.client.B().Eval().Script(luaRevokeUserTokens).
				Numkeys(int64(len(keys))).
				Key(keys...).
				Arg(args...).
				Build(),
		).AsInt64()
		if err != nil {
			return fmt.Errorf("failed to revoke tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("Revoked all tokens for user", "user_id", userID, "tokens_revoked", revoked)
	return int(revoked), nil
}

func validateToken(kind storage.TokenKind, token *storage.Token) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown token kind %q", storage.ErrInvalidInput, kind)
	}
	if token == nil || token.Value == "" || token.UserID == "" || token.ClientID == "" {
		return fmt.Errorf("%w: token value, user ID and client ID are required", storage.ErrInvalidInput)
	}
	if err := storage.ValidateLength(token.Value, storage.MaxTokenLength, "token"); err != nil {
		return err
	}
	if err := storage.ValidateLength(token.UserID, storage.MaxIDLength, "user ID"); err != nil {
		return err
	}
	return storage.ValidateLength(token.ClientID, storage.MaxIDLength, "client ID")
}
