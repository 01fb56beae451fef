// Package valkey provides the production storage backend for kv-oauth.
//
// Valkey is wire-compatible with Redis, so any Redis 6+ server works too.
// The Store type implements [storage.ClientStore], [storage.TokenLedger] and
// [storage.UserStore].
//
// # Key Schema
//
// All keys carry a configurable prefix (default "kvoauth:"):
//
//	{prefix}client:{id}                 HASH   id, name, redirectUri, secret, owner, trusted, createdAt
//	{prefix}clients:{owner}             SET    client ids
//	{prefix}authorizationCode:{code}    HASH   clientId, redirectUri, userId, createdAt, used  (TTL)
//	{prefix}accessToken:{token}         HASH   clientId, userId, createdAt, pairId
//	{prefix}accessTokens:{userId}       SET    access tokens
//	{prefix}accessTokenIndex:{pairId}   STRING current access token of the pair
//	{prefix}refreshToken:{token}        HASH   clientId, userId, createdAt, pairId
//	{prefix}refreshTokens:{userId}      SET    refresh tokens
//	{prefix}refreshTokenIndex:{pairId}  STRING current refresh token of the pair
//	{prefix}user:{id}                   HASH   id, name, email
//	{prefix}profile:{provider}:{pid}    HASH   provider, providerId, displayName, email, userId
//	{prefix}connections:{userId}        SET    provider:pid
//
// The secret field holds the argon2id hash, never the plaintext. pairId is
// [storage.PairID] of the token's user and client.
//
// # Atomic Operations
//
// Operations that must read before they write run as Lua scripts:
// client creation with its owner quota, client update, code consumption,
// token save (which retires the previous token of the pair), token removal,
// token consumption (compare client then delete) and per-user revocation.
// Pure multi-key writes (code save with TTL, client delete, user creation)
// run as MULTI/EXEC batches.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{
//	    Address: "localhost:6379",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// A redis:// or rediss:// URL can be turned into a Config with ConfigFromURL.
package valkey
