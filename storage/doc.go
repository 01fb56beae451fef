// Package storage provides interfaces and shared types for client, code, token and user persistence.
//
// The storage package defines the core interfaces used throughout the kv-oauth library:
//   - ClientStore: Manages registered OAuth clients and the per-owner quota
//   - TokenLedger: Manages authorization codes, access tokens and refresh tokens,
//     including the (user, client) reverse index
//   - UserStore: Resolves local users and links provider profiles to them
//
// The reverse index is keyed by PairID(userID, clientID). It answers "what is this
// user's current token for this client" without scanning, and makes it possible to
// revoke exactly one token pair.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/mock: Function-field mock for unit testing failure paths
//   - storage/valkey: Valkey/Redis-compatible storage for production
package storage
