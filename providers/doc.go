// Package providers defines the identity collaborators of the OAuth server.
//
// The authorization server does not authenticate end users itself. It relies on
// two contracts:
//   - UserProvider: resolves a user by ID when minting or validating tokens
//   - Federator: maps a third-party login profile (GitHub, Google, ...) to a
//     local user, creating it on first login
//
// Both storage backends (storage/memory and storage/valkey) implement these
// interfaces on top of the same key space used for clients and tokens.
// The mock subpackage provides a function-field implementation for tests.
//
// Example usage:
//
//	user, err := store.FindOrCreateUser(ctx, &providers.Profile{
//	    Provider:    "github",
//	    ProviderID:  "12345",
//	    DisplayName: "Jane",
//	})
//	if err != nil {
//	    return err
//	}
//	code, err := srv.Authorize(ctx, client, redirectURI, user)
package providers
