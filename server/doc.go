// Package server implements the authorization server core.
//
// The Server type runs the grant state machines against a credential store:
//   - Authorize issues a single-use authorization code bound to a client,
//     its redirect URI and a user
//   - Token is the implicit grant and issues a token pair directly
//   - ExchangeCode redeems a code; presenting it again revokes what it produced
//   - ExchangeRefreshToken rotates a refresh token with compare-and-delete,
//     so of two concurrent exchanges exactly one succeeds
//
// The ClientRegistry creates and updates clients and verifies their secrets
// with argon2id. Secrets are only ever returned once.
//
// Store calls run detached from the caller's cancellation and bounded by
// Config.StoreTimeout. Store failures surface as ErrStorage; Classify maps any
// error of this package onto an OAuth wire error.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.NewFromStore(store, &server.Config{}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, secret, err := srv.Clients.Create(ctx, ownerID, "My App", "https://app.example.com/callback")
//	code, err := srv.Authorize(ctx, client, client.RedirectURI, user)
//	token, err := srv.ExchangeCode(ctx, client, code, client.RedirectURI)
package server
