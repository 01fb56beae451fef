// Package memory is an in-process storage.Store for tests and single-instance
// development servers.
//
// Every record lives in maps guarded by one mutex, so each multi-key write is
// atomic just like the Lua scripts and MULTI/EXEC batches of storage/valkey.
// Authorization codes past their TTL read as missing and are swept periodically.
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.NewFromStore(store, nil, logger)
package memory
