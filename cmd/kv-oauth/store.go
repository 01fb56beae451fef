package main

import (
	"context"
	"fmt"

	"github.com/giantswarm/kv-oauth/instrumentation"
	"github.com/giantswarm/kv-oauth/security"
	"github.com/giantswarm/kv-oauth/server"
	"github.com/giantswarm/kv-oauth/storage"
	"github.com/giantswarm/kv-oauth/storage/memory"
	"github.com/giantswarm/kv-oauth/storage/valkey"
)

// backend is a store that can be instrumented and released
type backend interface {
	storage.Store
	SetInstrumentation(inst *instrumentation.Instrumentation)
}

// openStore returns the configured backend and a function releasing it
func (a *app) openStore() (backend, func(), error) {
	if a.backend != nil {
		return a.backend, func() {}, nil
	}

	switch kind := a.v.GetString("store"); kind {
	case "memory":
		store := memory.New()
		store.SetLogger(a.logger)
		return store, store.Stop, nil
	case "", "valkey":
		cfg, err := loadStoreConfig(a.v, a.logger)
		if err != nil {
			return nil, nil, err
		}
		store, err := valkey.New(cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}
}

// newServer wires the authorization server with auditing and, when inst is
// set, tracing and metrics on both the server and the store.
func (a *app) newServer(store backend, inst *instrumentation.Instrumentation) (*server.Server, error) {
	srv, err := server.NewFromStore(store, loadServerConfig(a.v), a.logger)
	if err != nil {
		return nil, err
	}

	auditor := security.NewAuditor(a.logger, a.v.GetBool("audit"))
	if inst != nil {
		store.SetInstrumentation(inst)
		srv.SetInstrumentation(inst)
		auditor.OnEvent(func(ctx context.Context, eventType string) {
			inst.Metrics().RecordAuditEvent(ctx, eventType)
		})
	}
	srv.SetAuditor(auditor)
	return srv, nil
}

// withServer runs fn against a short-lived server for the admin commands
func (a *app) withServer(fn func(srv *server.Server) error) error {
	store, release, err := a.openStore()
	if err != nil {
		return err
	}
	defer release()

	srv, err := a.newServer(store, nil)
	if err != nil {
		return err
	}
	return fn(srv)
}
