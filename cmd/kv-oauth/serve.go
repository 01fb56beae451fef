package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	oauth "github.com/giantswarm/kv-oauth"
	"github.com/giantswarm/kv-oauth/instrumentation"
	"github.com/giantswarm/kv-oauth/security"
	"github.com/giantswarm/kv-oauth/server"
)

const readHeaderTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the token endpoint and the bearer-protected user route",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("listen", ":8080", "HTTP listen address")
	flags.Duration("shutdown-timeout", 10*time.Second, "grace period for in-flight requests")
	flags.Duration("code-ttl", server.DefaultAuthorizationCodeTTL*time.Second, "authorization code lifetime")
	flags.Float64("rate-limit", oauth.DefaultRateLimitRate, "requests per second per client IP, negative disables")
	flags.Int("rate-burst", oauth.DefaultRateLimitBurst, "burst size per client IP")
	flags.Bool("trust-proxy", false, "derive the client IP from X-Forwarded-For")
	flags.Int("trusted-proxy-count", 1, "number of reverse proxies in front of the server")
	flags.Bool("https", false, "send Strict-Transport-Security")
	flags.String("metrics-exporter", instrumentation.ExporterNone, "metrics exporter: prometheus or none")
	flags.String("otlp-endpoint", "", "OTLP/HTTP collector endpoint for traces")
	flags.Bool("otlp-insecure", false, "use plain HTTP towards the collector")
	flags.Bool("log-client-ips", false, "record client IPs in traces and metrics")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, err := instrumentation.New(loadInstrumentationConfig(a.v))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.v.GetDuration("shutdown-timeout"))
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Failed to flush telemetry", "error", err)
		}
	}()

	store, release, err := a.openStore()
	if err != nil {
		return err
	}
	defer release()

	srv, err := a.newServer(store, inst)
	if err != nil {
		return err
	}

	handler := oauth.NewHandler(srv, loadHandlerConfig(a.v), a.logger)
	defer handler.Close()

	httpServer := &http.Server{
		Addr:              a.v.GetString("listen"),
		Handler:           newRouter(handler, inst),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Listening", "address", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.v.GetDuration("shutdown-timeout"))
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newRouter(h *oauth.Handler, inst *instrumentation.Instrumentation) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", h.ServeToken)
	mux.Handle("GET /api/user", h.ValidateToken(http.HandlerFunc(h.ServeUser)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if metrics := inst.MetricsHandler(); metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	traced := otelhttp.NewHandler(mux, "kv-oauth",
		otelhttp.WithTracerProvider(inst.TracerProvider()),
		otelhttp.WithMeterProvider(inst.MeterProvider()),
	)
	return security.RequestIDMiddleware(traced)
}
