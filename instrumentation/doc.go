// Package instrumentation provides OpenTelemetry instrumentation for the kv-oauth server.
//
// Metrics and traces are produced by every layer (http, server, storage, security)
// under the scope "github.com/giantswarm/kv-oauth/{layer}". When disabled, no-op
// providers are used and recording costs nothing.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:     "kv-oauth",
//		ServiceVersion:  "1.0.0",
//		Enabled:         true,
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv.SetInstrumentation(inst)
//	http.Handle("/metrics", inst.MetricsHandler())
//
// The Prometheus exporter writes into a private registry, so only the server's own
// metrics are exposed. Traces are exported over OTLP/HTTP when TracesExporter is
// "otlphttp".
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint}
//
// Grants:
//   - oauth.code.issued{client_id}
//   - oauth.implicit.granted{client_id}
//   - oauth.code.exchanged{client_id}
//   - oauth.token.refreshed{client_id}
//   - oauth.token.revoked{reason}
//   - oauth.client.registered
//   - oauth.client.secret_rotated{client_id}
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type}
//   - oauth.code.reuse_detected
//   - oauth.grant.mismatch{grant_type, reason}
//   - oauth.client.auth_failed{reason}
//   - audit.events.total{event_type}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.tokens.count, storage.clients.count, storage.codes.count
package instrumentation
