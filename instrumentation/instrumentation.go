package instrumentation

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "kv-oauth"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	// scopePrefix is prepended to meter and tracer scope names
	scopePrefix = "github.com/giantswarm/kv-oauth/"
)

// Supported exporter names
const (
	ExporterNone       = "none"
	ExporterPrometheus = "prometheus"
	ExporterOTLPHTTP   = "otlphttp"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service (default "kv-oauth")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, uses no-op providers (zero overhead).
	Enabled bool

	// MetricsExporter selects the metrics exporter: "prometheus" or "none".
	// With "none" an SDK meter provider without readers is used.
	MetricsExporter string

	// TracesExporter selects the trace exporter: "otlphttp" or "none"
	TracesExporter string

	// OTLPEndpoint is the collector host:port for the otlphttp exporter
	OTLPEndpoint string

	// OTLPInsecure disables TLS towards the collector
	OTLPInsecure bool

	// LogClientIPs controls whether client IP addresses are included in traces and metrics
	LogClientIPs bool

	// Resource allows custom resource attributes.
	// If nil, a resource with service name and version is created.
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	// registry is set when metrics are exported in Prometheus format
	registry *prometheus.Registry

	metrics *Metrics

	// Shutdown functions (registered during New() only)
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			_ = inst.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders creates SDK meter and tracer providers with the configured exporters
func (i *Instrumentation) initializeProviders() error {
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(i.resource)}

	switch i.config.MetricsExporter {
	case ExporterPrometheus:
		registry := prometheus.NewRegistry()
		exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		i.registry = registry
		meterOpts = append(meterOpts, sdkmetric.WithReader(exporter))
	case "", ExporterNone:
	default:
		return fmt.Errorf("unsupported metrics exporter %q", i.config.MetricsExporter)
	}

	mp := sdkmetric.NewMeterProvider(meterOpts...)
	i.meterProvider = mp
	i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(i.resource)}

	switch i.config.TracesExporter {
	case ExporterOTLPHTTP:
		if i.config.OTLPEndpoint == "" {
			return fmt.Errorf("otlp endpoint is required for the %s exporter", ExporterOTLPHTTP)
		}
		clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(i.config.OTLPEndpoint)}
		if i.config.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(context.Background(), clientOpts...)
		if err != nil {
			return fmt.Errorf("failed to create otlp trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	case "", ExporterNone:
	default:
		return fmt.Errorf("unsupported traces exporter %q", i.config.TracesExporter)
	}

	tp := sdktrace.NewTracerProvider(traceOpts...)
	i.tracerProvider = tp
	i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)

	return nil
}

// Shutdown gracefully shuts down all instrumentation providers.
// This should be called when the application is terminating.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope.
// Scopes are layer names like "http", "server", "storage", "security".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// ShouldLogClientIPs returns whether client IP addresses should be recorded
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// MetricsHandler returns an http.Handler serving the Prometheus registry.
// It returns nil unless the prometheus exporter is enabled.
func (i *Instrumentation) MetricsHandler() http.Handler {
	if i.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(i.registry, promhttp.HandlerOpts{})
}

// StorageSizeCallback is a function that returns the current size of a storage component
type StorageSizeCallback func() int64

// RegisterStorageSizeCallbacks registers callbacks for storage size gauges.
// Storage implementations call this from SetInstrumentation.
func (i *Instrumentation) RegisterStorageSizeCallbacks(tokensCount, clientsCount, codesCount StorageSizeCallback) error {
	if i.meterProvider == nil {
		return fmt.Errorf("meter provider not initialized")
	}

	_, err := i.Meter("storage").RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if tokensCount != nil {
				observer.ObserveInt64(i.metrics.StorageTokensCount, tokensCount())
			}
			if clientsCount != nil {
				observer.ObserveInt64(i.metrics.StorageClientsCount, clientsCount())
			}
			if codesCount != nil {
				observer.ObserveInt64(i.metrics.StorageCodesCount, codesCount())
			}
			return nil
		},
		i.metrics.StorageTokensCount,
		i.metrics.StorageClientsCount,
		i.metrics.StorageCodesCount,
	)

	return err
}
