package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/spf13/viper"

	oauth "github.com/giantswarm/kv-oauth"
	"github.com/giantswarm/kv-oauth/instrumentation"
	"github.com/giantswarm/kv-oauth/server"
	"github.com/giantswarm/kv-oauth/storage/valkey"
)

const (
	defaultRedisHost = "localhost"
	defaultRedisPort = "6379"
)

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// loadStoreConfig resolves the valkey connection. Explicit flags win, then a
// REDIS_TLS_URL or REDIS_URL, then REDIS_HOST and REDIS_PORT.
func loadStoreConfig(v *viper.Viper, logger *slog.Logger) (valkey.Config, error) {
	var cfg valkey.Config

	if rawURL := firstNonEmpty(v.GetString("valkey-url"), v.GetString("redis-url")); rawURL != "" {
		parsed, err := valkey.ConfigFromURL(rawURL)
		if err != nil {
			return valkey.Config{}, err
		}
		cfg = parsed
	} else {
		addr := v.GetString("valkey-addr")
		if addr == "" {
			addr = net.JoinHostPort(
				firstNonEmpty(v.GetString("redis-host"), defaultRedisHost),
				firstNonEmpty(v.GetString("redis-port"), defaultRedisPort),
			)
		}
		cfg.Address = addr
	}

	if password := firstNonEmpty(v.GetString("valkey-password"), v.GetString("redis-key")); password != "" {
		cfg.Password = password
	}

	// Self-signed only relaxes a TLS connection the URL already asked for
	if v.GetBool("valkey-tls-insecure") || v.GetBool("redis-self-signed") {
		if cfg.TLS == nil {
			logger.Warn("TLS verification override ignored for a plaintext connection", "address", cfg.Address)
		} else {
			cfg.TLS = cfg.TLS.Clone()
			cfg.TLS.InsecureSkipVerify = true //nolint:gosec // operator opt-in for self-signed certificates
			if cfg.TLS.MinVersion == 0 {
				cfg.TLS.MinVersion = tls.VersionTLS12
			}
		}
	}

	cfg.KeyPrefix = v.GetString("valkey-prefix")
	cfg.Logger = logger
	return cfg, nil
}

func loadServerConfig(v *viper.Viper) *server.Config {
	return &server.Config{
		AuthorizationCodeTTL: int64(v.GetDuration("code-ttl").Seconds()),
		MaxClientsPerOwner:   v.GetInt("max-clients-per-owner"),
		StoreTimeout:         v.GetDuration("store-timeout"),
	}
}

func loadHandlerConfig(v *viper.Viper) *oauth.Config {
	return &oauth.Config{
		RateLimit: oauth.RateLimitConfig{
			Rate:  v.GetFloat64("rate-limit"),
			Burst: v.GetInt("rate-burst"),
		},
		TrustProxy:        v.GetBool("trust-proxy"),
		TrustedProxyCount: v.GetInt("trusted-proxy-count"),
		HTTPS:             v.GetBool("https"),
	}
}

func loadInstrumentationConfig(v *viper.Viper) instrumentation.Config {
	metrics := firstNonEmpty(v.GetString("metrics-exporter"), instrumentation.ExporterNone)
	traces := instrumentation.ExporterNone
	endpoint := v.GetString("otlp-endpoint")
	if endpoint != "" {
		traces = instrumentation.ExporterOTLPHTTP
	}

	return instrumentation.Config{
		ServiceName:     "kv-oauth",
		ServiceVersion:  version,
		Enabled:         metrics != instrumentation.ExporterNone || traces != instrumentation.ExporterNone,
		MetricsExporter: metrics,
		TracesExporter:  traces,
		OTLPEndpoint:    endpoint,
		OTLPInsecure:    v.GetBool("otlp-insecure"),
		LogClientIPs:    v.GetBool("log-client-ips"),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
