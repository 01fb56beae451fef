package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giantswarm/kv-oauth/server"
	"github.com/giantswarm/kv-oauth/storage/valkey"
)

const envPrefix = "KVOAUTH"

// app carries state shared by every subcommand once flags are parsed
type app struct {
	v      *viper.Viper
	logger *slog.Logger

	// backend, when set, is used instead of the store named by --store
	backend backend
}

func newRootCommand() *cobra.Command {
	return newRootCommandFor(&app{v: viper.New()})
}

func newRootCommandFor(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "kv-oauth",
		Short:        "OAuth2 authorization server backed by Valkey",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("store", "valkey", "storage backend: valkey or memory")
	flags.String("valkey-url", "", "redis:// or rediss:// URL (env REDIS_TLS_URL, REDIS_URL)")
	flags.String("valkey-addr", "", "valkey host:port (env REDIS_HOST, REDIS_PORT)")
	flags.String("valkey-password", "", "valkey password (env REDIS_KEY)")
	flags.String("valkey-prefix", valkey.DefaultKeyPrefix, "prefix for every valkey key")
	flags.Bool("valkey-tls-insecure", false, "skip TLS certificate verification (env REDIS_SELF_SIGNED)")
	flags.Duration("store-timeout", server.DefaultStoreTimeout, "timeout for every store call")
	flags.Bool("audit", true, "write security audit events")
	flags.Int("max-clients-per-owner", server.DefaultMaxClientsPerOwner, "client quota per owner, negative disables")

	cmd.AddCommand(
		newServeCommand(a),
		newClientCommand(a),
		newTokensCommand(a),
	)
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return err
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	if err := bindEnv(a.v); err != nil {
		return err
	}

	logger, err := newLogger(cmd.ErrOrStderr(), a.v.GetString("log-format"), a.v.GetString("log-level"))
	if err != nil {
		return err
	}
	a.logger = logger
	slog.SetDefault(logger)
	return nil
}

// bindEnv maps KVOAUTH_* variables onto flag keys and the REDIS_* variables
// onto the store settings. REDIS_TLS_URL wins over REDIS_URL.
func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	bindings := map[string][]string{
		"redis-url":         {"REDIS_TLS_URL", "REDIS_URL"},
		"redis-host":        {"REDIS_HOST"},
		"redis-port":        {"REDIS_PORT"},
		"redis-key":         {"REDIS_KEY"},
		"redis-self-signed": {"REDIS_SELF_SIGNED"},
	}
	for key, names := range bindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}
