// Command mt5config inspects, edits and applies the MT5 bot configuration.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mt5-bot/internal/cfg"
	"mt5-bot/internal/common"
	"mt5-bot/internal/logging"
	"mt5-bot/internal/manager"
	"mt5-bot/internal/metrics"
	"mt5-bot/internal/storage"
)

// Viper keys; each is bound to the flag of the same name.
const (
	keyConfig       = "config"
	keyDataPath     = "data-path"
	keyBridgeURL    = "bridge-url"
	keyBridgeKey    = "bridge-key"
	keyBridgeSecret = "bridge-secret"
	keyMetricsFile  = "metrics-file"
	keyEnvFile      = "env-file"
)

var envKeys = map[string]string{
	keyConfig:       common.EnvConfigFile,
	keyDataPath:     common.EnvDataPath,
	keyBridgeURL:    common.EnvBridgeURL,
	keyBridgeKey:    common.EnvBridgeKey,
	keyBridgeSecret: common.EnvBridgeSecret,
	keyMetricsFile:  common.EnvMetricsFile,
}

// app holds the process-wide dependencies built by the root command.
type app struct {
	v        *viper.Viper
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	closers  []io.Closer
}

func newApp() *app {
	registry := prometheus.NewRegistry()
	return &app{
		v:        viper.New(),
		registry: registry,
		metrics:  metrics.NewWithRegistry(registry),
	}
}

func (a *app) configPath() string { return a.v.GetString(keyConfig) }

// openOptions selects the collaborators a command needs.
type openOptions struct {
	requireFile bool // fail when the config file does not exist
	history     bool // record revisions under --data-path
}

// open builds a manager seeded with defaults and, when the config file
// exists, with its contents.
func (a *app) open(opts openOptions, extra ...manager.Option) (*manager.Manager, error) {
	mopts := []manager.Option{manager.WithMetrics(a.metrics)}
	if opts.history {
		store, err := a.openHistory()
		if err != nil {
			return nil, err
		}
		mopts = append(mopts, manager.WithHistory(store))
	}
	mopts = append(mopts, extra...)

	m := manager.New(cfg.Default(), mopts...)

	path := a.configPath()
	switch _, err := os.Stat(path); {
	case err == nil:
		if err := m.Load(path); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !opts.requireFile:
		log.Debug().Str("path", path).Msg("config file not found, using defaults")
	default:
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	closer, err := logging.Setup(m.Get().Logging)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closer)
	return m, nil
}

func (a *app) openHistory() (*storage.Store, error) {
	dir := a.v.GetString(keyDataPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := storage.New(dir)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store)
	return store, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

// prepare loads .env files and resolves the terminal password from Secrets
// Manager when MT5_PASSWORD_SECRET_ID is set and MT5_PASSWORD is not.
func (a *app) prepare(ctx context.Context) error {
	if err := cfg.LoadDotEnv(a.v.GetString(keyEnvFile)); err != nil {
		return err
	}
	if os.Getenv(common.EnvPassword) != "" || os.Getenv(common.EnvPasswordSecretID) == "" {
		return nil
	}

	client, err := cfg.NewSecretsClient()
	if err != nil {
		return err
	}
	var conn cfg.ConnectionSettings
	if err := cfg.ResolvePassword(ctx, &conn, client); err != nil {
		return err
	}
	return os.Setenv(common.EnvPassword, conn.Password)
}

// finish writes metrics for the node exporter textfile collector when
// --metrics-file is set.
func (a *app) finish() error {
	defer a.close()
	path := a.v.GetString(keyMetricsFile)
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, a.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if bindErr := v.BindPFlag(f.Name, f); bindErr != nil {
			err = errors.Join(err, bindErr)
		}
		if env, ok := envKeys[f.Name]; ok {
			if bindErr := v.BindEnv(f.Name, env); bindErr != nil {
				err = errors.Join(err, bindErr)
			}
		}
	})
	return err
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "mt5config",
		Short:         "Manage the MT5 trading bot configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.prepare(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.finish()
		},
	}

	flags := root.PersistentFlags()
	flags.String(keyConfig, common.DefaultConfigFile, "configuration file (.json, .yaml or .yml)")
	flags.String(keyDataPath, common.DefaultDataPath, "directory holding the revision history database")
	flags.String(keyBridgeURL, "", "base URL of the MT5 terminal bridge")
	flags.String(keyBridgeKey, "", "bridge API key")
	flags.String(keyBridgeSecret, "", "bridge signing secret")
	flags.String(keyMetricsFile, "", "write Prometheus metrics to this file on exit")
	flags.String(keyEnvFile, ".env", "environment file loaded before the configuration")
	if err := bindFlags(a.v, flags); err != nil {
		log.Fatal().Err(err).Msg("flag binding failed")
	}

	root.AddCommand(
		newShowCmd(a),
		newValidateCmd(a),
		newSetCmd(a),
		newInitCmd(a),
		newApplyCmd(a),
		newHistoryCmd(a),
		newRestoreCmd(a),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := newApp()
	defer a.close()

	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		for _, v := range cfg.Violations(err) {
			log.Error().Str("field", v.Field).Msg(v.Reason)
		}
		a.close()
		log.Fatal().Err(err).Msg("mt5config failed")
	}
}
