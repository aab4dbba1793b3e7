// Command chainidx is the CLI entry point for the blockchain-to-relational
// indexer: it loads configuration, opens the configured DataStore
// backend, and dispatches to one of the sibling subcommand files, the
// way cmd/bd lays out its subcommands as sibling files sharing one main
// package.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaychain/chainidx/internal/config"
	"github.com/relaychain/chainidx/internal/logging"
	"github.com/relaychain/chainidx/internal/store"
	"github.com/relaychain/chainidx/internal/store/sqlstore"
	"github.com/relaychain/chainidx/internal/telemetry"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "chainidx",
	Short: "Blockchain-to-relational indexer",
	Long: `chainidx ingests a stream of parsed blocks and persists them into a
relational store (MySQL-wire or embedded Dolt), preserving referential
integrity across crashes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to chainidx.yaml (default: ./chainidx.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chainidx:", err)
		os.Exit(1)
	}
}

// loadConfig layers flags, environment, and the config file into a
// resolved *config.Config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := config.New(cmd, configPath)
	if err != nil {
		return nil, err
	}
	return config.Load(v)
}

// app bundles everything a subcommand needs: the resolved config, a
// logger, telemetry providers, and the opened DataStore. closeFn tears
// down the backend connections, the embedded Dolt connector (if any),
// and the telemetry providers, in that order.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	telem   *telemetry.Providers
	store   store.DataStore
	closeFn func() error
}

func openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := logging.New(logging.Options{Format: logging.Format(cfg.LogFormat), Level: level})

	telem, err := telemetry.Setup(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("chainidx: setting up telemetry: %w", err)
	}

	ds, closeBackend, err := openBackend(ctx, cfg, logger, telem)
	if err != nil {
		_ = telem.Shutdown(ctx)
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		telem:  telem,
		store:  ds,
		closeFn: func() error {
			backendErr := closeBackend()
			telemErr := telem.Shutdown(context.Background())
			if backendErr != nil {
				return backendErr
			}
			return telemErr
		},
	}
	return a, nil
}

// openBackend dials the configured driver's connections, wraps them in
// a store.Engine, and returns a close function covering both the
// DataStore and any backend-specific handle (the embedded Dolt
// connector) that outlives it.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger, telem *telemetry.Providers) (store.DataStore, func() error, error) {
	engineCfg := store.EngineConfig{
		InsertRowCap:   cfg.InsertRowCap,
		SelectRowCap:   cfg.SelectRowCap,
		FlushThreshold: cfg.FlushThreshold,
		InitialMode:    initialPipelineMode(cfg.Mode),
		Meter:          telem.Meter,
	}

	var conns store.Conns
	var extra io.Closer
	var err error

	switch cfg.DatabaseDriver {
	case config.DriverMySQL:
		conns, err = sqlstore.OpenConns(ctx, cfg.DatabaseDSN)
	case config.DriverDolt:
		// database.dsn doubles as the embedded database's directory path
		// when database.driver is "dolt" — there is no network DSN to
		// parse in embedded mode.
		conns, extra, err = openDolt(ctx, cfg.DatabaseDSN)
	default:
		return nil, nil, fmt.Errorf("chainidx: unknown database driver %q", cfg.DatabaseDriver)
	}
	if err != nil {
		return nil, nil, err
	}

	engine := store.NewEngine(conns, store.NewMySQLDDL(), engineCfg, rawBlockParser{}, logger)

	closeFn := func() error {
		engErr := engine.Close()
		if extra != nil {
			if extraErr := extra.Close(); extraErr != nil && engErr == nil {
				engErr = extraErr
			}
		}
		return engErr
	}

	return engine, closeFn, nil
}
