package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/config"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/logger"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/storage"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/storage/inmem"
	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "monal",
		Short:         "Monal money analyzer backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to the YAML config file (or CONFIG_PATH)")

	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd, userCmd)
}

// app holds what every subcommand needs after loading the config.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	store   storage.Storage
	closers []io.Closer
}

func newApp(ctx context.Context) (*app, error) {
	if configPath == "" {
		return nil, errors.New("config path is required: pass --config or set CONFIG_PATH")
	}

	cfg := config.MustLoadConfig(configPath)

	log, logCloser := logger.Setup(cfg.Env, cfg.Log)
	a := &app{cfg: cfg, log: log, closers: []io.Closer{logCloser}}

	store, err := openStorage(ctx, cfg.DB, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store)

	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

func openStorage(ctx context.Context, cfg config.DB, log *slog.Logger) (storage.Storage, error) {
	const op = "main.openStorage"

	switch cfg.Driver {
	case config.DriverInmem:
		log.Warn("using in-memory storage, data is lost on exit")
		return inmem.New(), nil
	default:
		pg, err := storage.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return pg, nil
	}
}

// postgres returns the database handle when the app runs on Postgres.
func (a *app) postgres() (*storage.PostgresStorage, bool) {
	pg, ok := a.store.(*storage.PostgresStorage)
	return pg, ok
}
