// Package logger builds the service slog logger for a deployment
// environment.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Setup returns a text logger at debug level for local runs and JSON
// loggers for dev (debug) and prod (info). Unknown environments are treated
// as prod. When cfg.File is set, records are also written to a rotated file.
// The returned closer flushes and closes that file.
func Setup(env string, cfg config.Log) (*slog.Logger, io.Closer) {
	return New(env, os.Stdout, cfg)
}

func New(env string, out io.Writer, cfg config.Log) (*slog.Logger, io.Closer) {
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(out, file)
		closer = file
	}

	var log *slog.Logger

	switch env {
	case EnvLocal:
		log = slog.New(
			slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case EnvDev:
		log = slog.New(
			slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log.With(slog.String("env", env)), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
