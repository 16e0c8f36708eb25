// Package sweeper periodically deletes expired rows from the token registry.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/auth"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/storage"
	metrics "github.com/hashicorp/go-metrics"
)

type Sweeper struct {
	store    storage.TokenStore
	clock    auth.Clock
	interval time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func New(store storage.TokenStore, clock auth.Clock, interval time.Duration, log *slog.Logger, m *metrics.Metrics) *Sweeper {
	if clock == nil {
		clock = auth.SystemClock{}
	}

	return &Sweeper{
		store:    store,
		clock:    clock,
		interval: interval,
		log:      log,
		metrics:  m,
	}
}

// Run sweeps once at start and then on every tick until ctx is done. It
// always returns nil; failed sweeps are retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("token sweeper started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			s.log.Info("token sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep, logging instead of returning failures.
func (s *Sweeper) RunOnce(ctx context.Context) int64 {
	const op = "sweeper.RunOnce"

	n, err := s.Sweep(ctx)
	if err != nil {
		s.log.Error("token sweep failed", slog.String("op", op), slog.Any("error", err))
		s.metrics.IncrCounter([]string{"sweep", "failed"}, 1)
		return 0
	}

	return n
}

// Sweep deletes every token whose expiration date has passed, regardless
// of its blocked flag, and returns how many rows were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	const op = "sweeper.Sweep"

	log := s.log.With(slog.String("op", op))
	now := s.clock.Now()

	expired, err := s.store.CountExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if expired == 0 {
		log.Info("no expired tokens to delete")
		return 0, nil
	}

	deleted, err := s.store.SweepExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("expired tokens deleted", slog.Int64("count", deleted))
	s.metrics.IncrCounter([]string{"sweep", "deleted"}, float32(deleted))

	return deleted, nil
}
