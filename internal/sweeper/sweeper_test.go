package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/storage"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/storage/inmem"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/telemetry"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedUser(t *testing.T, s *inmem.Storage) uuid.UUID {
	t.Helper()
	id, err := s.CreateUser(context.Background(), models.User{Email: "user@mail.com", PasswordHash: "x", Enabled: true, Roles: []models.Role{models.RoleUser}})
	require.NoError(t, err)
	return id
}

func TestSweep_DeletesExpiredThenNothing(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	userID := seedUser(t, store)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := store.IssueToken(ctx, userID, models.TokenTypeAccess, now.Add(-time.Duration(i+1)*time.Hour))
		require.NoError(t, err)
	}
	blocked, err := store.IssueToken(ctx, userID, models.TokenTypeRefresh, now.Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, store.BlockToken(ctx, blocked.ID))
	live, err := store.IssueToken(ctx, userID, models.TokenTypeRefresh, now.Add(time.Hour))
	require.NoError(t, err)

	m, sink, err := telemetry.New("monal")
	require.NoError(t, err)
	sw := New(store, &fakeClock{now: now}, time.Hour, discardLogger(), m)

	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "blocked rows are swept too")

	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = store.FindToken(ctx, live.ID)
	assert.NoError(t, err)
	_, err = store.FindToken(ctx, blocked.ID)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	assert.Equal(t, float64(4), telemetry.CounterTotal(sink, "monal.sweep.deleted"))
}

type failingStore struct {
	storage.TokenStore
	count      int64
	countErr   error
	sweepErr   error
	sweepCalls atomic.Int32
}

func (f *failingStore) CountExpired(context.Context, time.Time) (int64, error) {
	return f.count, f.countErr
}

func (f *failingStore) SweepExpired(context.Context, time.Time) (int64, error) {
	f.sweepCalls.Add(1)
	return 0, f.sweepErr
}

func TestSweep_ZeroSkipsDelete(t *testing.T) {
	store := &failingStore{}
	sw := New(store, &fakeClock{now: time.Now()}, time.Hour, discardLogger(), telemetry.Discard())

	n, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, store.sweepCalls.Load())
}

func TestRunOnce_SwallowsErrors(t *testing.T) {
	ctx := context.Background()

	countFails := &failingStore{countErr: errors.New("connection refused")}
	sw := New(countFails, nil, time.Hour, discardLogger(), telemetry.Discard())
	assert.NotPanics(t, func() { assert.Zero(t, sw.RunOnce(ctx)) })

	deleteFails := &failingStore{count: 5, sweepErr: errors.New("deadlock detected")}
	sw = New(deleteFails, nil, time.Hour, discardLogger(), telemetry.Discard())
	assert.Zero(t, sw.RunOnce(ctx))

	_, err := sw.Sweep(ctx)
	assert.ErrorContains(t, err, "deadlock detected")
}

func TestRun_RetriesOnEveryTick(t *testing.T) {
	store := &failingStore{count: 1, sweepErr: errors.New("boom")}
	sw := New(store, nil, 5*time.Millisecond, discardLogger(), telemetry.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	require.Eventually(t, func() bool { return store.sweepCalls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
