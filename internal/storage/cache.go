package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/auth"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/gofrs/uuid"
	metrics "github.com/hashicorp/go-metrics"
)

// CachedTokenStore remembers tokens that were seen blocked. Blocking is never
// undone, so a cached row can only go stale by expiring, and each entry lives
// no longer than its token. Unblocked rows are always read from the
// underlying store.
type CachedTokenStore struct {
	TokenStore
	cache   *ristretto.Cache[string, models.Token]
	clock   auth.Clock
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewCachedTokenStore(inner TokenStore, maxBlocked int64, clock auth.Clock, log *slog.Logger, m *metrics.Metrics) (*CachedTokenStore, error) {
	const op = "storage.NewCachedTokenStore"

	if clock == nil {
		clock = auth.SystemClock{}
	}

	if maxBlocked <= 0 {
		maxBlocked = 1
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, models.Token]{
		NumCounters:        maxBlocked * 10,
		MaxCost:            maxBlocked,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &CachedTokenStore{
		TokenStore: inner,
		cache:      cache,
		clock:      clock,
		log:        log,
		metrics:    m,
	}, nil
}

func (s *CachedTokenStore) FindToken(ctx context.Context, id uuid.UUID) (models.Token, error) {
	if token, ok := s.cache.Get(id.String()); ok {
		s.metrics.IncrCounter([]string{"tokens", "cache", "hit"}, 1)
		return token, nil
	}
	s.metrics.IncrCounter([]string{"tokens", "cache", "miss"}, 1)

	token, err := s.TokenStore.FindToken(ctx, id)
	if err != nil {
		return models.Token{}, err
	}

	if token.Blocked {
		s.remember(token)
	}

	return token, nil
}

func (s *CachedTokenStore) IsBlocked(ctx context.Context, id uuid.UUID) (bool, error) {
	if _, ok := s.cache.Get(id.String()); ok {
		s.metrics.IncrCounter([]string{"tokens", "cache", "hit"}, 1)
		return true, nil
	}
	s.metrics.IncrCounter([]string{"tokens", "cache", "miss"}, 1)

	return s.TokenStore.IsBlocked(ctx, id)
}

func (s *CachedTokenStore) remember(token models.Token) {
	ttl := token.ExpirationDate.Sub(s.clock.Now())
	if ttl <= 0 {
		return
	}

	if !s.cache.SetWithTTL(token.ID.String(), token, 1, ttl) {
		s.log.Debug("blocked token not cached", slog.String("token_id", token.ID.String()))
	}
}

// Wait blocks until buffered cache writes are applied.
func (s *CachedTokenStore) Wait() {
	s.cache.Wait()
}

func (s *CachedTokenStore) Close() {
	s.cache.Close()
}
