package handler

import (
	"net/http"
	"sync"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/config"
	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// loginLimiter keeps one token bucket per client IP. The least recently
// seen clients are dropped once the cache is full.
type loginLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

func newLoginLimiter(cfg config.RateLimit) (*loginLimiter, error) {
	size := cfg.Clients
	if size <= 0 {
		size = 1
	}

	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, err
	}

	return &loginLimiter{
		limiters: cache,
		limit:    rate.Limit(cfg.LoginPerSecond),
		burst:    cfg.LoginBurst,
	}, nil
}

func (l *loginLimiter) allow(client string) bool {
	l.mu.Lock()
	lim, ok := l.limiters.Get(client)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(client, lim)
	}
	l.mu.Unlock()

	return lim.Allow()
}

func (h *Handler) LoginRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter != nil && !h.limiter.allow(c.ClientIP()) {
			newErrorResponse(c, http.StatusTooManyRequests, codeTooManyRequests, "")
			return
		}
		c.Next()
	}
}
