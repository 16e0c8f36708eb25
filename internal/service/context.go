package service

import (
	"context"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
)

type contextKey int

const principalKey contextKey = iota

func ContextWithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller established by Authorize. ok is
// false for anonymous requests.
func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok
}
