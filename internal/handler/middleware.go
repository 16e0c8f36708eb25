package handler

import (
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDKey     = "request_id"
	principalKey     = "principal"
	requestIDHeader  = "X-Request-ID"
	bearerPrefix     = "Bearer "
	authorizationHdr = "Authorization"
)

// RequestID tags every request with an id, reusing the caller's
// X-Request-ID when present.
func (h *Handler) RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (h *Handler) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		h.log.Info("request",
			slog.String("request_id", c.GetString(requestIDKey)),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
		)
	}
}

// Recovery turns a panic into a 500 and logs it with the stack.
func (h *Handler) Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		h.log.Error("panic recovered",
			slog.String("request_id", c.GetString(requestIDKey)),
			slog.Any("panic", recovered),
			slog.String("stack", string(debug.Stack())),
		)
		newErrorResponse(c, http.StatusInternalServerError, typeServer, "")
	})
}

// Authorization runs the authorization stage for every path outside the
// allow-list. Requests without an access token continue anonymously; the
// route guards decide whether that is enough.
func (h *Handler) Authorization() gin.HandlerFunc {
	const op = "handler.Authorization"

	public := map[string]struct{}{
		"/auth/login":   {},
		"/auth/refresh": {},
		"/auth/logout":  {},
		"/health":       {},
	}

	return func(c *gin.Context) {
		if _, ok := public[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		principal, err := h.service.Authorize(c.Request.Context(), service.AuthorizeRequest{
			AccessToken: h.accessToken(c),
			Path:        c.Request.URL.Path,
			CSRFHeader:  c.GetHeader(h.cfg.CSRFHeader),
		})
		if err != nil {
			h.writeError(c, op, err)
			return
		}

		if principal != nil {
			c.Set(principalKey, *principal)
			c.Request = c.Request.WithContext(service.ContextWithPrincipal(c.Request.Context(), *principal))
		}

		c.Next()
	}
}

func (h *Handler) RequireAuthenticated() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := principalFrom(c); !ok {
			newErrorResponse(c, http.StatusForbidden, string(service.KindAccessDenied), "")
			return
		}
		c.Next()
	}
}

func (h *Handler) RequireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principalFrom(c)
		if !ok || !p.HasRole(role) {
			newErrorResponse(c, http.StatusForbidden, string(service.KindAccessDenied), "")
			return
		}
		c.Next()
	}
}

// accessToken reads the access cookie. The bearer header is only honoured
// when enabled for legacy clients.
func (h *Handler) accessToken(c *gin.Context) string {
	if v, err := c.Cookie(h.cfg.AccessCookieName); err == nil && v != "" {
		return v
	}

	if h.cfg.AllowBearerHeader {
		if hdr := c.GetHeader(authorizationHdr); strings.HasPrefix(hdr, bearerPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(hdr, bearerPrefix))
		}
	}

	return ""
}

func principalFrom(c *gin.Context) (models.Principal, bool) {
	if v, ok := c.Get(principalKey); ok {
		p, ok := v.(models.Principal)
		return p, ok
	}
	return service.PrincipalFromContext(c.Request.Context())
}
