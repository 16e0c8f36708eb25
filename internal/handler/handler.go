package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/config"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/service"
	"github.com/gin-gonic/gin"
	metrics "github.com/hashicorp/go-metrics"
)

type Handler struct {
	service service.Service
	cfg     config.Auth
	limiter *loginLimiter
	sink    *metrics.InmemSink
	log     *slog.Logger
	router  *gin.Engine
}

type loginResponse struct {
	Identity  string        `json:"identity"`
	FirstName string        `json:"firstName"`
	LastName  string        `json:"lastName"`
	Roles     []models.Role `json:"roles"`
	CSRFToken string        `json:"csrfToken"`
}

type refreshResponse struct {
	CSRFToken string `json:"csrfToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type blockUserRequest struct {
	Identity string `json:"identity" binding:"required"`
}

// NewHandler wires the HTTP layer. sink may be nil, in which case the
// metrics endpoint answers 404. Client IPs come from the socket peer unless
// it is one of rl.TrustedProxies.
func NewHandler(srvc service.Service, cfg config.Auth, rl config.RateLimit, sink *metrics.InmemSink, lgr *slog.Logger) (*Handler, error) {
	const op = "handler.NewHandler"

	limiter, err := newLoginLimiter(rl)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	router := gin.New()
	if err := router.SetTrustedProxies(rl.TrustedProxies); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Handler{
		service: srvc,
		cfg:     cfg,
		limiter: limiter,
		sink:    sink,
		log:     lgr,
		router:  router,
	}, nil
}

func (h *Handler) InitRoutes() *gin.Engine {
	router := h.router
	router.Use(h.RequestID(), h.RequestLogger(), h.Recovery(), h.Authorization())

	router.GET("/health", h.Health)

	auth := router.Group("/auth")
	{
		auth.POST("/login", h.LoginRateLimit(), h.Login)
		auth.GET("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)
	}

	api := router.Group("/api", h.RequireAuthenticated())
	{
		user := api.Group("/user")
		user.GET("/me", h.Me)
		user.POST("/password", h.ChangePassword)

		admin := api.Group("/admin", h.RequireRole(models.RoleAdmin))
		admin.GET("/users", h.ListUsers)
		admin.POST("/users/block", h.BlockUser)
		admin.GET("/metrics", h.Metrics)
	}

	return router
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	const op = "handler.Login"

	log := h.log.With(slog.String("op", op))

	var creds service.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		log.Debug("failed to read login body", slog.Any("error", err))

		newErrorResponse(c, http.StatusUnauthorized, string(service.KindInvalidCredentialsBody), "")

		return
	}

	res, err := h.service.Login(c.Request.Context(), creds)
	if err != nil {
		h.writeError(c, op, err)

		return
	}

	h.setCookie(c, h.cfg.AccessCookieName, res.AccessToken, h.cfg.AccessTokenTTL)
	h.setCookie(c, h.cfg.RefreshCookieName, res.RefreshToken, h.cfg.RefreshTokenTTL)

	c.JSON(http.StatusOK, loginResponse{
		Identity:  res.User.Email,
		FirstName: res.User.FirstName,
		LastName:  res.User.LastName,
		Roles:     res.User.Roles,
		CSRFToken: res.CSRFToken,
	})
}

// GET /auth/refresh
func (h *Handler) Refresh(c *gin.Context) {
	const op = "handler.Refresh"

	raw, _ := c.Cookie(h.cfg.RefreshCookieName)

	res, err := h.service.Refresh(c.Request.Context(), raw)
	if err != nil {
		h.writeError(c, op, err)

		return
	}

	h.setCookie(c, h.cfg.AccessCookieName, res.AccessToken, h.cfg.AccessTokenTTL)

	c.JSON(http.StatusOK, refreshResponse{CSRFToken: res.CSRFToken})
}

// POST /auth/logout
//
// Logout blocks the presented tokens and drops the cookies. The cookies are
// cleared even when blocking fails.
func (h *Handler) Logout(c *gin.Context) {
	const op = "handler.Logout"

	refresh, _ := c.Cookie(h.cfg.RefreshCookieName)

	if err := h.service.Logout(c.Request.Context(), h.accessToken(c), refresh); err != nil {
		h.log.Error("failed to block tokens on logout",
			slog.String("op", op),
			slog.String("request_id", c.GetString(requestIDKey)),
			slog.Any("error", err),
		)
	}

	h.clearCookie(c, h.cfg.AccessCookieName)
	h.clearCookie(c, h.cfg.RefreshCookieName)

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// GET /api/user/me
func (h *Handler) Me(c *gin.Context) {
	const op = "handler.Me"

	p, _ := principalFrom(c)

	user, err := h.service.CurrentUser(c.Request.Context(), p.Identity)
	if err != nil {
		h.writeError(c, op, err)

		return
	}

	c.JSON(http.StatusOK, user)
}

// POST /api/user/password
func (h *Handler) ChangePassword(c *gin.Context) {
	const op = "handler.ChangePassword"

	log := h.log.With(slog.String("op", op))

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug("failed to read change password body", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, codeInvalidBody, "")

		return
	}

	p, _ := principalFrom(c)

	if err := h.service.ChangePassword(c.Request.Context(), p.Identity, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(c, op, err)

		return
	}

	h.clearCookie(c, h.cfg.AccessCookieName)
	h.clearCookie(c, h.cfg.RefreshCookieName)

	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

// GET /api/admin/users
func (h *Handler) ListUsers(c *gin.Context) {
	const op = "handler.ListUsers"

	users, err := h.service.ListUsers(c.Request.Context())
	if err != nil {
		h.writeError(c, op, err)

		return
	}

	if users == nil {
		users = []models.User{}
	}

	c.JSON(http.StatusOK, users)
}

// POST /api/admin/users/block
func (h *Handler) BlockUser(c *gin.Context) {
	const op = "handler.BlockUser"

	log := h.log.With(slog.String("op", op))

	var req blockUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug("failed to read block body", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, codeInvalidBody, "")

		return
	}

	n, err := h.service.BlockAllForUser(c.Request.Context(), req.Identity)
	if err != nil {
		if kind, _ := service.KindOf(err); kind == service.KindNotFound {
			newErrorResponse(c, http.StatusNotFound, string(kind), "identity")

			return
		}
		h.writeError(c, op, err)

		return
	}

	p, _ := principalFrom(c)
	log.Info("sessions revoked by admin", slog.String("admin", p.Identity), slog.String("identity", req.Identity))

	c.JSON(http.StatusOK, gin.H{"blocked": n})
}

// GET /api/admin/metrics
func (h *Handler) Metrics(c *gin.Context) {
	const op = "handler.Metrics"

	if h.sink == nil {
		c.AbortWithStatus(http.StatusNotFound)

		return
	}

	data, err := h.sink.DisplayMetrics(c.Writer, c.Request)
	if err != nil {
		h.writeError(c, op, err)

		return
	}

	c.JSON(http.StatusOK, data)
}
