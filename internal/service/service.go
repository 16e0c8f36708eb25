package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/auth"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/config"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/storage"
	metrics "github.com/hashicorp/go-metrics"
)

const minPasswordLen = 8

type Service interface {
	Login(ctx context.Context, creds Credentials) (LoginResult, error)
	Authorize(ctx context.Context, req AuthorizeRequest) (*models.Principal, error)
	Refresh(ctx context.Context, rawRefreshToken string) (RefreshResult, error)
	Logout(ctx context.Context, rawAccessToken, rawRefreshToken string) error
	ChangePassword(ctx context.Context, identity, current, next string) error
	BlockAllForUser(ctx context.Context, identity string) (int64, error)
	CurrentUser(ctx context.Context, identity string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	CreateUser(ctx context.Context, nu NewUser) (models.User, error)
}

type Credentials struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

type LoginResult struct {
	User             models.User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	CSRFToken        string
}

// AuthorizeRequest carries what the authorization stage reads from one
// inbound request.
type AuthorizeRequest struct {
	AccessToken string
	Path        string
	CSRFHeader  string
}

type RefreshResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	CSRFToken       string
}

type NewUser struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Roles     []models.Role
}

type AuthService struct {
	log     *slog.Logger
	cfg     config.Auth
	tokens  storage.TokenStore
	users   storage.UserStore
	codec   *auth.Codec
	clock   auth.Clock
	metrics *metrics.Metrics
}

var _ Service = (*AuthService)(nil)

func New(log *slog.Logger, cfg config.Auth, tokens storage.TokenStore, users storage.UserStore, clock auth.Clock, m *metrics.Metrics) *AuthService {
	if clock == nil {
		clock = auth.SystemClock{}
	}

	return &AuthService{
		log:     log,
		cfg:     cfg,
		tokens:  tokens,
		users:   users,
		codec:   auth.NewCodec([]byte(cfg.Secret), cfg.Issuer, clock),
		clock:   clock,
		metrics: m,
	}
}

// Login checks the account state before the password, in the order
// NotFound, Disabled, Expired, Locked, BadCredentials.
func (s *AuthService) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	const op = "service.Login"

	log := s.log.With(slog.String("op", op))

	res, err := s.login(ctx, creds)
	if err != nil {
		outcome := "error"
		if kind, ok := KindOf(err); ok {
			outcome = string(kind)
			log.Info("login rejected", slog.String("identity", creds.Identity), slog.String("kind", outcome))
		}
		s.metrics.IncrCounterWithLabels([]string{"auth", "login"}, 1, []metrics.Label{{Name: "outcome", Value: outcome}})
		return LoginResult{}, err
	}

	log.Info("user logged in", slog.String("identity", res.User.Email))
	s.metrics.IncrCounterWithLabels([]string{"auth", "login"}, 1, []metrics.Label{{Name: "outcome", Value: "success"}})

	return res, nil
}

func (s *AuthService) login(ctx context.Context, creds Credentials) (LoginResult, error) {
	const op = "service.Login"

	if strings.TrimSpace(creds.Identity) == "" || creds.Password == "" {
		return LoginResult{}, newError(KindInvalidCredentialsBody, "identity and password are required")
	}

	user, err := s.users.FindUserByIdentity(ctx, creds.Identity)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return LoginResult{}, newError(KindNotFound, "no user %q", creds.Identity)
		}
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}

	switch {
	case !user.Enabled:
		return LoginResult{}, newError(KindDisabled, "user %q is disabled", user.Email)
	case user.Expired:
		return LoginResult{}, newError(KindExpired, "user %q is expired", user.Email)
	case user.Locked:
		return LoginResult{}, newError(KindLocked, "user %q is locked", user.Email)
	case !auth.CheckPasswordHash(user.PasswordHash, creds.Password):
		return LoginResult{}, newError(KindBadCredentials, "password mismatch for %q", user.Email)
	}

	csrf, err := auth.NewCSRFToken()
	if err != nil {
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}

	access, accessExp, err := s.issue(ctx, user, models.TokenTypeAccess, csrf)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}

	refresh, refreshExp, err := s.issue(ctx, user, models.TokenTypeRefresh, "")
	if err != nil {
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}

	return LoginResult{
		User:             user,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		CSRFToken:        csrf,
	}, nil
}

// Authorize returns nil without error for a request that carries no access
// token; such a request continues anonymously.
func (s *AuthService) Authorize(ctx context.Context, req AuthorizeRequest) (*models.Principal, error) {
	const op = "service.Authorize"

	if req.AccessToken == "" {
		return nil, nil
	}

	payload, err := s.decode(req.AccessToken)
	if err != nil {
		s.rejected("authorize", err)
		return nil, err
	}

	if payload.Type != models.TokenTypeAccess {
		err := newError(KindTokenInvalid, "%s token used as access token", payload.Type)
		s.rejected("authorize", err)
		return nil, err
	}

	if strings.HasPrefix(req.Path, s.cfg.APIPrefix) &&
		subtle.ConstantTimeCompare([]byte(req.CSRFHeader), []byte(payload.CSRF)) != 1 {
		err := newError(KindCsrfInvalid, "csrf header does not match token for %q", payload.Subject)
		s.rejected("authorize", err)
		return nil, err
	}

	if _, err := s.checkRow(ctx, payload); err != nil {
		if _, ok := KindOf(err); ok {
			s.rejected("authorize", err)
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.Principal{Identity: payload.Subject, Roles: payload.Roles}, nil
}

// Refresh issues a new access token and CSRF value. The refresh token itself
// is not rotated and stays usable until it expires or is blocked.
func (s *AuthService) Refresh(ctx context.Context, rawRefreshToken string) (RefreshResult, error) {
	const op = "service.Refresh"

	log := s.log.With(slog.String("op", op))

	if rawRefreshToken == "" {
		err := newError(KindTokenInvalid, "refresh token is missing")
		s.rejected("refresh", err)
		return RefreshResult{}, err
	}

	payload, err := s.decode(rawRefreshToken)
	if err != nil {
		s.rejected("refresh", err)
		return RefreshResult{}, err
	}

	if payload.Type != models.TokenTypeRefresh {
		err := newError(KindTokenInvalid, "%s token used as refresh token", payload.Type)
		s.rejected("refresh", err)
		return RefreshResult{}, err
	}

	row, err := s.checkRow(ctx, payload)
	if err != nil {
		if _, ok := KindOf(err); ok {
			s.rejected("refresh", err)
			return RefreshResult{}, err
		}
		return RefreshResult{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.users.FindUserByIdentity(ctx, payload.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			err := newError(KindTokenInvalid, "refresh token subject %q no longer exists", payload.Subject)
			s.rejected("refresh", err)
			return RefreshResult{}, err
		}
		return RefreshResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if user.ID != row.UserID || !user.Enabled || user.Locked || user.Expired {
		err := newError(KindTokenInvalid, "user %q may not refresh", user.Email)
		s.rejected("refresh", err)
		return RefreshResult{}, err
	}

	csrf, err := auth.NewCSRFToken()
	if err != nil {
		return RefreshResult{}, fmt.Errorf("%s: %w", op, err)
	}

	access, accessExp, err := s.issue(ctx, user, models.TokenTypeAccess, csrf)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Debug("access token refreshed", slog.String("identity", user.Email))

	return RefreshResult{AccessToken: access, AccessExpiresAt: accessExp, CSRFToken: csrf}, nil
}

// Logout blocks the registry rows of the presented tokens. Tokens that no
// longer verify or whose rows are gone are skipped.
func (s *AuthService) Logout(ctx context.Context, rawAccessToken, rawRefreshToken string) error {
	const op = "service.Logout"

	log := s.log.With(slog.String("op", op))

	var blocked int
	for _, raw := range []string{rawAccessToken, rawRefreshToken} {
		if raw == "" {
			continue
		}

		payload, err := s.codec.Decode(raw)
		if err != nil {
			continue
		}

		isBlocked, err := s.tokens.IsBlocked(ctx, payload.ID)
		if err != nil {
			if errors.Is(err, storage.ErrTokenNotFound) {
				continue
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		if isBlocked {
			continue
		}

		if err := s.tokens.BlockToken(ctx, payload.ID); err != nil {
			if errors.Is(err, storage.ErrTokenNotFound) {
				continue
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		blocked++
	}

	if blocked > 0 {
		log.Debug("tokens blocked on logout", slog.Int("count", blocked))
		s.metrics.IncrCounter([]string{"tokens", "blocked"}, float32(blocked))
	}

	return nil
}

// ChangePassword blocks every outstanding token of the user, ending all of
// their sessions, and then replaces the password.
func (s *AuthService) ChangePassword(ctx context.Context, identity, current, next string) error {
	const op = "service.ChangePassword"

	log := s.log.With(slog.String("op", op))

	user, err := s.findUser(ctx, identity)
	if err != nil {
		return err
	}

	if !auth.CheckPasswordHash(user.PasswordHash, current) {
		return newError(KindBadCredentials, "current password mismatch for %q", identity)
	}
	if len(next) < minPasswordLen {
		return newError(KindWeakPassword, "password shorter than %d characters", minPasswordLen)
	}

	hash, err := auth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// Sessions are ended first so a failed block leaves the old password.
	n, err := s.tokens.BlockAllForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password changed", slog.String("identity", identity), slog.Int64("blocked_tokens", n))

	return nil
}

func (s *AuthService) BlockAllForUser(ctx context.Context, identity string) (int64, error) {
	const op = "service.BlockAllForUser"

	log := s.log.With(slog.String("op", op))

	user, err := s.findUser(ctx, identity)
	if err != nil {
		return 0, err
	}

	n, err := s.tokens.BlockAllForUser(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user tokens blocked", slog.String("identity", identity), slog.Int64("count", n))
	s.metrics.IncrCounter([]string{"tokens", "blocked"}, float32(n))

	return n, nil
}

func (s *AuthService) CurrentUser(ctx context.Context, identity string) (models.User, error) {
	return s.findUser(ctx, identity)
}

func (s *AuthService) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "service.ListUsers"

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return users, nil
}

// CreateUser registers an enabled account. Without explicit roles the user
// gets the base USER role.
func (s *AuthService) CreateUser(ctx context.Context, nu NewUser) (models.User, error) {
	const op = "service.CreateUser"

	if strings.TrimSpace(nu.Email) == "" {
		return models.User{}, newError(KindInvalidCredentialsBody, "email is required")
	}
	if len(nu.Password) < minPasswordLen {
		return models.User{}, newError(KindWeakPassword, "password shorter than %d characters", minPasswordLen)
	}

	passwordHash, err := auth.HashPassword(nu.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	id, err := s.users.CreateUser(ctx, models.User{
		Email:        nu.Email,
		PasswordHash: passwordHash,
		FirstName:    nu.FirstName,
		LastName:     nu.LastName,
		Enabled:      true,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return models.User{}, newError(KindUserExists, "user %q already exists", nu.Email)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	roles := nu.Roles
	if len(roles) == 0 {
		roles = []models.Role{models.RoleUser}
	}
	for _, r := range roles {
		if err := s.users.AssignRole(ctx, id, r); err != nil {
			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	user, err := s.users.FindUserByID(ctx, id)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// issue persists the registry row first and then signs a token carrying its
// id. A failed signature leaves an orphan row that simply expires.
func (s *AuthService) issue(ctx context.Context, user models.User, tokenType models.TokenType, csrf string) (string, time.Time, error) {
	ttl := s.cfg.RefreshTokenTTL
	if tokenType == models.TokenTypeAccess {
		ttl = s.cfg.AccessTokenTTL
	}
	expiresAt := s.clock.Now().Add(ttl).Truncate(time.Second)

	row, err := s.tokens.IssueToken(ctx, user.ID, tokenType, expiresAt)
	if err != nil {
		return "", time.Time{}, err
	}

	payload := auth.Payload{
		Subject:   user.Email,
		Type:      tokenType,
		ID:        row.ID,
		ExpiresAt: expiresAt,
	}
	if tokenType == models.TokenTypeAccess {
		payload.Roles = user.Roles
		payload.CSRF = csrf
	}

	raw, err := s.codec.Encode(payload)
	if err != nil {
		return "", time.Time{}, err
	}

	return raw, expiresAt, nil
}

func (s *AuthService) decode(raw string) (auth.Payload, error) {
	payload, err := s.codec.Decode(raw)
	switch {
	case err == nil:
		return payload, nil
	case errors.Is(err, auth.ErrExpired):
		return auth.Payload{}, &Error{Kind: KindTokenExpired, Err: err}
	default:
		return auth.Payload{}, &Error{Kind: KindTokenInvalid, Err: err}
	}
}

// checkRow loads the registry row named by the jti. Missing, blocked and
// mismatched rows are reported alike so clients cannot tell them apart.
func (s *AuthService) checkRow(ctx context.Context, payload auth.Payload) (models.Token, error) {
	row, err := s.tokens.FindToken(ctx, payload.ID)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return models.Token{}, newError(KindTokenInvalid, "token %s is not registered", payload.ID)
		}
		return models.Token{}, err
	}

	if row.Blocked || row.Type != payload.Type {
		return models.Token{}, newError(KindTokenInvalid, "token %s is blocked or mismatched", payload.ID)
	}

	return row, nil
}

func (s *AuthService) findUser(ctx context.Context, identity string) (models.User, error) {
	const op = "service.findUser"

	user, err := s.users.FindUserByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, newError(KindNotFound, "no user %q", identity)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *AuthService) rejected(stage string, err error) {
	kind, _ := KindOf(err)
	s.log.Debug("token rejected", slog.String("stage", stage), slog.String("kind", string(kind)), slog.Any("error", err))
	s.metrics.IncrCounterWithLabels([]string{"auth", stage, "rejected"}, 1, []metrics.Label{{Name: "kind", Value: string(kind)}})
}
