package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/config"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
	"github.com/gofrs/uuid"
	_ "github.com/jackc/pgx/v4/stdlib"
)

const (
	usersTable     = "users"
	userRolesTable = "user_roles"
	tokensTable    = "tokens"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrUserExists    = errors.New("user already exists")
)

// TokenStore is the durable registry of issued tokens. Every mutation is a
// single statement so concurrent callers never observe partial updates.
type TokenStore interface {
	IssueToken(ctx context.Context, userID uuid.UUID, tokenType models.TokenType, expiresAt time.Time) (models.Token, error)
	FindToken(ctx context.Context, id uuid.UUID) (models.Token, error)
	IsBlocked(ctx context.Context, id uuid.UUID) (bool, error)
	BlockToken(ctx context.Context, id uuid.UUID) error
	BlockAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	CountExpired(ctx context.Context, now time.Time) (int64, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user models.User) (uuid.UUID, error)
	FindUserByIdentity(ctx context.Context, email string) (models.User, error)
	FindUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	AssignRole(ctx context.Context, userID uuid.UUID, role models.Role) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
}

type Storage interface {
	TokenStore
	UserStore
	Close() error
}

var _ Storage = (*PostgresStorage)(nil)

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// Open connects through the pgx database/sql driver and verifies the
// connection before returning.
func Open(ctx context.Context, cfg config.DB) (*PostgresStorage, error) {
	const op = "storage.Open"

	db, err := sql.Open("pgx", cfg.DbURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return NewPostgresStorage(db), nil
}

func (p *PostgresStorage) DB() *sql.DB {
	return p.db
}

func (p *PostgresStorage) Close() error {
	return p.db.Close()
}
