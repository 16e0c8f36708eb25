package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
	"github.com/gofrs/uuid"
)

func (p *PostgresStorage) IssueToken(ctx context.Context, userID uuid.UUID, tokenType models.TokenType, expiresAt time.Time) (models.Token, error) {
	const op = "storage.IssueToken"

	id, err := uuid.NewV4()
	if err != nil {
		return models.Token{}, fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, token_type, expiration_date, user_id, blocked)
	VALUES ($1, $2, $3, $4, FALSE)`, tokensTable)

	if _, err := p.db.ExecContext(ctx, query, id, string(tokenType), expiresAt, userID); err != nil {
		return models.Token{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.Token{
		ID:             id,
		Type:           tokenType,
		ExpirationDate: expiresAt,
		UserID:         userID,
	}, nil
}

func (p *PostgresStorage) FindToken(ctx context.Context, id uuid.UUID) (models.Token, error) {
	const op = "storage.FindToken"

	var (
		token     models.Token
		tokenType string
	)
	query := fmt.Sprintf(`SELECT id, token_type, expiration_date, user_id, blocked FROM %s WHERE id = $1`, tokensTable)

	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&token.ID,
		&tokenType,
		&token.ExpirationDate,
		&token.UserID,
		&token.Blocked,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Token{}, ErrTokenNotFound
		}
		return models.Token{}, fmt.Errorf("%s: %w", op, err)
	}

	if token.Type, err = models.ParseTokenType(tokenType); err != nil {
		return models.Token{}, fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

func (p *PostgresStorage) IsBlocked(ctx context.Context, id uuid.UUID) (bool, error) {
	const op = "storage.IsBlocked"

	var blocked bool
	query := fmt.Sprintf(`SELECT blocked FROM %s WHERE id = $1`, tokensTable)

	if err := p.db.QueryRowContext(ctx, query, id).Scan(&blocked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrTokenNotFound
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return blocked, nil
}

// BlockToken is idempotent: blocking an already blocked token still matches
// the row and succeeds.
func (p *PostgresStorage) BlockToken(ctx context.Context, id uuid.UUID) error {
	const op = "storage.BlockToken"

	query := fmt.Sprintf(`UPDATE %s SET blocked = TRUE WHERE id = $1`, tokensTable)

	res, err := p.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrTokenNotFound
	}

	return nil
}

func (p *PostgresStorage) BlockAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "storage.BlockAllForUser"

	query := fmt.Sprintf(`UPDATE %s SET blocked = TRUE WHERE user_id = $1 AND blocked = FALSE`, tokensTable)

	return p.execCount(ctx, op, query, userID)
}

func (p *PostgresStorage) CountExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.CountExpired"

	var n int64
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE expiration_date <= $1`, tokensTable)

	if err := p.db.QueryRowContext(ctx, query, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (p *PostgresStorage) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.SweepExpired"

	query := fmt.Sprintf(`DELETE FROM %s WHERE expiration_date <= $1`, tokensTable)

	return p.execCount(ctx, op, query, now)
}

func (p *PostgresStorage) execCount(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}
