package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
	"github.com/gofrs/uuid"
	"github.com/jackc/pgconn"
)

const uniqueViolation = "23505"

// userSelect reads a user with its roles folded into one comma separated
// column; callers must GROUP BY u.id.
var userSelect = fmt.Sprintf(`SELECT u.id, u.email, u.password_hash, u.first_name, u.last_name,
	u.enabled, u.locked, u.expired, u.created_at,
	COALESCE(string_agg(r.role, ',' ORDER BY r.role), '')
	FROM %s u LEFT JOIN %s r ON r.user_id = u.id`, usersTable, userRolesTable)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (models.User, error) {
	var (
		user  models.User
		roles string
	)

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Enabled,
		&user.Locked,
		&user.Expired,
		&user.CreatedAt,
		&roles,
	)
	if err != nil {
		return models.User{}, err
	}

	if roles == "" {
		return user, nil
	}
	for _, s := range strings.Split(roles, ",") {
		r, err := models.ParseRole(s)
		if err != nil {
			return models.User{}, err
		}
		user.Roles = append(user.Roles, r)
	}

	return user, nil
}

func (p *PostgresStorage) CreateUser(ctx context.Context, user models.User) (uuid.UUID, error) {
	const op = "storage.CreateUser"

	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, email, password_hash, first_name, last_name, enabled, locked, expired)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, usersTable)

	_, err = p.db.ExecContext(ctx, query,
		id, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		user.Enabled, user.Locked, user.Expired,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return uuid.Nil, ErrUserExists
		}
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (p *PostgresStorage) FindUserByIdentity(ctx context.Context, email string) (models.User, error) {
	const op = "storage.FindUserByIdentity"

	query := userSelect + " WHERE u.email = $1 GROUP BY u.id"

	user, err := scanUser(p.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (p *PostgresStorage) FindUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	const op = "storage.FindUserByID"

	query := userSelect + " WHERE u.id = $1 GROUP BY u.id"

	user, err := scanUser(p.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (p *PostgresStorage) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "storage.ListUsers"

	query := userSelect + " GROUP BY u.id ORDER BY u.created_at, u.email"

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s (rows): %w", op, err)
	}

	return users, nil
}

func (p *PostgresStorage) AssignRole(ctx context.Context, userID uuid.UUID, role models.Role) error {
	const op = "storage.AssignRole"

	query := fmt.Sprintf(`INSERT INTO %s (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userRolesTable)

	if _, err := p.db.ExecContext(ctx, query, userID, string(role)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *PostgresStorage) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	const op = "storage.UpdatePassword"

	query := fmt.Sprintf(`UPDATE %s SET password_hash = $1 WHERE id = $2`, usersTable)

	res, err := p.db.ExecContext(ctx, query, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}

	return nil
}
