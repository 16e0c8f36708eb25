package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorageWithMock(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStorage(db), mock
}

var tokenColumns = []string{"id", "token_type", "expiration_date", "user_id", "blocked"}

func TestIssueToken(t *testing.T) {
	s, mock := newStorageWithMock(t)
	userID := uuid.Must(uuid.NewV4())
	exp := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	q := `(?s)^INSERT\s+INTO\s+tokens\s+\(id,\s*token_type,\s*expiration_date,\s*user_id,\s*blocked\)\s+VALUES\s+\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*FALSE\)$`
	mock.ExpectExec(q).
		WithArgs(sqlmock.AnyArg(), "ACCESS", exp, userID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	token, err := s.IssueToken(context.Background(), userID, models.TokenTypeAccess, exp)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, token.ID)
	assert.Equal(t, uuid.V4, token.ID.Version())
	assert.Equal(t, models.TokenTypeAccess, token.Type)
	assert.Equal(t, userID, token.UserID)
	assert.False(t, token.Blocked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueToken_DBError(t *testing.T) {
	s, mock := newStorageWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+tokens`).WillReturnError(errors.New("db down"))

	_, err := s.IssueToken(context.Background(), uuid.Must(uuid.NewV4()), models.TokenTypeRefresh, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.IssueToken: db down")
}

func TestFindToken(t *testing.T) {
	s, mock := newStorageWithMock(t)
	id := uuid.Must(uuid.NewV4())
	userID := uuid.Must(uuid.NewV4())
	exp := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	q := `(?s)^SELECT\s+id,\s*token_type,\s*expiration_date,\s*user_id,\s*blocked\s+FROM\s+tokens\s+WHERE\s+id\s*=\s*\$1$`
	mock.ExpectQuery(q).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(tokenColumns).AddRow(id.String(), "REFRESH", exp, userID.String(), true))

	token, err := s.FindToken(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.Token{ID: id, Type: models.TokenTypeRefresh, ExpirationDate: exp, UserID: userID, Blocked: true}, token)
}

func TestFindToken_NotFound(t *testing.T) {
	s, mock := newStorageWithMock(t)

	mock.ExpectQuery(`SELECT\s+id,\s*token_type`).WillReturnError(sql.ErrNoRows)

	_, err := s.FindToken(context.Background(), uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestFindToken_UnknownType(t *testing.T) {
	s, mock := newStorageWithMock(t)
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT\s+id,\s*token_type`).
		WillReturnRows(sqlmock.NewRows(tokenColumns).AddRow(id.String(), "ID", time.Now(), id.String(), false))

	_, err := s.FindToken(context.Background(), id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenNotFound)
}

func TestIsBlocked(t *testing.T) {
	s, mock := newStorageWithMock(t)
	id := uuid.Must(uuid.NewV4())

	q := `(?s)^SELECT\s+blocked\s+FROM\s+tokens\s+WHERE\s+id\s*=\s*\$1$`
	mock.ExpectQuery(q).WithArgs(id.String()).WillReturnRows(sqlmock.NewRows([]string{"blocked"}).AddRow(true))
	mock.ExpectQuery(q).WithArgs(id.String()).WillReturnError(sql.ErrNoRows)

	blocked, err := s.IsBlocked(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, blocked)

	_, err = s.IsBlocked(context.Background(), id)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestBlockToken(t *testing.T) {
	s, mock := newStorageWithMock(t)
	id := uuid.Must(uuid.NewV4())

	q := `(?s)^UPDATE\s+tokens\s+SET\s+blocked\s*=\s*TRUE\s+WHERE\s+id\s*=\s*\$1$`
	mock.ExpectExec(q).WithArgs(id.String()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(id.String()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(id.String()).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.BlockToken(context.Background(), id))
	require.NoError(t, s.BlockToken(context.Background(), id), "blocking twice succeeds")
	assert.ErrorIs(t, s.BlockToken(context.Background(), id), ErrTokenNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBlockAllForUser(t *testing.T) {
	s, mock := newStorageWithMock(t)
	userID := uuid.Must(uuid.NewV4())

	q := `(?s)^UPDATE\s+tokens\s+SET\s+blocked\s*=\s*TRUE\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+blocked\s*=\s*FALSE$`
	mock.ExpectExec(q).WithArgs(userID.String()).WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.BlockAllForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountAndSweepExpired(t *testing.T) {
	s, mock := newStorageWithMock(t)
	now := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)^SELECT\s+count\(\*\)\s+FROM\s+tokens\s+WHERE\s+expiration_date\s*<=\s*\$1$`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+tokens\s+WHERE\s+expiration_date\s*<=\s*\$1$`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.CountExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.SweepExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepExpired_DBError(t *testing.T) {
	s, mock := newStorageWithMock(t)

	mock.ExpectExec(`DELETE\s+FROM\s+tokens`).WillReturnError(errors.New("db err"))

	_, err := s.SweepExpired(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.SweepExpired")
}
