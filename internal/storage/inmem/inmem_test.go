package inmem

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/storage"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, s *Storage, email string) uuid.UUID {
	t.Helper()
	id, err := s.CreateUser(context.Background(), models.User{Email: email, PasswordHash: "h", Enabled: true})
	require.NoError(t, err)
	return id
}

func TestUsers(t *testing.T) {
	s := New()
	ctx := context.Background()

	id := seedUser(t, s, "a@mail.com")
	_, err := s.CreateUser(ctx, models.User{Email: "a@mail.com"})
	assert.ErrorIs(t, err, storage.ErrUserExists)

	require.NoError(t, s.AssignRole(ctx, id, models.RoleUser))
	require.NoError(t, s.AssignRole(ctx, id, models.RoleAdmin))
	require.NoError(t, s.AssignRole(ctx, id, models.RoleUser))

	user, err := s.FindUserByIdentity(ctx, "a@mail.com")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, []models.Role{models.RoleAdmin, models.RoleUser}, user.Roles)

	user.Roles[0] = models.RoleUser
	again, err := s.FindUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, again.Roles[0], "callers get a copy")

	require.NoError(t, s.UpdatePassword(ctx, id, "h2"))
	again, err = s.FindUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "h2", again.PasswordHash)

	require.NoError(t, s.SetUserFlags(id, false, true, false))
	again, err = s.FindUserByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, again.Enabled)
	assert.True(t, again.Locked)

	_, err = s.FindUserByIdentity(ctx, "nobody@mail.com")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
	assert.ErrorIs(t, s.UpdatePassword(ctx, uuid.Must(uuid.NewV4()), "x"), storage.ErrUserNotFound)
}

func TestListUsers_Ordered(t *testing.T) {
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	seedUser(t, s, "c@mail.com")
	seedUser(t, s, "a@mail.com")
	seedUser(t, s, "b@mail.com")

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "c@mail.com", users[0].Email)
	assert.Equal(t, "b@mail.com", users[2].Email)
}

func TestTokens(t *testing.T) {
	s := New()
	ctx := context.Background()
	userID := seedUser(t, s, "a@mail.com")
	exp := time.Now().Add(time.Hour)

	_, err := s.IssueToken(ctx, uuid.Must(uuid.NewV4()), models.TokenTypeAccess, exp)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	access, err := s.IssueToken(ctx, userID, models.TokenTypeAccess, exp)
	require.NoError(t, err)
	refresh, err := s.IssueToken(ctx, userID, models.TokenTypeRefresh, exp)
	require.NoError(t, err)
	assert.NotEqual(t, access.ID, refresh.ID)

	blocked, err := s.IsBlocked(ctx, access.ID)
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, s.BlockToken(ctx, access.ID))
	require.NoError(t, s.BlockToken(ctx, access.ID))
	assert.ErrorIs(t, s.BlockToken(ctx, uuid.Must(uuid.NewV4())), storage.ErrTokenNotFound)

	n, err := s.BlockAllForUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the refresh token was still live")

	got, err := s.FindToken(ctx, refresh.ID)
	require.NoError(t, err)
	assert.True(t, got.Blocked)

	_, err = s.IsBlocked(ctx, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestSweepExpired(t *testing.T) {
	s := New()
	ctx := context.Background()
	userID := seedUser(t, s, "a@mail.com")
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := s.IssueToken(ctx, userID, models.TokenTypeAccess, now.Add(-time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	live, err := s.IssueToken(ctx, userID, models.TokenTypeRefresh, now.Add(time.Second))
	require.NoError(t, err)

	n, err := s.CountExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.FindToken(ctx, live.ID)
	assert.NoError(t, err)
}

func TestConcurrentBlocking(t *testing.T) {
	s := New()
	ctx := context.Background()
	userID := seedUser(t, s, "a@mail.com")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := s.IssueToken(ctx, userID, models.TokenTypeAccess, time.Now().Add(time.Hour))
			if err == nil {
				_ = s.BlockToken(ctx, token.ID)
			}
			_, _ = s.BlockAllForUser(ctx, userID)
		}()
	}
	wg.Wait()

	n, err := s.BlockAllForUser(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
