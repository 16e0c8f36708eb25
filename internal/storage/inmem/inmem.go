// Package inmem keeps users and tokens in process memory. It backs local
// runs with db.driver=inmem and the service level tests.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/storage"
	"github.com/gofrs/uuid"
)

var _ storage.Storage = (*Storage)(nil)

type Storage struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]models.User
	byEmail map[string]uuid.UUID
	tokens  map[uuid.UUID]models.Token
	now     func() time.Time
}

func New() *Storage {
	return &Storage{
		users:   make(map[uuid.UUID]models.User),
		byEmail: make(map[string]uuid.UUID),
		tokens:  make(map[uuid.UUID]models.Token),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Storage) IssueToken(_ context.Context, userID uuid.UUID, tokenType models.TokenType, expiresAt time.Time) (models.Token, error) {
	const op = "inmem.IssueToken"

	id, err := uuid.NewV4()
	if err != nil {
		return models.Token{}, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return models.Token{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	token := models.Token{
		ID:             id,
		Type:           tokenType,
		ExpirationDate: expiresAt,
		UserID:         userID,
	}
	s.tokens[id] = token

	return token, nil
}

func (s *Storage) FindToken(_ context.Context, id uuid.UUID) (models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[id]
	if !ok {
		return models.Token{}, storage.ErrTokenNotFound
	}
	return token, nil
}

func (s *Storage) IsBlocked(ctx context.Context, id uuid.UUID) (bool, error) {
	token, err := s.FindToken(ctx, id)
	if err != nil {
		return false, err
	}
	return token.Blocked, nil
}

func (s *Storage) BlockToken(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return storage.ErrTokenNotFound
	}
	token.Blocked = true
	s.tokens[id] = token

	return nil
}

func (s *Storage) BlockAllForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, token := range s.tokens {
		if token.UserID == userID && !token.Blocked {
			token.Blocked = true
			s.tokens[id] = token
			n++
		}
	}

	return n, nil
}

func (s *Storage) CountExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, token := range s.tokens {
		if token.Expired(now) {
			n++
		}
	}

	return n, nil
}

func (s *Storage) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, token := range s.tokens {
		if token.Expired(now) {
			delete(s.tokens, id)
			n++
		}
	}

	return n, nil
}

func (s *Storage) CreateUser(_ context.Context, user models.User) (uuid.UUID, error) {
	const op = "inmem.CreateUser"

	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[user.Email]; ok {
		return uuid.Nil, storage.ErrUserExists
	}

	user.ID = id
	user.Roles = nil
	user.CreatedAt = s.now()
	s.users[id] = user
	s.byEmail[user.Email] = id

	return id, nil
}

func (s *Storage) FindUserByIdentity(ctx context.Context, email string) (models.User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[email]
	s.mu.RUnlock()

	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}
	return s.FindUserByID(ctx, id)
}

func (s *Storage) FindUserByID(_ context.Context, userID uuid.UUID) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}
	return copyUser(user), nil
}

func (s *Storage) ListUsers(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Email < users[j].Email
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})

	return users, nil
}

func (s *Storage) AssignRole(_ context.Context, userID uuid.UUID, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	if user.HasRole(role) {
		return nil
	}

	user.Roles = append(copyUser(user).Roles, role)
	sort.Slice(user.Roles, func(i, j int) bool { return user.Roles[i] < user.Roles[j] })
	s.users[userID] = user

	return nil
}

func (s *Storage) UpdatePassword(_ context.Context, userID uuid.UUID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	s.users[userID] = user

	return nil
}

// SetUserFlags overwrites the account status flags. Used to seed disabled,
// locked or expired accounts.
func (s *Storage) SetUserFlags(userID uuid.UUID, enabled, locked, expired bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	user.Enabled, user.Locked, user.Expired = enabled, locked, expired
	s.users[userID] = user

	return nil
}

func (s *Storage) Close() error {
	return nil
}

func copyUser(u models.User) models.User {
	if u.Roles != nil {
		roles := make([]models.Role, len(u.Roles))
		copy(roles, u.Roles)
		u.Roles = roles
	}
	return u
}
