package models

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole accepts only the closed set of known roles.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

type TokenType string

const (
	TokenTypeAccess  TokenType = "ACCESS"
	TokenTypeRefresh TokenType = "REFRESH"
)

func ParseTokenType(s string) (TokenType, error) {
	switch t := TokenType(s); t {
	case TokenTypeAccess, TokenTypeRefresh:
		return t, nil
	default:
		return "", fmt.Errorf("unknown token type %q", s)
	}
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Roles        []Role    `json:"roles"`
	Enabled      bool      `json:"enabled"`
	Locked       bool      `json:"locked"`
	Expired      bool      `json:"expired"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasRole reports whether r is among the user's roles.
func (u User) HasRole(r Role) bool {
	return hasRole(u.Roles, r)
}

// Token is a row of the token registry. Only Blocked ever changes after
// the row is created.
type Token struct {
	ID             uuid.UUID
	Type           TokenType
	ExpirationDate time.Time
	UserID         uuid.UUID
	Blocked        bool
}

func (t Token) Expired(now time.Time) bool {
	return !t.ExpirationDate.After(now)
}

// Principal is the caller identity established for one request from the
// access token claims.
type Principal struct {
	Identity string
	Roles    []Role
}

func (p Principal) HasRole(r Role) bool {
	return hasRole(p.Roles, r)
}

func hasRole(roles []Role, r Role) bool {
	for _, have := range roles {
		if have == r {
			return true
		}
	}
	return false
}
