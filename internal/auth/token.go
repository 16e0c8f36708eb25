package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrSignatureInvalid = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token is expired")
	ErrMalformed        = errors.New("token is malformed")
)

// Payload is the claim set carried by a signed token. ID is the jti and
// matches the token registry row.
type Payload struct {
	Subject   string
	Roles     []models.Role
	Type      models.TokenType
	CSRF      string
	ID        uuid.UUID
	ExpiresAt time.Time
}

type Claims struct {
	jwt.RegisteredClaims
	TokenType string   `json:"type"`
	Roles     []string `json:"roles,omitempty"`
	CSRF      string   `json:"csrf,omitempty"`
}

// Codec signs and verifies HS256 tokens. It holds no mutable state and is
// safe for concurrent use.
type Codec struct {
	key    []byte
	issuer string
	clock  Clock
	parser *jwt.Parser
}

func NewCodec(secret []byte, issuer string, clock Clock) *Codec {
	if clock == nil {
		clock = SystemClock{}
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	return &Codec{
		key:    key,
		issuer: issuer,
		clock:  clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(clock.Now),
		),
	}
}

func (c *Codec) Encode(p Payload) (string, error) {
	const op = "auth.Codec.Encode"

	if p.Subject == "" || p.ID == uuid.Nil || p.ExpiresAt.IsZero() {
		return "", fmt.Errorf("%s: subject, id and expiry are required", op)
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   p.Subject,
			ID:        p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(c.clock.Now()),
			ExpiresAt: jwt.NewNumericDate(p.ExpiresAt),
		},
		TokenType: string(p.Type),
	}

	switch p.Type {
	case models.TokenTypeAccess:
		if p.CSRF == "" {
			return "", fmt.Errorf("%s: access token requires a csrf binding", op)
		}
		claims.CSRF = p.CSRF
		for _, r := range p.Roles {
			claims.Roles = append(claims.Roles, string(r))
		}
	case models.TokenTypeRefresh:
	default:
		return "", fmt.Errorf("%s: unknown token type %q", op, p.Type)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// Decode verifies raw and returns its payload. Errors match ErrExpired,
// ErrSignatureInvalid or ErrMalformed. An elapsed expiry is reported as
// ErrExpired even when the signature does not verify.
func (c *Codec) Decode(raw string) (Payload, error) {
	claims := &Claims{}

	if _, err := c.parser.ParseWithClaims(raw, claims, c.keyFunc); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Payload{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			if c.expiredUnverified(raw) {
				return Payload{}, ErrExpired
			}
			return Payload{}, ErrSignatureInvalid
		default:
			return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	p, err := claims.payload()
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return p, nil
}

func (c *Codec) keyFunc(*jwt.Token) (interface{}, error) {
	return c.key, nil
}

func (c *Codec) expiredUnverified(raw string) bool {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !c.clock.Now().Before(claims.ExpiresAt.Time)
}

func (cl *Claims) payload() (Payload, error) {
	tokenType, err := models.ParseTokenType(cl.TokenType)
	if err != nil {
		return Payload{}, err
	}

	if cl.Subject == "" {
		return Payload{}, errors.New("missing subject")
	}

	id, err := uuid.FromString(cl.ID)
	if err != nil || id == uuid.Nil {
		return Payload{}, fmt.Errorf("invalid jti %q", cl.ID)
	}

	if cl.ExpiresAt == nil {
		return Payload{}, errors.New("missing expiry")
	}

	p := Payload{
		Subject:   cl.Subject,
		Type:      tokenType,
		ID:        id,
		ExpiresAt: cl.ExpiresAt.Time.UTC(),
	}

	switch tokenType {
	case models.TokenTypeAccess:
		if cl.CSRF == "" {
			return Payload{}, errors.New("access token without csrf binding")
		}
		p.CSRF = cl.CSRF
		for _, s := range cl.Roles {
			r, err := models.ParseRole(s)
			if err != nil {
				return Payload{}, err
			}
			p.Roles = append(p.Roles, r)
		}
	case models.TokenTypeRefresh:
		if len(cl.Roles) > 0 || cl.CSRF != "" {
			return Payload{}, errors.New("refresh token carries access claims")
		}
	}

	return p, nil
}
