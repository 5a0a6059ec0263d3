// README: HS256 bearer-token parsing into an Actor.
package auth

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"grocer/internal/types"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ParseBearer extracts the token from an Authorization header value and
// validates it.
func ParseBearer(header, secret string) (Actor, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Actor{}, ErrMissingToken
	}
	return ParseToken(strings.TrimSpace(parts[1]), secret)
}

// ParseToken validates an HS256 JWT and returns the Actor it carries.
func ParseToken(tokenStr, secret string) (Actor, error) {
	if secret == "" {
		return Actor{}, errors.New("jwt secret is empty")
	}
	var c claims
	tok, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return Actor{}, ErrInvalidToken
	}
	if c.Subject == "" {
		return Actor{}, ErrInvalidToken
	}
	role := Role(strings.ToLower(c.Role))
	switch role {
	case RoleCustomer, RoleRider, RoleAdmin:
	default:
		return Actor{}, ErrInvalidToken
	}
	return Actor{ID: types.ID(c.Subject), Role: role}, nil
}

// SignToken issues a token for the given actor. Used by tests and dev tooling.
func SignToken(actor Actor, secret string, ttl time.Duration) (string, error) {
	c := claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(actor.ID),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString([]byte(secret))
}
