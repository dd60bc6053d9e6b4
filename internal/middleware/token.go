package middleware

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/Strob0t/TenantForge/internal/domain/user"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// actorClaims are the JWT claims carried by operator tokens. The subject is
// the actor ID.
type actorClaims struct {
	Email string    `json:"email,omitempty"`
	Role  user.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier verifies and issues HS256 operator tokens.
type TokenVerifier struct {
	secret func() string
	issuer string
	now    func() time.Time
}

// NewTokenVerifier creates a verifier for the given shared secret and issuer.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return NewRotatingTokenVerifier(func() string { return secret }, issuer)
}

// NewRotatingTokenVerifier reads the secret on every call, so tokens signed
// with a replaced secret stop verifying as soon as it changes.
func NewRotatingTokenVerifier(secret func() string, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: secret, issuer: issuer, now: time.Now}
}

func (v *TokenVerifier) key() ([]byte, error) {
	s := v.secret()
	if s == "" {
		return nil, errors.New("signing secret is not configured")
	}
	return []byte(s), nil
}

// Issue signs a token for a. Used by the CLI and by tests.
func (v *TokenVerifier) Issue(a user.Actor, ttl time.Duration) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	now := v.now()
	claims := actorClaims{
		Email: a.Email,
		Role:  a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	key, err := v.key()
	if err != nil {
		return "", err
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenStr and returns the actor it names.
func (v *TokenVerifier) Verify(tokenStr string) (*user.Actor, error) {
	var claims actorClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return v.key()
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	a := &user.Actor{ID: claims.Subject, Email: claims.Email, Role: claims.Role}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return a, nil
}
