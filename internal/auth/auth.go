// Package auth verifies bearer tokens issued by the external identity
// provider and carries the resulting principal through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sundayezeilo/golinks/internal/audit"
	"github.com/sundayezeilo/golinks/internal/errx"
)

// Principal is an authenticated caller.
type Principal struct {
	UserID  int64
	IsAdmin bool
}

// CanManage reports whether p may read stats for, modify or delete a link owned by ownerID.
func (p Principal) CanManage(ownerID int64) bool {
	return p.IsAdmin || p.UserID == ownerID
}

// Claims is the token payload. The subject holds the numeric user id.
type Claims struct {
	jwt.RegisteredClaims
	Admin bool `json:"adm,omitempty"`
}

// Signer issues and verifies HS256 tokens.
type Signer struct {
	secret []byte
	issuer string
}

// Config holds Signer settings.
type Config struct {
	Secret string
	Issuer string
}

// NewSigner creates a Signer.
func NewSigner(cfg *Config) *Signer {
	return &Signer{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
	}
}

// Issue mints a token for p valid for ttl.
func (s *Signer) Issue(p Principal, ttl time.Duration) (string, error) {
	const op = "auth.Signer.Issue"

	if p.UserID <= 0 || p.UserID == audit.AnonymousActorID {
		return "", errx.E(op, errx.Invalid, fmt.Errorf("user id %d is reserved or invalid", p.UserID))
	}
	if ttl <= 0 {
		return "", errx.E(op, errx.Invalid, errors.New("ttl must be positive"))
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.UserID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Admin: p.IsAdmin,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errx.E(op, errx.Internal, err)
	}
	return token, nil
}

// Verify parses raw and returns its principal. Any failure is Unauthorized.
func (s *Signer) Verify(raw string) (Principal, error) {
	const op = "auth.Signer.Verify"

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return Principal{}, errx.E(op, errx.Unauthorized, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 || userID == audit.AnonymousActorID {
		return Principal{}, errx.E(op, errx.Unauthorized, fmt.Errorf("invalid subject %q", claims.Subject))
	}

	return Principal{UserID: userID, IsAdmin: claims.Admin}, nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by the Require middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
