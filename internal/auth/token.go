// Package auth issues and verifies session tokens and carries the
// authenticated principal through request contexts.
package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for malformed, expired or forged tokens.
var ErrInvalidToken = errors.New("invalid token")

const issuer = "washgo"

// Principal is the authenticated caller.
type Principal struct {
	UserID   int64
	Username string
	Admin    bool
}

// Claims is the JWT payload.
type Claims struct {
	Username string `json:"username"`
	Admin    bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 session tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates Tokens with the given signing secret and lifetime.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for p and its expiry.
func (t *Tokens) Issue(p Principal) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := Claims{
		Username: p.Username,
		Admin:    p.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return s, exp, nil
}

// Parse verifies a token and returns its principal.
func (t *Tokens) Parse(token string) (Principal, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !tok.Valid {
		return Principal{}, errors.Wrap(ErrInvalidToken, "parse")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, errors.Wrap(ErrInvalidToken, "subject")
	}
	return Principal{UserID: id, Username: claims.Username, Admin: claims.Admin}, nil
}

type principalKey struct{}

// WithPrincipal stores p in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
