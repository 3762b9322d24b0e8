// Package access issues and verifies short-lived bearer tokens.
//
// Tokens are HS256 JWTs carrying {id, email, role}. Verification is stateless.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// MinSecretBytes is the smallest accepted signing secret.
	MinSecretBytes = 32
	// DefaultTTL of an access token.
	DefaultTTL = 15 * time.Minute
	// DefaultIssuer is the iss claim.
	DefaultIssuer = "agron"
)

var (
	// ErrUnauthenticated is the single verification failure.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrWeakSecret rejects secrets shorter than MinSecretBytes.
	ErrWeakSecret = errors.New("access: signing secret must be at least 32 bytes")
	ErrConfig     = errors.New("access: invalid config")
)

// Subject is what a token asserts about its bearer.
type Subject struct {
	ID    string
	Email string
	Role  string
}

// Claims is the token payload.
type Claims struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret    []byte
	TTL       time.Duration
	Issuer    string
	ClockSkew time.Duration
}

// Issuer signs and verifies access tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	skew   time.Duration
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, ErrWeakSecret
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < 0 || cfg.ClockSkew < 0 {
		return nil, fmt.Errorf("%w: negative duration", ErrConfig)
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		cfg.Issuer = DefaultIssuer
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &Issuer{secret: secret, ttl: cfg.TTL, issuer: cfg.Issuer, skew: cfg.ClockSkew}, nil
}

// TTL reports the configured token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a token for sub valid from now until now+TTL.
func (i *Issuer) Issue(sub Subject, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(sub.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty subject id", ErrConfig)
	}
	now = now.UTC().Truncate(time.Second)
	exp := now.Add(i.ttl)

	claims := Claims{
		UserID: sub.ID,
		Email:  sub.Email,
		Role:   sub.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   sub.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer and expiry against now.
// Every failure is ErrUnauthenticated.
func (i *Issuer) Verify(raw string, now time.Time) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrUnauthenticated
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(i.skew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var claims Claims
	tok, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil || !tok.Valid {
		return Claims{}, ErrUnauthenticated
	}
	if claims.UserID == "" || claims.Subject != claims.UserID {
		return Claims{}, ErrUnauthenticated
	}
	return claims, nil
}

type ctxKey struct{}

// WithClaims attaches verified claims to ctx.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// ClaimsFromContext returns claims attached by WithClaims.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(Claims)
	return c, ok
}
