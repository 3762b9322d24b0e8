// Package magiclink implements passwordless login by one-time emailed links.
//
// A login token is 32 random bytes, hex encoded, valid for 15 minutes and usable once.
// Only its digest is stored. Token states: issued -> used, or issued -> expired.
//
// RequestLink always succeeds from the caller's point of view for well-formed
// addresses; VerifyLink reports every failure as ErrInvalidLink.
package magiclink

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidLink is the single caller-facing verification failure.
	ErrInvalidLink = errors.New("invalid or expired token")

	// ErrTokenNotActive is returned by stores when no unused, unexpired token matches.
	ErrTokenNotActive = errors.New("login token not active")

	// ErrUnavailable is returned by the null store for writes.
	ErrUnavailable = errors.New("login token store unavailable")

	ErrConfig = errors.New("invalid config")
)

// Token mirrors the agron.magic_link_tokens row.
type Token struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Store persists login tokens.
type Store interface {
	Create(ctx context.Context, t Token) error

	// Consume marks the unused, unexpired token (userID, tokenHash) used at now and
	// records now as the user's last login, in one transaction.
	// Returns ErrTokenNotActive when nothing matched; nothing is written in that case.
	Consume(ctx context.Context, userID, tokenHash string, now time.Time) error

	// PurgeExpired deletes used tokens and tokens that expired at or before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
