package session

import (
	"context"
	"net"
	"time"
)

// DeviceContext describes the client that owns a session.
type DeviceContext struct {
	UserAgent string
	IP        net.IP
}

// Row mirrors the agron.sessions row.
type Row struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	TokenHash string    `db:"token_hash"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
	IPAddress *string   `db:"ip_address"`
	UserAgent *string   `db:"user_agent"`
}

// Store abstracts persistence for session state.
type Store interface {
	// Create inserts a new session row.
	Create(ctx context.Context, row Row) error

	// Rotate atomically deletes the live row whose digest is oldHash and inserts next
	// for the same user. next.UserID is filled from the deleted row and returned.
	// Returns ErrSessionNotFound if no unexpired row matches oldHash.
	Rotate(ctx context.Context, oldHash string, now time.Time, next Row) (Row, error)

	// DeleteByHash removes the row with this digest. Missing rows are not an error.
	DeleteByHash(ctx context.Context, hash string) (deleted bool, err error)

	// PurgeExpired removes rows that expired at or before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
