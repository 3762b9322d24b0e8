package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over agron.sessions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, row Row) error {
	return insertRow(ctx, s.pool, row)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRow(ctx context.Context, db execer, row Row) error {
	_, err := db.Exec(ctx, `
		INSERT INTO agron.sessions (
			id, user_id, token_hash, created_at, expires_at, ip_address, user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, row.ID, row.UserID, row.TokenHash, row.CreatedAt, row.ExpiresAt, row.IPAddress, row.UserAgent)
	return err
}

// Rotate deletes the presented row and inserts its successor in one transaction.
// Two concurrent rotations of the same token serialize on the row lock taken by
// DELETE; the loser sees zero rows and gets ErrSessionNotFound.
func (s *PostgresStore) Rotate(ctx context.Context, oldHash string, now time.Time, next Row) (Row, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Row{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID string
	err = tx.QueryRow(ctx, `
		DELETE FROM agron.sessions
		WHERE token_hash = $1 AND expires_at > $2
		RETURNING user_id
	`, oldHash, now).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}

	next.UserID = userID
	if err := insertRow(ctx, tx, next); err != nil {
		return Row{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Row{}, err
	}
	return next, nil
}

func (s *PostgresStore) DeleteByHash(ctx context.Context, hash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agron.sessions WHERE token_hash = $1`, hash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agron.sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
