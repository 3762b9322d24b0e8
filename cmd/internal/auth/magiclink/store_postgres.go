package magiclink

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over agron.magic_link_tokens.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, t Token) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agron.magic_link_tokens (id, user_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.UserID, t.TokenHash, t.CreatedAt, t.ExpiresAt)
	return err
}

// Consume flips used_at with a guarded UPDATE, so two concurrent verifications
// of the same token cannot both succeed.
func (s *PostgresStore) Consume(ctx context.Context, userID, tokenHash string, now time.Time) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE agron.magic_link_tokens
		SET used_at = $3
		WHERE user_id = $1
		  AND token_hash = $2
		  AND used_at IS NULL
		  AND expires_at > $3
	`, userID, tokenHash, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotActive
	}

	if _, err := tx.Exec(ctx, `UPDATE agron.users SET last_login_at = $2 WHERE id = $1`, userID, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agron.magic_link_tokens WHERE expires_at <= $1 OR used_at IS NOT NULL`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
