package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over agron.user_roles / roles / role_permissions / permissions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type grantRow struct {
	Role       *string `db:"role"`
	Permission *string `db:"permission"`
}

// LoadContext resolves roles and permissions in one round trip. The identity row
// anchors the join so "no roles" and "no identity" are distinguishable.
func (s *PostgresStore) LoadContext(ctx context.Context, userID string) (Context, error) {
	var rows []grantRow
	err := pgxscan.Select(ctx, s.pool, &rows, `
		SELECT r.name AS role, p.slug AS permission
		FROM agron.users u
		LEFT JOIN agron.user_roles ur ON ur.user_id = u.id
		LEFT JOIN agron.roles r ON r.id = ur.role_id
		LEFT JOIN agron.role_permissions rp ON rp.role_id = r.id
		LEFT JOIN agron.permissions p ON p.id = rp.permission_id
		WHERE u.id = $1
	`, userID)
	if err != nil {
		return Context{}, err
	}
	if len(rows) == 0 {
		return Context{}, ErrNotFound
	}

	var roles, perms []string
	for _, r := range rows {
		if r.Role != nil {
			roles = append(roles, *r.Role)
		}
		if r.Permission != nil {
			perms = append(perms, *r.Permission)
		}
	}
	return NewContext(userID, roles, perms), nil
}

func (s *PostgresStore) ListRoles(ctx context.Context) ([]Role, error) {
	var out []Role
	err := pgxscan.Select(ctx, s.pool, &out, `
		SELECT r.id, r.name, r.description, r.is_system,
		       COALESCE(array_agg(p.slug ORDER BY p.slug) FILTER (WHERE p.slug IS NOT NULL), '{}') AS permissions
		FROM agron.roles r
		LEFT JOIN agron.role_permissions rp ON rp.role_id = r.id
		LEFT JOIN agron.permissions p ON p.id = rp.permission_id
		GROUP BY r.id
		ORDER BY r.name
	`)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Role{}
	}
	return out, nil
}

func (s *PostgresStore) AssignRole(ctx context.Context, userID, role string, now time.Time) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var roleID string
	err = tx.QueryRow(ctx, `SELECT id FROM agron.roles WHERE name = $1`, role).Scan(&roleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUnknownRole
	}
	if err != nil {
		return err
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM agron.users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO agron.user_roles (user_id, role_id, assigned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, userID, roleID, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) RevokeRole(ctx context.Context, userID, role string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM agron.user_roles
		WHERE user_id = $1
		  AND role_id = (SELECT id FROM agron.roles WHERE name = $2)
	`, userID, role)
	return err
}
