package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"agron/cmd/identity/ids"
)

// Schema holds every AGRON table.
const Schema = "agron"

const userColumns = `id, email, full_name, callsign, role, created_at, last_login_at`

// PostgresStore implements Directory over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Directory = (*PostgresStore)(nil)

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// FindOrCreate is race-safe: the insert is ON CONFLICT DO NOTHING and a losing
// writer falls through to reading the winner's row.
func (s *PostgresStore) FindOrCreate(ctx context.Context, email string, now time.Time) (User, bool, error) {
	const op = "identity.FindOrCreate"

	if s == nil || s.pool == nil {
		return User{}, false, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, false, err
	}

	email = NormalizeEmail(email)
	if email == "" {
		return User{}, false, pgInvalid(op, "email is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	userID, err := ids.NewULID(now)
	if err != nil {
		return User{}, false, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return User{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	users := pgIdent(Schema, "users")

	var u User
	created := true
	err = pgxscan.Get(ctx, tx, &u,
		`INSERT INTO `+users+` (id, email, role, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING `+userColumns,
		userID, email, DefaultRole, now,
	)
	switch {
	case err == nil:
		_, err = tx.Exec(ctx,
			`INSERT INTO `+pgIdent(Schema, "user_roles")+` (user_id, role_id, assigned_at)
			 SELECT $1, r.id, $2 FROM `+pgIdent(Schema, "roles")+` r WHERE r.name = $3
			 ON CONFLICT DO NOTHING`,
			u.ID, now, DefaultRole,
		)
		if err != nil {
			return User{}, false, err
		}
	case pgxscan.NotFound(err):
		created = false
		if err := pgxscan.Get(ctx, tx, &u,
			`SELECT `+userColumns+` FROM `+users+` WHERE email = $1`, email,
		); err != nil {
			if pgxscan.NotFound(err) {
				return User{}, false, NotFoundError{Op: op, Resource: "user"}
			}
			return User{}, false, err
		}
	default:
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, false, ConflictError{Op: op, Field: field}
		}
		return User{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, false, err
	}
	return u, created, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, pgInvalid(op, "id is required")
	}
	return s.findOne(ctx, op, `id = $1`, id)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.FindByEmail"

	email = NormalizeEmail(email)
	if email == "" {
		return User{}, pgInvalid(op, "email is required")
	}
	return s.findOne(ctx, op, `email = $1`, email)
}

func (s *PostgresStore) findOne(ctx context.Context, op, where string, arg any) (User, error) {
	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	var u User
	err := pgxscan.Get(ctx, s.pool, &u,
		`SELECT `+userColumns+` FROM `+pgIdent(Schema, "users")+` WHERE `+where, arg)
	if err != nil {
		if pgxscan.NotFound(err) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return u, nil
}

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case strings.Contains(c, "email"):
		return "email", true
	case c == "":
		return "", true
	default:
		return c, true
	}
}
