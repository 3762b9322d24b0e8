// Package migrate owns the AGRON schema (embedded goose migrations) and the
// RBAC seed catalog.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations returns the embedded migration files rooted at their directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic(err) // embed path is fixed at compile time
	}
	return sub
}

// Applied describes one migration touched by Up.
type Applied struct {
	Version  int64
	Path     string
	Duration time.Duration
}

// StatusLine describes one migration as reported by Status.
type StatusLine struct {
	Version   int64
	Path      string
	State     string
	AppliedAt time.Time
}

func newProvider(db *sql.DB) (*goose.Provider, error) {
	p, err := goose.NewProvider(goose.DialectPostgres, db, Migrations())
	if err != nil {
		return nil, fmt.Errorf("migrate: provider: %w", err)
	}
	return p, nil
}

// Up applies every pending migration.
func Up(ctx context.Context, db *sql.DB) ([]Applied, error) {
	p, err := newProvider(db)
	if err != nil {
		return nil, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: up: %w", err)
	}
	out := make([]Applied, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		out = append(out, Applied{Version: r.Source.Version, Path: r.Source.Path, Duration: r.Duration})
	}
	return out, nil
}

// Status lists every known migration with its state.
func Status(ctx context.Context, db *sql.DB) ([]StatusLine, error) {
	p, err := newProvider(db)
	if err != nil {
		return nil, err
	}
	st, err := p.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: status: %w", err)
	}
	out := make([]StatusLine, 0, len(st))
	for _, s := range st {
		if s == nil || s.Source == nil {
			continue
		}
		out = append(out, StatusLine{
			Version:   s.Source.Version,
			Path:      s.Source.Path,
			State:     string(s.State),
			AppliedAt: s.AppliedAt,
		})
	}
	return out, nil
}

// OpenDB exposes a pgx pool through database/sql for goose and the seeder.
// Closing the returned DB does not close the pool.
func OpenDB(pool *pgxpool.Pool) *sql.DB {
	return stdlib.OpenDBFromPool(pool)
}

// UpPool runs Up over a pgx pool.
func UpPool(ctx context.Context, pool *pgxpool.Pool) ([]Applied, error) {
	db := OpenDB(pool)
	defer func() { _ = db.Close() }()
	return Up(ctx, db)
}
