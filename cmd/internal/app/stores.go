package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"agron/cmd/identity"
	"agron/cmd/internal/audit"
	"agron/cmd/internal/auth/magiclink"
	"agron/cmd/internal/auth/rbac"
	"agron/cmd/internal/auth/session"
	"agron/cmd/internal/metrics"
	"agron/cmd/internal/migrate"
)

// stores is the persistence bundle chosen once at startup.
// Without a database every store is the null implementation, and auth fails closed.
type stores struct {
	pool *pgxpool.Pool

	users    identity.Directory
	links    magiclink.Store
	sessions session.Store
	rbac     rbac.Store
	audit    audit.Store
}

func nullStores(log Logger) *stores {
	return &stores{
		users:    identity.NullStore{},
		links:    magiclink.NullStore{},
		sessions: session.NullStore{},
		rbac:     rbac.NullStore{},
		audit:    audit.LogRecorder{Log: log},
	}
}

func newStores(ctx context.Context, cfg Config, log Logger, m *metrics.Metrics) (*stores, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("db.disabled.null_stores")
		return nullStores(log), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}

	st, err := postgresStores(ctx, cfg, pool, log, m)
	if err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("db.enabled.postgres_stores", "auto_migrate", cfg.AutoMigrate)
	return st, nil
}

func postgresStores(ctx context.Context, cfg Config, pool *pgxpool.Pool, log Logger, m *metrics.Metrics) (*stores, error) {
	if cfg.AutoMigrate {
		applied, err := migrate.UpPool(ctx, pool)
		if err != nil {
			return nil, err
		}
		for _, a := range applied {
			log.Info("db.migration.applied", "version", a.Version, "path", a.Path, "duration", a.Duration)
		}
	}

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		return nil, err
	}
	rec, err := audit.NewPostgresRecorder(pool, log, m)
	if err != nil {
		return nil, err
	}
	return &stores{
		pool:     pool,
		users:    users,
		links:    magiclink.NewPostgresStore(pool),
		sessions: session.NewPostgresStore(pool),
		rbac:     rbac.NewPostgresStore(pool),
		audit:    rec,
	}, nil
}

func (s *stores) dbEnabled() bool { return s.pool != nil }

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
