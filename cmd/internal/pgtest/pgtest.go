// Package pgtest opens the opt-in Postgres used by integration tests.
//
// Tests skip unless AGRON_DATABASE_URL is set. The schema is migrated and seeded
// once per process; tests isolate themselves with unique emails.
package pgtest

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"agron/cmd/internal/migrate"
)

// EnvKey names the database URL variable shared with the server.
const EnvKey = "AGRON_DATABASE_URL"

var (
	prepareOnce sync.Once
	prepareErr  error
)

// Open returns a migrated, seeded pool or skips the test.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvKey))
	if raw == "" {
		t.Skipf("integration test skipped: %s is not set", EnvKey)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvKey, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	c, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		if shouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	prepareOnce.Do(func() {
		if _, prepareErr = migrate.UpPool(ctx, pool); prepareErr != nil {
			return
		}
		cat, err := migrate.LoadCatalog()
		if err != nil {
			prepareErr = err
			return
		}
		db := migrate.OpenDB(pool)
		defer func() { _ = db.Close() }()
		_, prepareErr = migrate.Seed(ctx, db, cat, time.Now().UTC())
	})
	if prepareErr != nil {
		pool.Close()
		t.Fatalf("prepare schema: %v", prepareErr)
	}

	t.Cleanup(pool.Close)
	return pool
}

// UniqueEmail returns an address no other test run will use.
func UniqueEmail(t *testing.T, prefix string) string {
	t.Helper()
	return strings.ToLower(prefix) + "-" + uuid.NewString() + "@it.agron.test"
}

func shouldSkip(err error) bool {
	if os.Getenv("CI") != "" {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
