package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"agron/cmd/internal/migrate"
)

// Serve loads the app from cfg and runs it until ctx is cancelled.
func Serve(ctx context.Context, cfg Config) error {
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

var errNoDatabase = errors.New("AGRON_DATABASE_URL is required")

// MigrateUp applies pending migrations and prints what ran.
func MigrateUp(ctx context.Context, cfg Config, out io.Writer) error {
	if cfg.DatabaseURL == "" {
		return errNoDatabase
	}
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := migrate.UpPool(ctx, pool)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		_, _ = fmt.Fprintln(out, "schema is up to date")
		return nil
	}
	for _, m := range applied {
		_, _ = fmt.Fprintf(out, "applied %d %s (%s)\n", m.Version, m.Path, m.Duration.Round(time.Millisecond))
	}
	return nil
}

// MigrateStatus prints every known migration with its state.
func MigrateStatus(ctx context.Context, cfg Config, out io.Writer) error {
	if cfg.DatabaseURL == "" {
		return errNoDatabase
	}
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	db := migrate.OpenDB(pool)
	defer func() { _ = db.Close() }()

	lines, err := migrate.Status(ctx, db)
	if err != nil {
		return err
	}
	return writeStatus(out, lines)
}

func writeStatus(out io.Writer, lines []migrate.StatusLine) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tPATH")
	for _, l := range lines {
		at := "-"
		if !l.AppliedAt.IsZero() {
			at = l.AppliedAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", l.Version, l.State, at, l.Path)
	}
	return tw.Flush()
}

// Seed upserts the embedded RBAC catalog.
func Seed(ctx context.Context, cfg Config, out io.Writer) error {
	if cfg.DatabaseURL == "" {
		return errNoDatabase
	}
	catalog, err := migrate.LoadCatalog()
	if err != nil {
		return err
	}
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	db := migrate.OpenDB(pool)
	defer func() { _ = db.Close() }()

	rep, err := migrate.Seed(ctx, db, catalog, time.Now().UTC())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "seeded %d roles, %d permissions, %d grants (bootstrap admin: %t)\n",
		rep.Roles, rep.Permissions, rep.Grants, rep.Bootstrap)
	return nil
}
