package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"agron/cmd/internal/migrate"
)

func TestWriteStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := writeStatus(&buf, []migrate.StatusLine{
		{Version: 1, Path: "00001_schema.sql", State: "applied", AppliedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{Version: 2, Path: "00002_next.sql", State: "pending"},
	})
	if err != nil {
		t.Fatalf("writeStatus: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %q", buf.String())
	}
	if !strings.Contains(lines[1], "2026-01-02T03:04:05Z") || !strings.Contains(lines[2], "pending") {
		t.Fatalf("unexpected rows: %q", lines[1:])
	}
	if f := strings.Fields(lines[2]); len(f) != 4 || f[2] != "-" {
		t.Fatalf("pending row must show '-' for applied at: %q", lines[2])
	}
}

func TestDatabaseCommandsRequireURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var out bytes.Buffer
	for name, run := range map[string]func(context.Context, Config, *bytes.Buffer) error{
		"migrate up":     func(ctx context.Context, c Config, w *bytes.Buffer) error { return MigrateUp(ctx, c, w) },
		"migrate status": func(ctx context.Context, c Config, w *bytes.Buffer) error { return MigrateStatus(ctx, c, w) },
		"seed":           func(ctx context.Context, c Config, w *bytes.Buffer) error { return Seed(ctx, c, w) },
	} {
		if err := run(ctx, Config{}, &out); !errors.Is(err, errNoDatabase) {
			t.Fatalf("%s: err=%v", name, err)
		}
	}
}
