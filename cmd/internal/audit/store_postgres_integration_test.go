package audit

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"agron/cmd/internal/pgtest"
)

// Integration tests are opt-in and require AGRON_DATABASE_URL.

func TestPostgresRecorder_RecordAndRecent(t *testing.T) {
	pool := pgtest.Open(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rec, err := NewPostgresRecorder(pool, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatalf("NewPostgresRecorder: %v", err)
	}

	marker := uuid.NewString()
	rec.Record(ctx, Event{
		Action:   ActionLoginFailed,
		Resource: "auth",
		Details:  map[string]any{"reason": "unknown_email", "marker": marker},
		Origin:   Origin{IP: net.ParseIP("192.0.2.10"), UserAgent: "it"},
	})

	entries, err := rec.Recent(ctx, 20)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	var found *Entry
	for i := range entries {
		if entries[i].Details["marker"] == marker {
			found = &entries[i]
		}
	}
	if found == nil {
		t.Fatalf("recorded event not listed")
	}
	if found.Action != ActionLoginFailed || found.UserID != nil {
		t.Fatalf("entry=%+v", found)
	}
	if found.IPAddress == nil || *found.IPAddress != "192.0.2.10" {
		t.Fatalf("ip=%v", found.IPAddress)
	}
}
