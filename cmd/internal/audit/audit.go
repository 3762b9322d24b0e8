// Package audit is the best-effort security event sink.
//
// Record never returns an error and never blocks the decision it describes:
// persistence failures are logged (the fallback channel) and counted.
package audit

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Actions recorded by the auth core.
const (
	ActionUserProvisioned        = "identity.auto_provisioned"
	ActionLinkRequested          = "auth.link.requested"
	ActionLoginSuccess           = "auth.login.success"
	ActionLoginFailed            = "auth.login.failed"
	ActionRefreshSuccess         = "auth.refresh.success"
	ActionRefreshFailed          = "auth.refresh.failed"
	ActionLogout                 = "auth.logout"
	ActionAccessDeniedRole       = "access.denied.role"
	ActionAccessDeniedPermission = "access.denied.permission"
	ActionRoleAssigned           = "rbac.role.assigned"
	ActionRoleRevoked            = "rbac.role.revoked"
)

// Origin is the client provenance attached to an event.
type Origin struct {
	IP        net.IP
	UserAgent string
}

// Event is one audit record. UserID is empty for events without a known identity.
type Event struct {
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	Details    map[string]any
	Origin     Origin
}

// Entry is a persisted event as read back for the admin listing.
type Entry struct {
	ID         int64          `db:"id" json:"id"`
	UserID     *string        `db:"user_id" json:"user_id,omitempty"`
	Action     string         `db:"action" json:"action"`
	Resource   string         `db:"resource" json:"resource"`
	ResourceID *string        `db:"resource_id" json:"resource_id,omitempty"`
	Details    map[string]any `db:"details" json:"details"`
	IPAddress  *string        `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent  *string        `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// Recorder accepts events. Implementations must not panic or return errors.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Store is a Recorder that can also list recent events.
type Store interface {
	Recorder
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// MaxRecent caps Recent.
const MaxRecent = 500

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > MaxRecent:
		return MaxRecent
	default:
		return limit
	}
}

func normalize(ev Event) (Event, bool) {
	ev.Action = strings.TrimSpace(ev.Action)
	if ev.Action == "" {
		return ev, false
	}
	ev.UserID = strings.TrimSpace(ev.UserID)
	ev.Resource = strings.TrimSpace(ev.Resource)
	ev.ResourceID = strings.TrimSpace(ev.ResourceID)
	ev.Origin.UserAgent = strings.TrimSpace(ev.Origin.UserAgent)
	return ev, true
}

// logAttrs renders ev for the log channel.
func logAttrs(ev Event) []any {
	attrs := []any{"action", ev.Action}
	if ev.UserID != "" {
		attrs = append(attrs, "user_id", ev.UserID)
	}
	if ev.Resource != "" {
		attrs = append(attrs, "resource", ev.Resource)
	}
	if ev.ResourceID != "" {
		attrs = append(attrs, "resource_id", ev.ResourceID)
	}
	if ev.Origin.IP != nil {
		attrs = append(attrs, "ip", ev.Origin.IP.String())
	}
	if ev.Origin.UserAgent != "" {
		attrs = append(attrs, "user_agent", ev.Origin.UserAgent)
	}
	if len(ev.Details) > 0 {
		attrs = append(attrs, slog.Any("details", ev.Details))
	}
	return attrs
}

// LogRecorder writes events to the structured log only. It is the Store used
// when no database is configured.
type LogRecorder struct {
	Log *slog.Logger
}

var _ Store = LogRecorder{}

func (r LogRecorder) Record(ctx context.Context, ev Event) {
	ev, ok := normalize(ev)
	if !ok || r.Log == nil {
		return
	}
	r.Log.InfoContext(ctx, "audit.event", logAttrs(ev)...)
}

func (LogRecorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return []Entry{}, nil
}
