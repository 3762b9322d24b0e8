package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"agron/cmd/internal/metrics"
)

const defaultWriteTimeout = 3 * time.Second

// PostgresRecorder persists events to agron.audit_log.
//
// Writes run on a context detached from the request so a client disconnect
// does not drop the record.
type PostgresRecorder struct {
	pool    *pgxpool.Pool
	log     *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

var _ Store = (*PostgresRecorder)(nil)

func NewPostgresRecorder(pool *pgxpool.Pool, log *slog.Logger, m *metrics.Metrics) (*PostgresRecorder, error) {
	if pool == nil {
		return nil, errors.New("audit: nil pool")
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresRecorder{pool: pool, log: log, metrics: m, timeout: defaultWriteTimeout}, nil
}

func (r *PostgresRecorder) Record(ctx context.Context, ev Event) {
	ev, ok := normalize(ev)
	if !ok {
		return
	}

	details := []byte("{}")
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			r.log.WarnContext(ctx, "audit.details.marshal.fail", "err", err, "action", ev.Action)
		} else {
			details = b
		}
	}

	var ip any
	if ev.Origin.IP != nil {
		ip = ev.Origin.IP.String()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	_, err := r.pool.Exec(wctx, `
		INSERT INTO agron.audit_log (
			user_id, action, resource, resource_id, details, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, now())
	`, nilIfEmpty(ev.UserID), ev.Action, ev.Resource, nilIfEmpty(ev.ResourceID), string(details), ip, nilIfEmpty(ev.Origin.UserAgent))
	if err != nil {
		r.metrics.AuditFailure()
		attrs := append([]any{"err", err}, logAttrs(ev)...)
		r.log.ErrorContext(ctx, "audit.insert.fail", attrs...)
	}
}

// Recent returns the newest events first.
func (r *PostgresRecorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var out []Entry
	err := pgxscan.Select(ctx, r.pool, &out, `
		SELECT id, user_id, action, resource, resource_id, details, ip_address, user_agent, created_at
		FROM agron.audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Entry{}
	}
	return out, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
