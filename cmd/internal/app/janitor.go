package app

import (
	"context"
	"time"

	"agron/cmd/internal/metrics"
)

type purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// janitor deletes expired login tokens and refresh sessions on a fixed interval.
// Expired rows are already unusable; purging only bounds table growth.
type janitor struct {
	log      Logger
	metrics  *metrics.Metrics
	interval time.Duration
	now      func() time.Time
	targets  map[string]purger
}

func (j *janitor) run(ctx context.Context) {
	t := time.NewTicker(j.interval)
	defer t.Stop()

	j.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.sweep(ctx)
		}
	}
}

// sweep purges every target once and returns the per-table counts.
// A failing target is logged and does not stop the others.
func (j *janitor) sweep(ctx context.Context) map[string]int64 {
	now := j.now().UTC()
	out := make(map[string]int64, len(j.targets))
	for table, p := range j.targets {
		n, err := p.PurgeExpired(ctx, now)
		if err != nil {
			if ctx.Err() == nil {
				j.log.Warn("janitor.purge.fail", "table", table, "err", err)
			}
			continue
		}
		out[table] = n
		j.metrics.Purged(table, n)
		if n > 0 {
			j.log.Info("janitor.purged", "table", table, "rows", n)
		}
	}
	return out
}
