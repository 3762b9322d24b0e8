package session

import (
	"context"
	"time"
)

// NullStore is used when no database is configured: nothing can be created,
// so nothing can be refreshed.
type NullStore struct{}

var _ Store = NullStore{}

func (NullStore) Create(context.Context, Row) error { return ErrUnavailable }

func (NullStore) Rotate(context.Context, string, time.Time, Row) (Row, error) {
	return Row{}, ErrSessionNotFound
}

func (NullStore) DeleteByHash(context.Context, string) (bool, error) { return false, nil }

func (NullStore) PurgeExpired(context.Context, time.Time) (int64, error) { return 0, nil }
