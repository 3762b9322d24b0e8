package magiclink

import (
	"context"
	"time"
)

// NullStore is used when no database is configured.
type NullStore struct{}

var _ Store = NullStore{}

func (NullStore) Create(context.Context, Token) error { return ErrUnavailable }

func (NullStore) Consume(context.Context, string, string, time.Time) error {
	return ErrTokenNotActive
}

func (NullStore) PurgeExpired(context.Context, time.Time) (int64, error) { return 0, nil }
