package rbac

import (
	"context"
	"time"
)

// NullStore resolves nobody, so every guarded route denies.
type NullStore struct{}

var _ Store = NullStore{}

func (NullStore) LoadContext(context.Context, string) (Context, error) { return Context{}, ErrNotFound }

func (NullStore) ListRoles(context.Context) ([]Role, error) { return []Role{}, nil }

func (NullStore) AssignRole(context.Context, string, string, time.Time) error { return ErrUnavailable }

func (NullStore) RevokeRole(context.Context, string, string) error { return ErrUnavailable }
