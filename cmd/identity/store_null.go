package identity

import (
	"context"
	"time"
)

// NullStore is the Directory used when no database is configured.
// Reads find nothing; writes report ErrUnavailable.
type NullStore struct{}

var _ Directory = NullStore{}

func (NullStore) FindOrCreate(ctx context.Context, email string, now time.Time) (User, bool, error) {
	return User{}, false, OpError{Op: "identity.FindOrCreate", Kind: ErrUnavailable, Msg: "no database configured"}
}

func (NullStore) FindByID(ctx context.Context, id string) (User, error) {
	return User{}, NotFoundError{Op: "identity.FindByID", Resource: "user"}
}

func (NullStore) FindByEmail(ctx context.Context, email string) (User, error) {
	return User{}, NotFoundError{Op: "identity.FindByEmail", Resource: "user"}
}
