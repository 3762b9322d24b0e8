package identity

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is or the Is* helpers; the HTTP
// layer maps invalid input to 400, not found to 401/404 and unavailable to 503.
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("unavailable")
)

// OpError carries the failing operation ("identity.FindOrCreate") and its kind.
// Msg is for logs and must never contain an address or token.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError is a unique-constraint violation that FindOrCreate could not
// converge on (for example an id collision).
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return e.Op + ": " + ErrConflict.Error()
	}
	return e.Op + ": " + ErrConflict.Error() + ": " + e.Field
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports an identity that does not exist.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return e.Op + ": " + ErrNotFound.Error()
	}
	return e.Op + ": " + ErrNotFound.Error() + ": " + e.Resource
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsUnavailable reports whether no directory is configured or it cannot be reached.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
