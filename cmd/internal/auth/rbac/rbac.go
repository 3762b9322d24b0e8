// Package rbac resolves an identity's roles and permissions and gates HTTP
// routes on them.
//
// Role assignments (user_roles) are authoritative. The legacy single role on the
// identity row is never consulted here.
package rbac

import (
	"context"
	"errors"
	"sort"
	"time"
)

// SuperAdmin holds every permission, including slugs no role is granted.
const SuperAdmin = "SuperAdmin"

var (
	// ErrNotFound means the identity does not exist (deleted since the token was issued).
	ErrNotFound = errors.New("rbac: identity not found")
	// ErrUnknownRole is returned when assigning a role name that does not exist.
	ErrUnknownRole = errors.New("rbac: unknown role")
	// ErrUnavailable is returned by the null store for writes.
	ErrUnavailable = errors.New("rbac: store unavailable")
)

// Context is the resolved authorization state of one identity for one request.
type Context struct {
	UserID      string
	Roles       []string
	Permissions map[string]struct{}
}

// NewContext builds a Context, deduplicating and sorting roles.
func NewContext(userID string, roles, permissions []string) Context {
	c := Context{UserID: userID, Permissions: make(map[string]struct{}, len(permissions))}
	seen := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		c.Roles = append(c.Roles, r)
	}
	sort.Strings(c.Roles)
	for _, p := range permissions {
		if p != "" {
			c.Permissions[p] = struct{}{}
		}
	}
	if c.Roles == nil {
		c.Roles = []string{}
	}
	return c
}

// HasRole reports whether any of names is assigned.
func (c Context) HasRole(names ...string) bool {
	for _, have := range c.Roles {
		for _, want := range names {
			if have == want {
				return true
			}
		}
	}
	return false
}

func (c Context) IsSuperuser() bool { return c.HasRole(SuperAdmin) }

// Can reports whether slug is granted by any role. SuperAdmin can do anything.
func (c Context) Can(slug string) bool {
	if c.IsSuperuser() {
		return true
	}
	_, ok := c.Permissions[slug]
	return ok
}

// PermissionList returns the granted slugs, sorted.
func (c Context) PermissionList() []string {
	out := make([]string, 0, len(c.Permissions))
	for p := range c.Permissions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Role is a catalog entry as listed to administrators.
type Role struct {
	ID          string   `db:"id" json:"id"`
	Name        string   `db:"name" json:"name"`
	Description string   `db:"description" json:"description"`
	IsSystem    bool     `db:"is_system" json:"is_system"`
	Permissions []string `db:"permissions" json:"permissions"`
}

// Store reads and changes role assignments.
type Store interface {
	// LoadContext returns the union of the identity's roles and their permissions.
	// Returns ErrNotFound if the identity does not exist.
	LoadContext(ctx context.Context, userID string) (Context, error)

	ListRoles(ctx context.Context) ([]Role, error)

	// AssignRole is idempotent. Returns ErrNotFound or ErrUnknownRole.
	AssignRole(ctx context.Context, userID, role string, now time.Time) error

	// RevokeRole is idempotent.
	RevokeRole(ctx context.Context, userID, role string) error
}

type ctxKey struct{}

// WithContext attaches a resolved Context for downstream handlers.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the Context attached by a guard.
func FromContext(ctx context.Context) (Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(Context)
	return c, ok
}
