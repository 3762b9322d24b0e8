package identity

import (
	"context"
	"time"
)

// DefaultRole is assigned to identities created on first login-link request.
const DefaultRole = "Learner"

// User is AGRON's canonical security principal.
//
// Role is the legacy single-role field. It is a display hint only; authorization
// decisions read the user_roles assignments (see package rbac).
type User struct {
	ID          string     `db:"id" json:"id"`
	Email       string     `db:"email" json:"email"`
	FullName    *string    `db:"full_name" json:"full_name,omitempty"`
	Callsign    *string    `db:"callsign" json:"callsign,omitempty"`
	Role        string     `db:"role" json:"role"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	LastLoginAt *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
}

// Directory is the identity persistence boundary.
type Directory interface {
	// FindOrCreate returns the identity for email, provisioning one with DefaultRole
	// if none exists. created reports whether this call inserted the row.
	// Concurrent calls for the same email converge on one identity.
	FindOrCreate(ctx context.Context, email string, now time.Time) (u User, created bool, err error)
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
}
