package migrate

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agron/cmd/identity/ids"
)

//go:embed seed.yaml
var seedYAML []byte

// Wildcard in a grant list expands to every catalog permission.
const Wildcard = "*"

type RoleSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type PermissionSpec struct {
	Slug        string `yaml:"slug"`
	Description string `yaml:"description"`
}

// Resource and Action split a "resource:action" slug.
func (p PermissionSpec) Resource() string { r, _, _ := strings.Cut(p.Slug, ":"); return r }
func (p PermissionSpec) Action() string   { _, a, _ := strings.Cut(p.Slug, ":"); return a }

type BootstrapSpec struct {
	Email    string `yaml:"email"`
	FullName string `yaml:"full_name"`
	Callsign string `yaml:"callsign"`
	Role     string `yaml:"role"`
}

// Catalog is the system RBAC baseline: roles, permission slugs, the default
// role -> permission grants and an optional bootstrap administrator.
type Catalog struct {
	Roles       []RoleSpec          `yaml:"roles"`
	Permissions []PermissionSpec    `yaml:"permissions"`
	Grants      map[string][]string `yaml:"grants"`
	Bootstrap   *BootstrapSpec      `yaml:"bootstrap"`
}

// LoadCatalog parses the embedded seed catalog.
func LoadCatalog() (Catalog, error) {
	return ParseCatalog(seedYAML)
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(b []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Catalog{}, fmt.Errorf("seed: decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Validate checks names are unique and every grant references a known role and permission.
func (c Catalog) Validate() error {
	var errs []error

	roles := make(map[string]struct{}, len(c.Roles))
	for _, r := range c.Roles {
		if strings.TrimSpace(r.Name) == "" {
			errs = append(errs, errors.New("role with empty name"))
			continue
		}
		if _, dup := roles[r.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate role %q", r.Name))
		}
		roles[r.Name] = struct{}{}
	}

	perms := make(map[string]struct{}, len(c.Permissions))
	for _, p := range c.Permissions {
		if p.Resource() == "" || p.Action() == "" {
			errs = append(errs, fmt.Errorf("permission %q is not resource:action", p.Slug))
		}
		if _, dup := perms[p.Slug]; dup {
			errs = append(errs, fmt.Errorf("duplicate permission %q", p.Slug))
		}
		perms[p.Slug] = struct{}{}
	}

	for role, slugs := range c.Grants {
		if _, ok := roles[role]; !ok {
			errs = append(errs, fmt.Errorf("grant for unknown role %q", role))
		}
		for _, s := range slugs {
			if s == Wildcard {
				continue
			}
			if _, ok := perms[s]; !ok {
				errs = append(errs, fmt.Errorf("role %q granted unknown permission %q", role, s))
			}
		}
	}

	if b := c.Bootstrap; b != nil {
		if strings.TrimSpace(b.Email) == "" {
			errs = append(errs, errors.New("bootstrap user without email"))
		}
		if _, ok := roles[b.Role]; !ok {
			errs = append(errs, fmt.Errorf("bootstrap role %q is not in the catalog", b.Role))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("seed: invalid catalog: %w", errors.Join(errs...))
	}
	return nil
}

// ExpandGrants resolves wildcards and returns each role's sorted permission slugs.
func (c Catalog) ExpandGrants() map[string][]string {
	all := make([]string, 0, len(c.Permissions))
	for _, p := range c.Permissions {
		all = append(all, p.Slug)
	}
	sort.Strings(all)

	out := make(map[string][]string, len(c.Grants))
	for role, slugs := range c.Grants {
		set := map[string]struct{}{}
		for _, s := range slugs {
			if s == Wildcard {
				for _, a := range all {
					set[a] = struct{}{}
				}
				continue
			}
			set[s] = struct{}{}
		}
		list := make([]string, 0, len(set))
		for s := range set {
			list = append(list, s)
		}
		sort.Strings(list)
		out[role] = list
	}
	return out
}

// SeedReport counts the rows the seeder touched.
type SeedReport struct {
	Roles       int
	Permissions int
	Grants      int
	Bootstrap   bool
}

// Seed upserts the catalog in a single transaction. It is safe to re-run.
func Seed(ctx context.Context, db *sql.DB, c Catalog, now time.Time) (SeedReport, error) {
	if db == nil {
		return SeedReport{}, errors.New("seed: nil db")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return SeedReport{}, fmt.Errorf("seed: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rep SeedReport

	for _, r := range c.Roles {
		id, err := ids.NewULID(now)
		if err != nil {
			return SeedReport{}, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agron.roles (id, name, description, is_system, created_at)
			 VALUES ($1, $2, $3, true, $4)
			 ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description, is_system = true`,
			id, r.Name, r.Description, now,
		); err != nil {
			return SeedReport{}, fmt.Errorf("seed: role %s: %w", r.Name, err)
		}
		rep.Roles++
	}

	for _, p := range c.Permissions {
		id, err := ids.NewULID(now)
		if err != nil {
			return SeedReport{}, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agron.permissions (id, slug, resource, action, description)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (slug) DO UPDATE SET description = EXCLUDED.description`,
			id, p.Slug, p.Resource(), p.Action(), p.Description,
		); err != nil {
			return SeedReport{}, fmt.Errorf("seed: permission %s: %w", p.Slug, err)
		}
		rep.Permissions++
	}

	grants := c.ExpandGrants()
	roleNames := make([]string, 0, len(grants))
	for r := range grants {
		roleNames = append(roleNames, r)
	}
	sort.Strings(roleNames)

	for _, role := range roleNames {
		for _, slug := range grants[role] {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO agron.role_permissions (role_id, permission_id)
				 SELECT r.id, p.id FROM agron.roles r, agron.permissions p
				 WHERE r.name = $1 AND p.slug = $2
				 ON CONFLICT DO NOTHING`,
				role, slug,
			); err != nil {
				return SeedReport{}, fmt.Errorf("seed: grant %s -> %s: %w", role, slug, err)
			}
			rep.Grants++
		}
	}

	if b := c.Bootstrap; b != nil {
		id, err := ids.NewULID(now)
		if err != nil {
			return SeedReport{}, err
		}
		email := strings.ToLower(strings.TrimSpace(b.Email))
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agron.users (id, email, full_name, callsign, role, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (email) DO UPDATE SET
			   full_name = COALESCE(agron.users.full_name, EXCLUDED.full_name),
			   callsign  = COALESCE(agron.users.callsign, EXCLUDED.callsign),
			   role      = EXCLUDED.role`,
			id, email, nullIfEmpty(b.FullName), nullIfEmpty(b.Callsign), b.Role, now,
		); err != nil {
			return SeedReport{}, fmt.Errorf("seed: bootstrap user: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agron.user_roles (user_id, role_id, assigned_at)
			 SELECT u.id, r.id, $3 FROM agron.users u, agron.roles r
			 WHERE u.email = $1 AND r.name = $2
			 ON CONFLICT DO NOTHING`,
			email, b.Role, now,
		); err != nil {
			return SeedReport{}, fmt.Errorf("seed: bootstrap role: %w", err)
		}
		rep.Bootstrap = true
	}

	if err := tx.Commit(); err != nil {
		return SeedReport{}, fmt.Errorf("seed: commit: %w", err)
	}
	return rep, nil
}

func nullIfEmpty(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
