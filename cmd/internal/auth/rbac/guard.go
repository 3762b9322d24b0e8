package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agron/cmd/internal/audit"
	"agron/cmd/internal/auth/access"
	"agron/cmd/internal/httpx"
	"agron/cmd/internal/metrics"
)

// Verifier checks bearer access tokens.
type Verifier interface {
	Verify(raw string, now time.Time) (access.Claims, error)
}

// Guard builds route middleware. Every guard fails closed: a store error is a
// 503, never a pass-through.
type Guard struct {
	tokens     Verifier
	store      Store
	audit      audit.Recorder
	log        *slog.Logger
	metrics    *metrics.Metrics
	trustProxy bool
	now        func() time.Time
}

type GuardOption func(*Guard)

func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

func WithGuardMetrics(m *metrics.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// WithTrustProxy makes audit records use forwarded client addresses.
func WithTrustProxy(v bool) GuardOption {
	return func(g *Guard) { g.trustProxy = v }
}

func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGuard(tokens Verifier, store Store, rec audit.Recorder, opts ...GuardOption) *Guard {
	g := &Guard{
		tokens: tokens,
		store:  store,
		audit:  rec,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Authenticate requires a valid bearer token and attaches its claims.
func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := g.claims(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(access.WithClaims(r.Context(), claims)))
	})
}

// Resolve requires a valid bearer token and attaches the identity's RBAC
// Context without requiring any role or permission.
func (g *Guard) Resolve(next http.Handler) http.Handler {
	return g.with(nil, next)
}

// RequireRole passes identities holding at least one of roles.
func (g *Guard) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.with(func(w http.ResponseWriter, r *http.Request, rc Context) bool {
			if rc.HasRole(roles...) {
				return true
			}
			g.deny(r, rc, "role", audit.ActionAccessDeniedRole, map[string]any{
				"path":           r.URL.Path,
				"method":         r.Method,
				"required_roles": roles,
				"user_roles":     rc.Roles,
			})
			httpx.WriteError(w, http.StatusForbidden, "forbidden", "Insufficient role privileges")
			return false
		}, next)
	}
}

// RequirePermission passes identities granted slug, and SuperAdmin unconditionally.
func (g *Guard) RequirePermission(slug string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.with(func(w http.ResponseWriter, r *http.Request, rc Context) bool {
			if rc.Can(slug) {
				return true
			}
			g.deny(r, rc, "permission", audit.ActionAccessDeniedPermission, map[string]any{
				"path":                r.URL.Path,
				"method":              r.Method,
				"required_permission": slug,
				"user_roles":          rc.Roles,
			})
			httpx.WriteError(w, http.StatusForbidden, "forbidden", "Missing permission: "+slug)
			return false
		}, next)
	}
}

type check func(w http.ResponseWriter, r *http.Request, rc Context) bool

func (g *Guard) with(allow check, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := g.claims(w, r)
		if !ok {
			return
		}
		ctx := access.WithClaims(r.Context(), claims)

		rc, err := g.store.LoadContext(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "User context not found")
				return
			}
			g.log.ErrorContext(ctx, "rbac.load_context.fail", "err", err, "user_id", claims.UserID)
			httpx.WriteError(w, http.StatusServiceUnavailable, "authz_unavailable", "Authorization temporarily unavailable")
			return
		}

		r = r.WithContext(WithContext(ctx, rc))
		if allow != nil && !allow(w, r, rc) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) claims(w http.ResponseWriter, r *http.Request) (access.Claims, bool) {
	raw := httpx.BearerToken(r)
	if raw == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return access.Claims{}, false
	}
	claims, err := g.tokens.Verify(raw, g.now())
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return access.Claims{}, false
	}
	return claims, true
}

func (g *Guard) deny(r *http.Request, rc Context, guard, action string, details map[string]any) {
	g.metrics.AccessDenied(guard)
	g.audit.Record(r.Context(), audit.Event{
		UserID:   rc.UserID,
		Action:   action,
		Resource: "route",
		Details:  details,
		Origin: audit.Origin{
			IP:        httpx.ClientIP(r, g.trustProxy),
			UserAgent: strings.TrimSpace(r.UserAgent()),
		},
	})
}
