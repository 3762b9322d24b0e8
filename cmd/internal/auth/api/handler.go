// Package api is the HTTP surface of the login-link, session and RBAC services.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"agron/cmd/identity"
	"agron/cmd/internal/audit"
	"agron/cmd/internal/auth/access"
	"agron/cmd/internal/auth/magiclink"
	"agron/cmd/internal/auth/rbac"
	"agron/cmd/internal/auth/session"
	"agron/cmd/internal/httpx"
	"agron/cmd/internal/metrics"
	"agron/cmd/internal/ratelimit"
)

const (
	msgLinkSent  = "If the email exists, a secure link has been sent."
	msgLoggedOut = "Logged out successfully"

	flowRequest = "link_request"
	flowVerify  = "link_verify"
	flowRefresh = "refresh"
	flowLogout  = "logout"

	limitedLogInterval = 10 * time.Second
)

// Deps are the services behind the handlers. All are required.
type Deps struct {
	Users    identity.Directory
	Links    *magiclink.Service
	Sessions *session.Service
	Tokens   *access.Issuer
	RBAC     rbac.Store
	Guard    *rbac.Guard
	Audit    audit.Store
}

// Handler serves /auth and /admin.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time

	users    identity.Directory
	links    *magiclink.Service
	sessions *session.Service
	tokens   *access.Issuer
	rbac     rbac.Store
	guard    *rbac.Guard
	audit    audit.Store

	requestLimiter *ratelimit.Limiter
	verifyLimiter  *ratelimit.Limiter
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, deps Deps, opts ...HandlerOption) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Users == nil || deps.Links == nil || deps.Sessions == nil || deps.Tokens == nil ||
		deps.RBAC == nil || deps.Guard == nil || deps.Audit == nil {
		return nil, errors.New("api: missing dependency")
	}

	h := &Handler{
		log:            slog.Default(),
		cfg:            cfg,
		now:            time.Now,
		users:          deps.Users,
		links:          deps.Links,
		sessions:       deps.Sessions,
		tokens:         deps.Tokens,
		rbac:           deps.RBAC,
		guard:          deps.Guard,
		audit:          deps.Audit,
		requestLimiter: ratelimit.New(cfg.RequestLinkLimit, cfg.RequestLinkWindow),
		verifyLimiter:  ratelimit.New(cfg.VerifyLinkLimit, cfg.VerifyLinkWindow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.With(h.limit(h.requestLimiter, flowRequest)).Post("/request-link", h.handleRequestLink)
		r.With(h.limit(h.verifyLimiter, flowVerify)).Post("/verify-link", h.handleVerifyLink)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/logout", h.handleLogout)
		r.With(h.guard.Resolve).Get("/me", h.handleMe)
	})

	r.Route("/admin", func(r chi.Router) {
		r.With(h.guard.RequireRole(rbac.SuperAdmin, "Admin")).Get("/roles", h.handleListRoles)
		r.With(h.guard.RequirePermission("user:write")).Put("/users/{userID}/roles/{role}", h.handleAssignRole)
		r.With(h.guard.RequirePermission("user:write")).Delete("/users/{userID}/roles/{role}", h.handleRevokeRole)
		r.With(h.guard.RequirePermission("audit:read")).Get("/audit", h.handleAuditLog)
	})
}

func (h *Handler) limit(l *ratelimit.Limiter, flow string) func(http.Handler) http.Handler {
	key := func(r *http.Request) string { return httpx.ClientKey(r, h.cfg.TrustProxy) }
	// Every denial is counted; the warning is sampled so a flood stays readable.
	warn := &rate.Sometimes{First: 1, Interval: limitedLogInterval}
	return ratelimit.Middleware(l, key, func(w http.ResponseWriter, r *http.Request, retry time.Duration) {
		h.metrics.AuthEvent(flow, metrics.OutcomeLimited)
		warn.Do(func() {
			h.log.WarnContext(r.Context(), "auth.rate_limited", "flow", flow, "ip", key(r), "retry_after", retry)
		})
		httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again later.")
	})
}

func (h *Handler) origin(r *http.Request) audit.Origin {
	return audit.Origin{
		IP:        httpx.ClientIP(r, h.cfg.TrustProxy),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	}
}

func (h *Handler) device(r *http.Request) session.DeviceContext {
	o := h.origin(r)
	return session.DeviceContext{UserAgent: o.UserAgent, IP: o.IP}
}

func writeUnavailable(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusServiceUnavailable, "service_unavailable", "Service temporarily unavailable")
}

// ---- auth ----

func (h *Handler) handleRequestLink(w http.ResponseWriter, r *http.Request) {
	var req requestLinkRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	if err := h.links.RequestLink(ctx, req.Email, h.origin(r)); err != nil {
		if identity.IsInvalidInput(err) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_email", "A valid email address is required.")
			return
		}
		h.log.ErrorContext(ctx, "auth.request_link.fail", "err", err)
		writeUnavailable(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: msgLinkSent})
}

func (h *Handler) handleVerifyLink(w http.ResponseWriter, r *http.Request) {
	var req verifyLinkRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	u, err := h.links.VerifyLink(ctx, req.Email, req.Token, h.origin(r))
	if err != nil {
		if errors.Is(err, magiclink.ErrInvalidLink) {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token.")
			return
		}
		h.log.ErrorContext(ctx, "auth.verify_link.fail", "err", err)
		writeUnavailable(w)
		return
	}

	now := h.now().UTC()
	issued, err := h.sessions.Create(ctx, now, u.ID, h.device(r))
	if err != nil {
		h.log.ErrorContext(ctx, "auth.verify_link.session.fail", "err", err, "user_id", u.ID)
		writeUnavailable(w)
		return
	}
	accessToken, accessExp, err := h.tokens.Issue(subjectOf(u), now)
	if err != nil {
		h.log.ErrorContext(ctx, "auth.verify_link.access.fail", "err", err, "user_id", u.ID)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.setRefreshCookie(w, issued.RefreshToken, issued.ExpiresAt)
	httpx.WriteJSON(w, http.StatusOK, verifyLinkResponse{
		AccessToken:     accessToken,
		AccessExpiresAt: accessExp,
		User:            toUserResponse(u),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	origin := h.origin(r)

	raw := h.refreshTokenFromCookie(r)
	if raw == "" {
		h.refreshFailed(w, r, "missing")
		return
	}

	now := h.now().UTC()
	issued, err := h.sessions.Refresh(ctx, now, raw, h.device(r))
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			h.refreshFailed(w, r, "invalid_session")
			return
		}
		h.metrics.AuthEvent(flowRefresh, metrics.OutcomeError)
		h.log.ErrorContext(ctx, "auth.refresh.fail", "err", err)
		writeUnavailable(w)
		return
	}

	u, err := h.users.FindByID(ctx, issued.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			if err := h.sessions.Revoke(ctx, issued.RefreshToken); err != nil {
				h.log.ErrorContext(ctx, "auth.refresh.revoke.fail", "err", err, "user_id", issued.UserID)
			}
			h.refreshFailed(w, r, "unknown_identity")
			return
		}
		h.metrics.AuthEvent(flowRefresh, metrics.OutcomeError)
		h.log.ErrorContext(ctx, "auth.refresh.lookup.fail", "err", err, "user_id", issued.UserID)
		writeUnavailable(w)
		return
	}

	accessToken, accessExp, err := h.tokens.Issue(subjectOf(u), now)
	if err != nil {
		h.log.ErrorContext(ctx, "auth.refresh.access.fail", "err", err, "user_id", u.ID)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.metrics.AuthEvent(flowRefresh, metrics.OutcomeSuccess)
	h.audit.Record(ctx, audit.Event{
		UserID:     u.ID,
		Action:     audit.ActionRefreshSuccess,
		Resource:   "session",
		ResourceID: issued.SessionID,
		Origin:     origin,
	})

	h.setRefreshCookie(w, issued.RefreshToken, issued.ExpiresAt)
	httpx.WriteJSON(w, http.StatusOK, refreshResponse{AccessToken: accessToken, AccessExpiresAt: accessExp})
}

func (h *Handler) refreshFailed(w http.ResponseWriter, r *http.Request, reason string) {
	h.metrics.AuthEvent(flowRefresh, metrics.OutcomeFailure)
	h.audit.Record(r.Context(), audit.Event{
		Action:   audit.ActionRefreshFailed,
		Resource: "session",
		Details:  map[string]any{"reason": reason},
		Origin:   h.origin(r),
	})
	h.clearRefreshCookie(w)
	httpx.WriteError(w, http.StatusUnauthorized, "invalid_session", "Invalid or expired session")
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if raw := h.refreshTokenFromCookie(r); raw != "" {
		if err := h.sessions.Revoke(ctx, raw); err != nil {
			h.metrics.AuthEvent(flowLogout, metrics.OutcomeError)
			h.log.ErrorContext(ctx, "auth.logout.fail", "err", err)
			writeUnavailable(w)
			return
		}
	}

	// The access token is optional here; it only attributes the audit record.
	var userID string
	if claims, err := h.tokens.Verify(httpx.BearerToken(r), h.now()); err == nil {
		userID = claims.UserID
	}
	h.metrics.AuthEvent(flowLogout, metrics.OutcomeSuccess)
	h.audit.Record(ctx, audit.Event{
		UserID:   userID,
		Action:   audit.ActionLogout,
		Resource: "session",
		Origin:   h.origin(r),
	})

	h.clearRefreshCookie(w)
	httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: msgLoggedOut})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc, ok := rbac.FromContext(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	u, err := h.users.FindByID(ctx, rc.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "User context not found")
			return
		}
		h.log.ErrorContext(ctx, "auth.me.fail", "err", err, "user_id", rc.UserID)
		writeUnavailable(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, meResponse{
		User:        toUserResponse(u),
		Roles:       rc.Roles,
		Permissions: rc.PermissionList(),
	})
}

func subjectOf(u identity.User) access.Subject {
	return access.Subject{ID: u.ID, Email: u.Email, Role: u.Role}
}

// ---- admin ----

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.rbac.ListRoles(r.Context())
	if err != nil {
		h.log.ErrorContext(r.Context(), "admin.roles.list.fail", "err", err)
		writeUnavailable(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rolesResponse{Roles: roles})
}

func (h *Handler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, true)
}

func (h *Handler) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, false)
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request, assign bool) {
	ctx := r.Context()
	actor, _ := rbac.FromContext(ctx)
	target := strings.TrimSpace(chi.URLParam(r, "userID"))
	role := strings.TrimSpace(chi.URLParam(r, "role"))
	if target == "" || role == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "user id and role are required")
		return
	}

	action := audit.ActionRoleAssigned
	var err error
	if assign {
		err = h.rbac.AssignRole(ctx, target, role, h.now().UTC())
	} else {
		action = audit.ActionRoleRevoked
		err = h.rbac.RevokeRole(ctx, target, role)
	}
	switch {
	case err == nil:
	case errors.Is(err, rbac.ErrUnknownRole):
		httpx.WriteError(w, http.StatusNotFound, "unknown_role", fmt.Sprintf("Unknown role: %s", role))
		return
	case errors.Is(err, rbac.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "user_not_found", "User not found")
		return
	default:
		h.log.ErrorContext(ctx, "admin.role.change.fail", "err", err, "action", action, "target", target, "role", role)
		writeUnavailable(w)
		return
	}

	h.audit.Record(ctx, audit.Event{
		UserID:     actor.UserID,
		Action:     action,
		Resource:   "user",
		ResourceID: target,
		Details:    map[string]any{"role": role},
		Origin:     h.origin(r),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := parsePositive(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		h.log.ErrorContext(r.Context(), "admin.audit.list.fail", "err", err)
		writeUnavailable(w)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httpx.WriteJSON(w, http.StatusOK, auditResponse{Entries: entries})
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("not positive: %d", n)
	}
	return n, nil
}
