package magiclink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"agron/cmd/identity"
	"agron/cmd/identity/ids"
	"agron/cmd/internal/audit"
	"agron/cmd/internal/email"
	"agron/cmd/internal/metrics"
	"agron/cmd/security/token"
)

const (
	flowRequest = "link_request"
	flowVerify  = "link_verify"
)

// Service runs the login-link flow.
type Service struct {
	cfg     Config
	users   identity.Directory
	store   Store
	mailer  email.Sender
	audit   audit.Recorder
	log     *slog.Logger
	metrics *metrics.Metrics

	now      func() time.Time
	dispatch func(func())
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDispatcher controls how email delivery is scheduled. The default runs it
// on a new goroutine; tests pass a synchronous dispatcher.
func WithDispatcher(d func(func())) Option {
	return func(s *Service) {
		if d != nil {
			s.dispatch = d
		}
	}
}

func NewService(cfg Config, users identity.Directory, store Store, mailer email.Sender, rec audit.Recorder, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if users == nil || store == nil || mailer == nil || rec == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrConfig)
	}
	s := &Service{
		cfg:      cfg,
		users:    users,
		store:    store,
		mailer:   mailer,
		audit:    rec,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		dispatch: func(f func()) { go f() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// TTL reports how long issued links stay valid.
func (s *Service) TTL() time.Duration { return s.cfg.TokenTTL }

// RequestLink provisions the identity if needed, stores a fresh token digest and
// schedules delivery. Delivery failures are logged and never returned.
//
// A malformed address returns an identity.ErrInvalidInput error. Other errors are
// store failures and do not depend on whether the address was known.
func (s *Service) RequestLink(ctx context.Context, rawEmail string, origin audit.Origin) error {
	addr, err := identity.ParseEmail(rawEmail)
	if err != nil {
		return err
	}
	now := s.now()

	u, created, err := s.users.FindOrCreate(ctx, addr, now)
	if err != nil {
		s.metrics.AuthEvent(flowRequest, metrics.OutcomeError)
		return fmt.Errorf("magiclink: provision: %w", err)
	}
	if created {
		s.metrics.AuthEvent(flowRequest, metrics.OutcomeProvisioned)
		s.audit.Record(ctx, audit.Event{
			UserID:     u.ID,
			Action:     audit.ActionUserProvisioned,
			Resource:   "user",
			ResourceID: u.ID,
			Details:    map[string]any{"email": addr, "role": u.Role},
			Origin:     origin,
		})
	}

	raw, err := token.Generate(s.cfg.TokenBytes)
	if err != nil {
		return err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return err
	}
	t := Token{
		ID:        id,
		UserID:    u.ID,
		TokenHash: token.Digest(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
	}
	if err := s.store.Create(ctx, t); err != nil {
		s.metrics.AuthEvent(flowRequest, metrics.OutcomeError)
		return fmt.Errorf("magiclink: store token: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     u.ID,
		Action:     audit.ActionLinkRequested,
		Resource:   "magic_link_token",
		ResourceID: t.ID,
		Details:    map[string]any{"expires_at": t.ExpiresAt.Format(time.RFC3339)},
		Origin:     origin,
	})

	link := s.cfg.verifyURL(raw, addr)
	userID := u.ID
	sendCtx := context.WithoutCancel(ctx)
	s.dispatch(func() {
		ctx, cancel := context.WithTimeout(sendCtx, s.cfg.EmailTimeout)
		defer cancel()
		if err := s.mailer.Send(ctx, addr, link); err != nil {
			s.metrics.EmailFailure()
			s.log.WarnContext(ctx, "auth.link.email.fail", "err", err, "user_id", userID)
		}
	})

	s.metrics.AuthEvent(flowRequest, metrics.OutcomeSuccess)
	return nil
}

// VerifyLink consumes the token and returns the signed-in identity.
//
// Unknown email, wrong token, used token and expired token all return
// ErrInvalidLink. The token digest is computed before the identity lookup so
// every path does the same hashing work. Other errors are store failures.
func (s *Service) VerifyLink(ctx context.Context, rawEmail, rawToken string, origin audit.Origin) (identity.User, error) {
	rawToken = strings.TrimSpace(rawToken)
	digest := token.Digest(rawToken)
	addr := identity.NormalizeEmail(rawEmail)
	now := s.now()

	fail := func(userID, reason string) error {
		s.metrics.AuthEvent(flowVerify, metrics.OutcomeFailure)
		s.audit.Record(ctx, audit.Event{
			UserID:   userID,
			Action:   audit.ActionLoginFailed,
			Resource: "user",
			Details:  map[string]any{"email": addr, "reason": reason},
			Origin:   origin,
		})
		return ErrInvalidLink
	}

	if addr == "" || !token.LooksValid(rawToken, s.cfg.TokenBytes) {
		return identity.User{}, fail("", "malformed")
	}

	u, err := s.users.FindByEmail(ctx, addr)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, fail("", "unknown_identity")
		}
		s.metrics.AuthEvent(flowVerify, metrics.OutcomeError)
		return identity.User{}, fmt.Errorf("magiclink: lookup: %w", err)
	}

	if err := s.store.Consume(ctx, u.ID, digest, now); err != nil {
		if errors.Is(err, ErrTokenNotActive) {
			return identity.User{}, fail(u.ID, "token_not_active")
		}
		s.metrics.AuthEvent(flowVerify, metrics.OutcomeError)
		return identity.User{}, fmt.Errorf("magiclink: consume: %w", err)
	}
	u.LastLoginAt = &now

	s.metrics.AuthEvent(flowVerify, metrics.OutcomeSuccess)
	s.audit.Record(ctx, audit.Event{
		UserID:     u.ID,
		Action:     audit.ActionLoginSuccess,
		Resource:   "user",
		ResourceID: u.ID,
		Origin:     origin,
	})
	return u, nil
}

// PurgeExpired removes tokens that can no longer be used.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.store.PurgeExpired(ctx, now)
}
