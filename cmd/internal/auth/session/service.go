package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agron/cmd/identity/ids"
	"agron/cmd/security/token"
)

// Service implements the refresh-session lifecycle.
type Service struct {
	cfg   Config
	store Store
}

// Issued is the result of creating or rotating a session.
// RefreshToken is the raw value; it must reach the client exactly once and never be logged.
type Issued struct {
	SessionID    string
	UserID       string
	RefreshToken string
	ExpiresAt    time.Time
}

// NewService constructs a Service with the provided configuration and store.
func NewService(cfg Config, store Store) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrConfig)
	}
	return &Service{cfg: cfg, store: store}, nil
}

// TTL reports the refresh session lifetime.
func (s *Service) TTL() time.Duration { return s.cfg.RefreshTTL }

func (s *Service) newRow(now time.Time, userID string, dev DeviceContext) (Row, string, error) {
	raw, err := token.Generate(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Row{}, "", err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Row{}, "", err
	}
	var ip *string
	if dev.IP != nil {
		v := dev.IP.String()
		ip = &v
	}
	return Row{
		ID:        id,
		UserID:    userID,
		TokenHash: token.Digest(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		IPAddress: ip,
		UserAgent: nullIfEmpty(dev.UserAgent),
	}, raw, nil
}

// Create starts a new session for userID.
func (s *Service) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext) (Issued, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Issued{}, fmt.Errorf("session: empty user id")
	}
	row, raw, err := s.newRow(now, userID, dev)
	if err != nil {
		return Issued{}, err
	}
	if err := s.store.Create(ctx, row); err != nil {
		return Issued{}, err
	}
	return Issued{SessionID: row.ID, UserID: userID, RefreshToken: raw, ExpiresAt: row.ExpiresAt}, nil
}

// Refresh exchanges a live refresh token for a new one. The presented token is
// consumed whether or not the caller ever receives the replacement.
//
// Unknown, expired and already-rotated tokens all return ErrInvalidSession.
// Any other error is a store failure.
func (s *Service) Refresh(ctx context.Context, now time.Time, raw string, dev DeviceContext) (Issued, error) {
	raw = strings.TrimSpace(raw)
	// Hash first so malformed and well-formed inputs cost the same.
	oldHash := token.Digest(raw)
	if !token.LooksValid(raw, s.cfg.RefreshTokenBytes) {
		return Issued{}, ErrInvalidSession
	}

	next, newRaw, err := s.newRow(now, "", dev)
	if err != nil {
		return Issued{}, err
	}
	row, err := s.store.Rotate(ctx, oldHash, now, next)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Issued{}, ErrInvalidSession
		}
		return Issued{}, err
	}
	return Issued{SessionID: row.ID, UserID: row.UserID, RefreshToken: newRaw, ExpiresAt: row.ExpiresAt}, nil
}

// Revoke ends the session holding raw. It is idempotent: unknown or malformed
// tokens are not an error.
func (s *Service) Revoke(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	_, err := s.store.DeleteByHash(ctx, token.Digest(raw))
	return err
}

// PurgeExpired removes sessions that can no longer be refreshed.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.store.PurgeExpired(ctx, now)
}
