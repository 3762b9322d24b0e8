package session_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"agron/cmd/internal/auth/authtest"
	"agron/cmd/internal/auth/session"
	"agron/cmd/security/token"
)

var dev = session.DeviceContext{UserAgent: "agron-test", IP: net.ParseIP("198.51.100.4")}

func newService(t *testing.T, store session.Store) *session.Service {
	t.Helper()
	svc, err := session.NewService(session.DefaultConfig(), store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestCreate_StoresDigestAndProvenance(t *testing.T) {
	w := authtest.NewWorld()
	svc := newService(t, w.Sessions)
	now := w.Clock.Now()

	iss, err := svc.Create(context.Background(), now, "user-1", dev)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !token.LooksValid(iss.RefreshToken, token.RefreshTokenBytes) {
		t.Fatalf("refresh token shape: len=%d", len(iss.RefreshToken))
	}
	if !iss.ExpiresAt.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("exp=%v", iss.ExpiresAt)
	}

	rows := w.Sessions.All()
	if len(rows) != 1 {
		t.Fatalf("rows=%d", len(rows))
	}
	row := rows[0]
	if row.TokenHash != token.Digest(iss.RefreshToken) || row.TokenHash == iss.RefreshToken {
		t.Fatalf("row does not hold the digest")
	}
	if row.IPAddress == nil || *row.IPAddress != "198.51.100.4" || row.UserAgent == nil || *row.UserAgent != "agron-test" {
		t.Fatalf("provenance missing: %+v", row)
	}
}

func TestRefresh_RotationInvalidatesPredecessor(t *testing.T) {
	w := authtest.NewWorld()
	svc := newService(t, w.Sessions)
	ctx := context.Background()
	now := w.Clock.Now()

	first, _ := svc.Create(ctx, now, "user-1", dev)

	next, err := svc.Refresh(ctx, now.Add(time.Hour), first.RefreshToken, dev)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.UserID != "user-1" || next.RefreshToken == first.RefreshToken || next.SessionID == first.SessionID {
		t.Fatalf("unexpected rotation result: %+v", next)
	}
	if !next.ExpiresAt.Equal(now.Add(time.Hour + 7*24*time.Hour)) {
		t.Fatalf("rotation must start a fresh ttl, exp=%v", next.ExpiresAt)
	}

	rows := w.Sessions.All()
	if len(rows) != 1 || rows[0].TokenHash != token.Digest(next.RefreshToken) {
		t.Fatalf("old row not replaced: %+v", rows)
	}

	if _, err := svc.Refresh(ctx, now.Add(2*time.Hour), first.RefreshToken, dev); !errors.Is(err, session.ErrInvalidSession) {
		t.Fatalf("reuse err=%v want ErrInvalidSession", err)
	}
	if _, err := svc.Refresh(ctx, now.Add(2*time.Hour), next.RefreshToken, dev); err != nil {
		t.Fatalf("successor refresh: %v", err)
	}
}

func TestRefresh_FailuresAreGeneric(t *testing.T) {
	w := authtest.NewWorld()
	svc := newService(t, w.Sessions)
	ctx := context.Background()
	now := w.Clock.Now()

	live, _ := svc.Create(ctx, now, "user-1", dev)
	unknown, _ := token.Generate(token.RefreshTokenBytes)

	tests := []struct {
		name string
		raw  string
		at   time.Time
	}{
		{"unknown", unknown, now},
		{"malformed", "abc", now},
		{"empty", "", now},
		{"expired", live.RefreshToken, now.Add(7*24*time.Hour + time.Second)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Refresh(ctx, tc.at, tc.raw, dev)
			if err != session.ErrInvalidSession {
				t.Fatalf("err=%v want exactly ErrInvalidSession", err)
			}
		})
	}
}

func TestRefresh_StoreFailurePropagates(t *testing.T) {
	w := authtest.NewWorld()
	svc := newService(t, w.Sessions)
	ctx := context.Background()

	live, _ := svc.Create(ctx, w.Clock.Now(), "user-1", dev)
	w.Sessions.Err = authtest.ErrStoreDown

	_, err := svc.Refresh(ctx, w.Clock.Now(), live.RefreshToken, dev)
	if !errors.Is(err, authtest.ErrStoreDown) {
		t.Fatalf("err=%v want store error", err)
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	w := authtest.NewWorld()
	svc := newService(t, w.Sessions)
	ctx := context.Background()

	live, _ := svc.Create(ctx, w.Clock.Now(), "user-1", dev)

	for i := 0; i < 2; i++ {
		if err := svc.Revoke(ctx, live.RefreshToken); err != nil {
			t.Fatalf("revoke #%d: %v", i+1, err)
		}
	}
	if err := svc.Revoke(ctx, "never-issued"); err != nil {
		t.Fatalf("revoke unknown: %v", err)
	}
	if err := svc.Revoke(ctx, ""); err != nil {
		t.Fatalf("revoke empty: %v", err)
	}
	if len(w.Sessions.All()) != 0 {
		t.Fatalf("session survived revoke")
	}
	if _, err := svc.Refresh(ctx, w.Clock.Now(), live.RefreshToken, dev); !errors.Is(err, session.ErrInvalidSession) {
		t.Fatalf("refresh after revoke err=%v", err)
	}
}

func TestMultipleSessionsPerIdentity(t *testing.T) {
	w := authtest.NewWorld()
	svc := newService(t, w.Sessions)
	ctx := context.Background()

	a, _ := svc.Create(ctx, w.Clock.Now(), "user-1", dev)
	b, _ := svc.Create(ctx, w.Clock.Now(), "user-1", dev)

	_ = svc.Revoke(ctx, a.RefreshToken)
	if _, err := svc.Refresh(ctx, w.Clock.Now(), b.RefreshToken, dev); err != nil {
		t.Fatalf("other device's session affected: %v", err)
	}
}

func TestNullStore(t *testing.T) {
	svc := newService(t, session.NullStore{})
	ctx := context.Background()

	if _, err := svc.Create(ctx, time.Now(), "user-1", dev); !errors.Is(err, session.ErrUnavailable) {
		t.Fatalf("Create err=%v", err)
	}
	raw, _ := token.Generate(token.RefreshTokenBytes)
	if _, err := svc.Refresh(ctx, time.Now(), raw, dev); !errors.Is(err, session.ErrInvalidSession) {
		t.Fatalf("Refresh err=%v", err)
	}
	if err := svc.Revoke(ctx, raw); err != nil {
		t.Fatalf("Revoke err=%v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	w := authtest.NewWorld()
	svc := newService(t, w.Sessions)
	ctx := context.Background()
	now := w.Clock.Now()

	_, _ = svc.Create(ctx, now, "user-1", dev)
	_, _ = svc.Create(ctx, now.Add(24*time.Hour), "user-2", dev)

	n, err := svc.PurgeExpired(ctx, now.Add(7*24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpired=(%d,%v) want 1", n, err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  session.Config
	}{
		{"zero ttl", session.Config{RefreshTTL: 0, RefreshTokenBytes: 64}},
		{"negative ttl", session.Config{RefreshTTL: -time.Hour, RefreshTokenBytes: 64}},
		{"too long", session.Config{RefreshTTL: 365 * 24 * time.Hour, RefreshTokenBytes: 64}},
		{"weak token", session.Config{RefreshTTL: time.Hour, RefreshTokenBytes: 16}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); !errors.Is(err, session.ErrConfig) {
				t.Fatalf("err=%v want ErrConfig", err)
			}
		})
	}
}
