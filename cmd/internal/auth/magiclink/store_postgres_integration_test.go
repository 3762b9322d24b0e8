package magiclink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"agron/cmd/identity"
	"agron/cmd/identity/ids"
	"agron/cmd/internal/pgtest"
	"agron/cmd/security/token"
)

// Integration tests are opt-in and require AGRON_DATABASE_URL.

func seedToken(t *testing.T, ctx context.Context, st *PostgresStore, userID string, now time.Time, ttl time.Duration) string {
	t.Helper()
	raw, err := token.Generate(token.LoginTokenBytes)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	id, err := ids.NewULID(now)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if err := st.Create(ctx, Token{
		ID:        id,
		UserID:    userID,
		TokenHash: token.Digest(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return token.Digest(raw)
}

func TestPostgresStore_ConsumeOnceAndStampsLogin(t *testing.T) {
	pool := pgtest.Open(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	u, _, err := users.FindOrCreate(ctx, pgtest.UniqueEmail(t, "link"), now)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}

	st := NewPostgresStore(pool)
	digest := seedToken(t, ctx, st, u.ID, now, 15*time.Minute)

	if err := st.Consume(ctx, u.ID, digest, now.Add(time.Minute)); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := st.Consume(ctx, u.ID, digest, now.Add(2*time.Minute)); !errors.Is(err, ErrTokenNotActive) {
		t.Fatalf("second consume err=%v", err)
	}

	got, err := users.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("last_login_at=%v", got.LastLoginAt)
	}
}

func TestPostgresStore_ExpiredAndForeignTokensRejected(t *testing.T) {
	pool := pgtest.Open(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	a, _, err := users.FindOrCreate(ctx, pgtest.UniqueEmail(t, "owner"), now)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	b, _, err := users.FindOrCreate(ctx, pgtest.UniqueEmail(t, "other"), now)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}

	st := NewPostgresStore(pool)
	expired := seedToken(t, ctx, st, a.ID, now, time.Minute)
	if err := st.Consume(ctx, a.ID, expired, now.Add(time.Minute)); !errors.Is(err, ErrTokenNotActive) {
		t.Fatalf("expiry boundary err=%v", err)
	}

	live := seedToken(t, ctx, st, a.ID, now, 15*time.Minute)
	if err := st.Consume(ctx, b.ID, live, now); !errors.Is(err, ErrTokenNotActive) {
		t.Fatalf("foreign user err=%v", err)
	}

	n, err := st.PurgeExpired(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n < 2 {
		t.Fatalf("purged=%d want >= 2", n)
	}
}

func TestPostgresStore_ConcurrentConsumeHasOneWinner(t *testing.T) {
	pool := pgtest.Open(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	u, _, err := users.FindOrCreate(ctx, pgtest.UniqueEmail(t, "race"), now)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}

	st := NewPostgresStore(pool)
	digest := seedToken(t, ctx, st, u.ID, now, 15*time.Minute)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := st.Consume(ctx, u.ID, digest, now.Add(time.Second)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins=%d want 1", wins)
	}
}
