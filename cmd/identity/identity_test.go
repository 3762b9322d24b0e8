package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  New@X.COM "); got != "new@x.com" {
		t.Fatalf("got %q", got)
	}
}

func TestParseEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"new@x.com", "new@x.com", true},
		{" Trainee@Agron.Dev ", "trainee@agron.dev", true},
		{"", "", false},
		{"not-an-email", "", false},
		{"Bob <bob@x.com>", "", false},
		{"a@localhost", "", false},
		{"@x.com", "", false},
	}
	for _, tc := range tests {
		got, err := ParseEmail(tc.in)
		if tc.ok {
			if err != nil || got != tc.want {
				t.Fatalf("ParseEmail(%q)=(%q,%v) want %q", tc.in, got, err, tc.want)
			}
			continue
		}
		if !IsInvalidInput(err) {
			t.Fatalf("ParseEmail(%q) err=%v want invalid input", tc.in, err)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	nf := NotFoundError{Op: "identity.FindByID", Resource: "user"}
	if !IsNotFound(nf) || !errors.Is(nf, ErrNotFound) {
		t.Fatalf("NotFoundError must unwrap to ErrNotFound")
	}
	if nf.Error() != "identity.FindByID: not_found: user" {
		t.Fatalf("Error()=%q", nf.Error())
	}

	ce := ConflictError{Op: "identity.FindOrCreate", Field: "email"}
	if !IsConflict(ce) || !errors.Is(ce, ErrConflict) {
		t.Fatalf("ConflictError must unwrap to ErrConflict")
	}
	if ce.Error() != "identity.FindOrCreate: conflict: email" {
		t.Fatalf("Error()=%q", ce.Error())
	}

	oe := OpError{Op: "identity.X", Kind: ErrUnavailable, Msg: "no database configured"}
	if !IsUnavailable(oe) || IsNotFound(oe) {
		t.Fatalf("OpError kind mismatch")
	}
	if oe.Error() != "identity.X: unavailable: no database configured" {
		t.Fatalf("Error()=%q", oe.Error())
	}
}

func TestNullStore(t *testing.T) {
	var s NullStore
	ctx := context.Background()

	if _, _, err := s.FindOrCreate(ctx, "a@b.co", time.Now()); !IsUnavailable(err) {
		t.Fatalf("FindOrCreate err=%v want unavailable", err)
	}
	if _, err := s.FindByID(ctx, "01H"); !IsNotFound(err) {
		t.Fatalf("FindByID err=%v want not found", err)
	}
	if _, err := s.FindByEmail(ctx, "a@b.co"); !IsNotFound(err) {
		t.Fatalf("FindByEmail err=%v want not found", err)
	}
}
