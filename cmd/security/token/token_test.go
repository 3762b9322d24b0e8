package token

import (
	"encoding/hex"
	"errors"
	"testing"
)

func TestGenerate_LengthAndHex(t *testing.T) {
	for _, n := range []int{LoginTokenBytes, RefreshTokenBytes} {
		raw, err := Generate(n)
		if err != nil {
			t.Fatalf("Generate(%d): %v", n, err)
		}
		if len(raw) != 2*n {
			t.Fatalf("Generate(%d) len=%d want %d", n, len(raw), 2*n)
		}
		if _, err := hex.DecodeString(raw); err != nil {
			t.Fatalf("Generate(%d) not hex: %v", n, err)
		}
		if !LooksValid(raw, n) {
			t.Fatalf("LooksValid rejected generated token")
		}
	}
}

func TestGenerate_Unique(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 256; i++ {
		raw, err := Generate(LoginTokenBytes)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if _, dup := seen[raw]; dup {
			t.Fatalf("duplicate token after %d draws", i)
		}
		seen[raw] = struct{}{}
	}
}

func TestGenerate_RejectsBadLength(t *testing.T) {
	for _, n := range []int{0, -1, maxTokenBytes + 1} {
		if _, err := Generate(n); !errors.Is(err, ErrInvalidLength) {
			t.Fatalf("Generate(%d) err=%v want ErrInvalidLength", n, err)
		}
	}
}

func TestDigest_SHA256Mode(t *testing.T) {
	t.Setenv(HMACEnvKey, "")

	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Digest("abc"); got != want {
		t.Fatalf("Digest(abc)=%s want %s", got, want)
	}
	if Digest("abc") != Digest("abc") {
		t.Fatalf("digest not deterministic")
	}
}

func TestDigest_HMACMode(t *testing.T) {
	const key = "0123456789abcdef0123456789abcdef"
	t.Setenv(HMACEnvKey, "  "+key+"\n")

	raw, _ := Generate(LoginTokenBytes)
	d := Digest(raw)
	if d == HashSHA256Hex(raw) {
		t.Fatalf("expected HMAC digest to differ from plain SHA-256")
	}
	if d == raw {
		t.Fatalf("digest equals raw token")
	}
	if len(d) != DigestLen {
		t.Fatalf("len=%d", len(d))
	}
	if d != HashHMACSHA256Hex(raw, []byte(key)) {
		t.Fatalf("digest must use the trimmed key")
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	tests := []struct {
		name string
		val  string
		want error
	}{
		{"missing", "", ErrHMACKeyMissing},
		{"blank", "   ", ErrHMACKeyMissing},
		{"short", "short", ErrHMACKeyTooShort},
		{"ok", "0123456789abcdef0123456789abcdef", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(HMACEnvKey, tc.val)
			_, err := HMACKeyFromEnv(32)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}
