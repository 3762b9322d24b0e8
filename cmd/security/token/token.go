package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "AGRON_TOKEN_HMAC_KEY"

	// LoginTokenBytes is the entropy of a magic-link token.
	LoginTokenBytes = 32
	// RefreshTokenBytes is the entropy of a refresh-session token.
	RefreshTokenBytes = 64

	// DigestLen is the hex length of every digest produced by this package.
	DigestLen = 64

	maxTokenBytes = 1024
)

// Generate returns n bytes from the OS CSPRNG, hex encoded (2n chars).
func Generate(n int) (string, error) {
	if n <= 0 || n > maxTokenBytes {
		return "", ErrInvalidLength
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Digest is the one-way transform stored in place of a raw token.
//
// If AGRON_TOKEN_HMAC_KEY is set, it is HMAC-SHA256(raw, key); otherwise SHA-256(raw).
func Digest(raw string) string {
	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if key == "" {
		return HashSHA256Hex(raw)
	}
	return HashHMACSHA256Hex(raw, []byte(key))
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// HMACEnabled reports whether the env key is present (non-empty after trim).
// It does not enforce minimum length; use HMACKeyFromEnv for policy checks.
func HMACEnabled() bool {
	return strings.TrimSpace(os.Getenv(HMACEnvKey)) != ""
}

// LooksValid reports whether raw is plausibly a token minted by Generate(n).
// Callers still hash and look up; this only rejects absurd input early.
func LooksValid(raw string, n int) bool {
	if len(raw) != 2*n {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}
