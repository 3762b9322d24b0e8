package identity

import (
	"net/mail"
	"strings"
)

const maxEmailLen = 254

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParseEmail normalizes s and rejects anything that is not a bare address
// ("Name <a@b>" forms are refused so the stored value is exactly what was typed).
func ParseEmail(s string) (string, error) {
	const op = "identity.ParseEmail"

	norm := NormalizeEmail(s)
	if norm == "" {
		return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	if len(norm) > maxEmailLen {
		return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "email too long"}
	}
	addr, err := mail.ParseAddress(norm)
	if err != nil || addr.Address != norm || addr.Name != "" {
		return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid email"}
	}
	at := strings.LastIndexByte(norm, '@')
	if at <= 0 || !strings.Contains(norm[at+1:], ".") {
		return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid email"}
	}
	return norm, nil
}
