package token

import "errors"

var (
	// ErrHMACKeyMissing means AGRON_TOKEN_HMAC_KEY is unset or blank.
	ErrHMACKeyMissing = errors.New("token: hmac key missing")
	// ErrHMACKeyTooShort means the key is below the enforced minimum.
	ErrHMACKeyTooShort = errors.New("token: hmac key too short")
	// ErrInvalidLength rejects Generate sizes outside (0, 1024].
	ErrInvalidLength = errors.New("token: length out of range")
)
