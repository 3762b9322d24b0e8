package app

import (
	"crypto/rand"
	"errors"
	"strings"

	"agron/cmd/internal/auth/access"
	"agron/cmd/security/token"
)

// ValidateSecurityConfig enforces the token-digest policy at startup.
// Enforcement goes through the same package that computes digests.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: AGRON_REQUIRE_TOKEN_HMAC=true but AGRON_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: AGRON_REQUIRE_TOKEN_HMAC=true but AGRON_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}
	if !token.HMACEnabled() {
		return errors.New("security policy: AGRON_REQUIRE_TOKEN_HMAC=true but token digests are not keyed")
	}
	return nil
}

// signingSecret returns the configured JWT secret. Outside production an unset
// secret is replaced by a random one, so access tokens do not survive a restart.
func signingSecret(cfg Config, log Logger) ([]byte, error) {
	if s := strings.TrimSpace(cfg.JWTSecret); s != "" {
		return []byte(s), nil
	}
	if cfg.IsProduction() {
		return nil, errors.New("AGRON_JWT_SECRET is required in production")
	}
	b := make([]byte, access.MinSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	log.Warn("auth.jwt.ephemeral_secret", "env", cfg.Env)
	return b, nil
}
