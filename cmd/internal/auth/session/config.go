package session

import (
	"fmt"
	"time"

	"agron/cmd/security/token"
)

// Config defines the refresh-session policy.
type Config struct {
	// RefreshTTL is the lifetime of a refresh session. Rotation starts a fresh TTL.
	RefreshTTL time.Duration

	// RefreshTokenBytes defines the number of random bytes in a refresh token.
	RefreshTokenBytes int
}

// DefaultConfig returns the production defaults: 7-day sessions, 64-byte tokens.
func DefaultConfig() Config {
	return Config{
		RefreshTTL:        7 * 24 * time.Hour,
		RefreshTokenBytes: token.RefreshTokenBytes,
	}
}

// Validate returns ErrConfig if configuration is invalid.
func (c Config) Validate() error {
	if c.RefreshTTL <= 0 {
		return fmt.Errorf("%w: refresh ttl must be positive", ErrConfig)
	}
	if c.RefreshTTL > 90*24*time.Hour {
		return fmt.Errorf("%w: refresh ttl above 90 days", ErrConfig)
	}
	if c.RefreshTokenBytes < 32 || c.RefreshTokenBytes > 128 {
		return fmt.Errorf("%w: refresh token bytes must be within [32,128]", ErrConfig)
	}
	return nil
}
