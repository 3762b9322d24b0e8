package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"agron/cmd/internal/httpx"
)

// Config controls the auth HTTP surface.
type Config struct {
	CookieName     string
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite

	TrustProxy   bool
	MaxBodyBytes int64

	// Per client IP.
	RequestLinkLimit  int
	RequestLinkWindow time.Duration
	VerifyLinkLimit   int
	VerifyLinkWindow  time.Duration
}

// DefaultConfig returns production-safe defaults.
func DefaultConfig() Config {
	return Config{
		CookieName:        "refresh_token",
		CookiePath:        "/auth",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteStrictMode,
		MaxBodyBytes:      httpx.DefaultMaxBodyBytes,
		RequestLinkLimit:  5,
		RequestLinkWindow: 15 * time.Minute,
		VerifyLinkLimit:   10,
		VerifyLinkWindow:  15 * time.Minute,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("api: cookie name is required")
	}
	if !strings.HasPrefix(c.CookiePath, "/") {
		return fmt.Errorf("api: cookie path must start with /")
	}
	if c.CookieSameSite == http.SameSiteNoneMode && !c.CookieSecure {
		return fmt.Errorf("api: SameSite=None requires a secure cookie")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("api: max body bytes must be positive")
	}
	if c.RequestLinkLimit < 0 || c.VerifyLinkLimit < 0 {
		return fmt.Errorf("api: rate limits must not be negative")
	}
	return nil
}

// ParseSameSite maps "strict", "lax" and "none" to http.SameSite.
func ParseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return http.SameSiteStrictMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("api: unknown SameSite mode %q", s)
	}
}
