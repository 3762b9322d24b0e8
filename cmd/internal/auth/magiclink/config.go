package magiclink

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"agron/cmd/security/token"
)

type Config struct {
	// TokenTTL is how long an emailed link stays valid.
	TokenTTL time.Duration
	// TokenBytes is the entropy of a login token.
	TokenBytes int
	// FrontendURL is the origin of the web client that hosts the verify page.
	FrontendURL string
	// VerifyPath is appended to FrontendURL.
	VerifyPath string
	// EmailTimeout bounds a single delivery attempt.
	EmailTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TokenTTL:     15 * time.Minute,
		TokenBytes:   token.LoginTokenBytes,
		FrontendURL:  "http://localhost:5173",
		VerifyPath:   "/verify",
		EmailTimeout: 10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.TokenTTL <= 0 || c.TokenTTL > 24*time.Hour {
		return fmt.Errorf("%w: token ttl must be within (0,24h]", ErrConfig)
	}
	if c.TokenBytes < 16 || c.TokenBytes > 64 {
		return fmt.Errorf("%w: token bytes must be within [16,64]", ErrConfig)
	}
	if c.EmailTimeout <= 0 {
		return fmt.Errorf("%w: email timeout must be positive", ErrConfig)
	}
	u, err := url.Parse(strings.TrimSpace(c.FrontendURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: frontend url must be an absolute http(s) url", ErrConfig)
	}
	return nil
}

// verifyURL builds {FrontendURL}{VerifyPath}?token=..&email=..
func (c Config) verifyURL(raw, email string) string {
	u, _ := url.Parse(strings.TrimSpace(c.FrontendURL))
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(c.VerifyPath, "/")
	q := url.Values{}
	q.Set("token", raw)
	q.Set("email", email)
	u.RawQuery = q.Encode()
	return u.String()
}
