package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"agron/cmd/internal/auth/access"
	"agron/cmd/internal/auth/api"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	Env       string `env:"AGRON_ENV,default=development"`
	HTTPAddr  string `env:"AGRON_HTTP_ADDR,default=0.0.0.0:8080"`
	LogLevel  string `env:"AGRON_LOG_LEVEL,default=info"`
	LogFormat string `env:"AGRON_LOG_FORMAT,default=json"`

	ReadHeaderTimeout time.Duration `env:"AGRON_HTTP_READ_HEADER_TIMEOUT,default=5s"`
	ReadTimeout       time.Duration `env:"AGRON_HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout      time.Duration `env:"AGRON_HTTP_WRITE_TIMEOUT,default=15s"`
	IdleTimeout       time.Duration `env:"AGRON_HTTP_IDLE_TIMEOUT,default=60s"`
	MaxHeaderBytes    int           `env:"AGRON_HTTP_MAX_HEADER_BYTES,default=1048576"`

	DatabaseURL string `env:"AGRON_DATABASE_URL"`
	DBMaxConns  int32  `env:"AGRON_DB_MAX_CONNS,default=10"`
	DBMinConns  int32  `env:"AGRON_DB_MIN_CONNS,default=0"`
	AutoMigrate bool   `env:"AGRON_DB_AUTO_MIGRATE,default=false"`

	// If true, /readyz returns 503 unless the database is configured and reachable.
	ReadinessRequireDB bool `env:"AGRON_READINESS_REQUIRE_DB,default=false"`

	JWTSecret string        `env:"AGRON_JWT_SECRET"`
	JWTIssuer string        `env:"AGRON_JWT_ISSUER,default=agron"`
	AccessTTL time.Duration `env:"AGRON_AUTH_ACCESS_TTL,default=15m"`

	// If true, AGRON_TOKEN_HMAC_KEY must be set (>= 32 bytes) and token digests are keyed.
	RequireTokenHMAC bool `env:"AGRON_REQUIRE_TOKEN_HMAC,default=false"`

	FrontendURL  string        `env:"AGRON_FRONTEND_URL,default=http://localhost:5173"`
	ResendAPIKey string        `env:"AGRON_RESEND_API_KEY"`
	EmailFrom    string        `env:"AGRON_EMAIL_FROM,default=AGRON <no-reply@agron.dev>"`
	EmailTimeout time.Duration `env:"AGRON_EMAIL_TIMEOUT,default=10s"`

	LinkTTL    time.Duration `env:"AGRON_AUTH_LINK_TTL,default=15m"`
	RefreshTTL time.Duration `env:"AGRON_AUTH_REFRESH_TTL,default=168h"`

	CookieName     string `env:"AGRON_AUTH_COOKIE_NAME,default=refresh_token"`
	CookiePath     string `env:"AGRON_AUTH_COOKIE_PATH,default=/auth"`
	CookieDomain   string `env:"AGRON_AUTH_COOKIE_DOMAIN"`
	CookieSameSite string `env:"AGRON_AUTH_COOKIE_SAMESITE,default=strict"`
	// Cookies are always Secure in production; this forces it elsewhere.
	CookieSecure bool `env:"AGRON_AUTH_COOKIE_SECURE,default=false"`

	RequestLinkLimit  int           `env:"AGRON_AUTH_REQUEST_LINK_LIMIT,default=5"`
	RequestLinkWindow time.Duration `env:"AGRON_AUTH_REQUEST_LINK_WINDOW,default=15m"`
	VerifyLinkLimit   int           `env:"AGRON_AUTH_VERIFY_LINK_LIMIT,default=10"`
	VerifyLinkWindow  time.Duration `env:"AGRON_AUTH_VERIFY_LINK_WINDOW,default=15m"`
	PurgeInterval     time.Duration `env:"AGRON_AUTH_PURGE_INTERVAL,default=1h"`

	TrustProxy         bool     `env:"AGRON_TRUST_PROXY,default=false"`
	CORSAllowedOrigins []string `env:"AGRON_CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`
	// Requests per minute per client; 0 disables the global limiter.
	GlobalRateLimit int `env:"AGRON_GLOBAL_RATE_LIMIT,default=100"`

	OTelEndpoint string `env:"AGRON_OTEL_ENDPOINT"`
}

// LoadConfig reads an optional dotenv file, then the process environment.
// Variables already set in the environment win over the file.
func LoadConfig(ctx context.Context, dotenv string) (Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", dotenv, err)
		}
	}
	return LoadConfigFrom(ctx, envconfig.OsLookuper())
}

// LoadConfigFrom processes Config from l and validates it.
func LoadConfigFrom(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) IsProduction() bool { return c.Env == EnvProduction }

// Validate rejects configurations the server must not start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		errs = append(errs, fmt.Errorf("AGRON_ENV must be one of development, production, test (got %q)", c.Env))
	}
	switch c.LogFormat {
	case "json", "text", "pretty":
	default:
		errs = append(errs, fmt.Errorf("AGRON_LOG_FORMAT must be json, text or pretty (got %q)", c.LogFormat))
	}

	secret := strings.TrimSpace(c.JWTSecret)
	switch {
	case secret == "" && c.IsProduction():
		errs = append(errs, errors.New("AGRON_JWT_SECRET is required in production"))
	case secret != "" && len(secret) < access.MinSecretBytes:
		errs = append(errs, fmt.Errorf("AGRON_JWT_SECRET must be at least %d bytes", access.MinSecretBytes))
	}

	if c.IsProduction() && c.ResendAPIKey == "" {
		errs = append(errs, errors.New("AGRON_RESEND_API_KEY is required in production"))
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		errs = append(errs, errors.New("AGRON_DB_MIN_CONNS/AGRON_DB_MAX_CONNS are inconsistent"))
	}
	if c.GlobalRateLimit < 0 {
		errs = append(errs, errors.New("AGRON_GLOBAL_RATE_LIMIT must not be negative"))
	}
	if c.PurgeInterval <= 0 {
		errs = append(errs, errors.New("AGRON_AUTH_PURGE_INTERVAL must be positive"))
	}
	if _, err := api.ParseSameSite(c.CookieSameSite); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateSecurityConfig(c); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
