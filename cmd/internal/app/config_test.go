package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfigFrom_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFrom(context.Background(), envconfig.MapLookuper(map[string]string{}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != EnvDevelopment || cfg.HTTPAddr != "0.0.0.0:8080" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected basics: %+v", cfg)
	}
	if cfg.LinkTTL != 15*time.Minute || cfg.RefreshTTL != 7*24*time.Hour || cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected ttls: link=%v refresh=%v access=%v", cfg.LinkTTL, cfg.RefreshTTL, cfg.AccessTTL)
	}
	if cfg.RequestLinkLimit != 5 || cfg.VerifyLinkLimit != 10 || cfg.GlobalRateLimit != 100 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "http://localhost:5173" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSAllowedOrigins)
	}
	if cfg.CookieName != "refresh_token" || cfg.CookiePath != "/auth" {
		t.Fatalf("unexpected cookie: %q %q", cfg.CookieName, cfg.CookiePath)
	}
}

func TestLoadConfigFrom_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"AGRON_ENV":                  " Production ",
		"AGRON_JWT_SECRET":           testSecret,
		"AGRON_RESEND_API_KEY":       "re_test",
		"AGRON_CORS_ALLOWED_ORIGINS": "https://a.example,https://b.example",
		"AGRON_AUTH_REFRESH_TTL":     "24h",
		"AGRON_LOG_FORMAT":           "PRETTY",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsProduction() || cfg.LogFormat != "pretty" || cfg.RefreshTTL != 24*time.Hour {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("origins: %v", cfg.CORSAllowedOrigins)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown env", env: map[string]string{"AGRON_ENV": "staging"}, wantErr: "AGRON_ENV"},
		{name: "bad log format", env: map[string]string{"AGRON_LOG_FORMAT": "xml"}, wantErr: "AGRON_LOG_FORMAT"},
		{name: "prod without secret", env: map[string]string{"AGRON_ENV": "production", "AGRON_RESEND_API_KEY": "k"}, wantErr: "AGRON_JWT_SECRET is required"},
		{name: "short secret", env: map[string]string{"AGRON_JWT_SECRET": "short"}, wantErr: "at least 32 bytes"},
		{name: "prod without resend", env: map[string]string{"AGRON_ENV": "production", "AGRON_JWT_SECRET": testSecret}, wantErr: "AGRON_RESEND_API_KEY"},
		{name: "conns", env: map[string]string{"AGRON_DB_MIN_CONNS": "5", "AGRON_DB_MAX_CONNS": "2"}, wantErr: "AGRON_DB_MIN_CONNS"},
		{name: "negative global limit", env: map[string]string{"AGRON_GLOBAL_RATE_LIMIT": "-1"}, wantErr: "AGRON_GLOBAL_RATE_LIMIT"},
		{name: "zero purge interval", env: map[string]string{"AGRON_AUTH_PURGE_INTERVAL": "0s"}, wantErr: "AGRON_AUTH_PURGE_INTERVAL"},
		{name: "samesite", env: map[string]string{"AGRON_AUTH_COOKIE_SAMESITE": "sideways"}, wantErr: "SameSite"},
	}
	for _, tc := range cases {
		_, err := LoadConfigFrom(context.Background(), envconfig.MapLookuper(tc.env))
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: err=%v want substring %q", tc.name, err, tc.wantErr)
		}
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	cfg := Config{RequireTokenHMAC: true}

	t.Setenv("AGRON_TOKEN_HMAC_KEY", "")
	if err := ValidateSecurityConfig(cfg); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected missing key error, got %v", err)
	}

	t.Setenv("AGRON_TOKEN_HMAC_KEY", "too-short")
	if err := ValidateSecurityConfig(cfg); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Fatalf("expected short key error, got %v", err)
	}

	t.Setenv("AGRON_TOKEN_HMAC_KEY", testSecret)
	if err := ValidateSecurityConfig(cfg); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	if err := ValidateSecurityConfig(Config{}); err != nil {
		t.Fatalf("policy off must pass: %v", err)
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("AGRON_HTTP_ADDR=127.0.0.1:9999\nAGRON_LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("AGRON_LOG_LEVEL", "warn")
	t.Setenv("AGRON_HTTP_ADDR", "")
	os.Unsetenv("AGRON_HTTP_ADDR")

	cfg, err := LoadConfig(context.Background(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("dotenv value not applied: %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("environment must win over dotenv: %q", cfg.LogLevel)
	}

	if _, err := LoadConfig(context.Background(), filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing dotenv must be ignored: %v", err)
	}
}

func TestSigningSecret(t *testing.T) {
	t.Parallel()

	log := newLogger(io.Discard, "error", "json", false)

	got, err := signingSecret(Config{Env: EnvDevelopment, JWTSecret: " " + testSecret + " "}, log)
	if err != nil || string(got) != testSecret {
		t.Fatalf("configured secret: %q %v", got, err)
	}

	a, err := signingSecret(Config{Env: EnvDevelopment}, log)
	if err != nil || len(a) != 32 {
		t.Fatalf("ephemeral secret: %d %v", len(a), err)
	}
	b, _ := signingSecret(Config{Env: EnvDevelopment}, log)
	if string(a) == string(b) {
		t.Fatalf("ephemeral secrets must differ")
	}

	if _, err := signingSecret(Config{Env: EnvProduction}, log); err == nil {
		t.Fatalf("production must require a secret")
	}
}
