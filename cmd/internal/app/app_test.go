package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"agron/cmd/internal/metrics"
	"agron/cmd/internal/telemetry"
)

func testConfig(t *testing.T, env map[string]string) Config {
	t.Helper()
	if env == nil {
		env = map[string]string{}
	}
	if _, ok := env["AGRON_JWT_SECRET"]; !ok {
		env["AGRON_JWT_SECRET"] = testSecret
	}
	cfg, err := LoadConfigFrom(context.Background(), envconfig.MapLookuper(env))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	log := newLogger(io.Discard, "error", "json", false)
	a, err := build(cfg, log, metrics.New(), nullStores(log))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return a
}

func serve(a *App, method, path string, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "198.51.100.7:4242"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	return rr
}

func TestRoutes_Health(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t, nil))

	rr := serve(a, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get(requestIDHeader) == "" {
		t.Fatalf("missing request id")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing security headers")
	}

	if rr := serve(a, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("readyz without db requirement: %d", rr.Code)
	}

	rr = serve(a, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "agron_http_requests_total") {
		t.Fatalf("metrics: %d", rr.Code)
	}
}

func TestRoutes_ReadyRequiresDB(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t, map[string]string{"AGRON_READINESS_REQUIRE_DB": "true"}))
	if rr := serve(a, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz: %d", rr.Code)
	}
}

func TestRoutes_NullStoresFailClosed(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t, nil))

	rr := serve(a, http.MethodPost, "/auth/request-link", `{"email":"pilot@agron.dev"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("request-link: %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(a, http.MethodPost, "/auth/verify-link", `{"email":"pilot@agron.dev","token":"nope"}`)
	if rr.Code == http.StatusOK {
		t.Fatalf("verify-link must not succeed without a database")
	}

	if rr := serve(a, http.MethodGet, "/auth/me", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("me without token: %d", rr.Code)
	}
}

func TestRoutes_GlobalRateLimit(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(t, map[string]string{"AGRON_GLOBAL_RATE_LIMIT": "2"}))

	for i := 0; i < 2; i++ {
		if rr := serve(a, http.MethodGet, "/auth/me", ""); rr.Code != http.StatusUnauthorized {
			t.Fatalf("request %d: %d", i, rr.Code)
		}
	}
	rr := serve(a, http.MethodGet, "/auth/me", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body.Error.Code != "rate_limited" {
		t.Fatalf("error code: %q", body.Error.Code)
	}

	// Probes are outside the limiter.
	if rr := serve(a, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz limited: %d", rr.Code)
	}
}

func TestAPIConfig_ProductionForcesSecureCookie(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, map[string]string{"AGRON_AUTH_COOKIE_SAMESITE": "lax"})
	got, err := cfg.apiConfig()
	if err != nil {
		t.Fatalf("apiConfig: %v", err)
	}
	if got.CookieSecure || got.CookieSameSite != http.SameSiteLaxMode {
		t.Fatalf("dev cookie: secure=%v samesite=%v", got.CookieSecure, got.CookieSameSite)
	}

	cfg.Env = EnvProduction
	got, _ = cfg.apiConfig()
	if !got.CookieSecure {
		t.Fatalf("production cookie must be secure")
	}
}

func TestJanitorSweep(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	links := &fakePurger{n: 3}
	sessions := &fakePurger{err: errors.New("db down")}

	j := &janitor{
		log:      newLogger(io.Discard, "error", "json", false),
		interval: time.Hour,
		now:      func() time.Time { return now },
		targets:  map[string]purger{"login_tokens": links, "sessions": sessions},
	}
	got := j.sweep(context.Background())

	if got["login_tokens"] != 3 {
		t.Fatalf("login_tokens purged=%d", got["login_tokens"])
	}
	if _, ok := got["sessions"]; ok {
		t.Fatalf("failed target must not report a count")
	}
	if !links.at.Equal(now) || !sessions.at.Equal(now) {
		t.Fatalf("every target must be swept at the same instant")
	}
}

type fakePurger struct {
	n   int64
	err error
	at  time.Time
}

func (f *fakePurger) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	f.at = now
	return f.n, f.err
}

func TestChain_RequestLogCarriesTraceID(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var buf bytes.Buffer
	a := newTestApp(t, testConfig(t, nil))
	a.log = newLogger(&buf, "info", "json", false)

	var inner string
	h := a.chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = telemetry.TraceID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}), telemetry.Middleware(serviceName, otelhttp.WithTracerProvider(tp)))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	if len(inner) != 32 {
		t.Fatalf("handler trace id=%q", inner)
	}
	var line struct {
		Msg     string `json:"msg"`
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line: %v: %s", err, buf.String())
	}
	if line.Msg != "http.request" || line.TraceID != inner {
		t.Fatalf("log=%+v want trace_id %s", line, inner)
	}
}
