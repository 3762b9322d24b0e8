package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"agron/cmd/internal/httpx"
	"agron/cmd/internal/telemetry"
)

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(a.metrics.Instrument, telemetry.NameByRoute)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Group(func(r chi.Router) {
		if a.cfg.GlobalRateLimit > 0 {
			r.Use(httprate.Limit(a.cfg.GlobalRateLimit, time.Minute,
				httprate.WithKeyFuncs(func(req *http.Request) (string, error) {
					return httpx.ClientKey(req, a.cfg.TrustProxy), nil
				}),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests, please try again later.")
				}),
			))
		}
		a.auth.Register(r)
	})

	return a.chain(r, telemetry.Middleware(serviceName))
}

// chain wraps the router. Request ids and the span exist before the request
// is logged, so every log line, including CORS preflights, carries both.
func (a *App) chain(h http.Handler, tracing func(http.Handler) http.Handler) http.Handler {
	h = WithCORS(h, a.cfg)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log, a.cfg.TrustProxy)
	h = tracing(h)
	return WithRequestID(h)
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireDB && !a.stores.dbEnabled() {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}
	if a.stores.dbEnabled() {
		if err := PingDB(r.Context(), a.stores.pool, 2*time.Second); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			a.log.Info("readyz.db.not_ready", "err", err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}
