// Package app wires the AGRON auth server runtime: config, logging, persistence,
// the HTTP surface and background maintenance.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"agron/cmd/internal/auth/access"
	"agron/cmd/internal/auth/api"
	"agron/cmd/internal/auth/magiclink"
	"agron/cmd/internal/auth/rbac"
	"agron/cmd/internal/auth/session"
	"agron/cmd/internal/email"
	"agron/cmd/internal/metrics"
	"agron/cmd/internal/telemetry"
	"agron/cmd/security/token"
)

// Version is stamped at build time with -ldflags "-X agron/cmd/internal/app.Version=...".
var Version = "dev"

const serviceName = "agron"

// App is the AGRON server runtime. It owns the stores and the HTTP handler tree.
type App struct {
	cfg     Config
	log     Logger
	metrics *metrics.Metrics

	stores *stores
	links  *magiclink.Service
	sess   *session.Service
	auth   *api.Handler

	handler http.Handler
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	m := metrics.New()

	st, err := newStores(ctx, cfg, log, m)
	if err != nil {
		return nil, err
	}
	a, err := build(cfg, log, m, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg Config, log Logger, m *metrics.Metrics, st *stores) (*App, error) {
	secret, err := signingSecret(cfg, log)
	if err != nil {
		return nil, err
	}
	tokens, err := access.NewIssuer(access.Config{
		Secret: secret,
		TTL:    cfg.AccessTTL,
		Issuer: cfg.JWTIssuer,
	})
	if err != nil {
		return nil, err
	}

	var sender email.Sender = email.LogSender{Log: log}
	if cfg.ResendAPIKey != "" {
		sender, err = email.NewResendSender(cfg.ResendAPIKey, cfg.EmailFrom, email.WithLinkTTL(cfg.LinkTTL))
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("email.disabled.log_sender")
	}

	linkCfg := magiclink.DefaultConfig()
	linkCfg.TokenTTL = cfg.LinkTTL
	linkCfg.FrontendURL = cfg.FrontendURL
	linkCfg.EmailTimeout = cfg.EmailTimeout
	links, err := magiclink.NewService(linkCfg, st.users, st.links, sender, st.audit,
		magiclink.WithLogger(log),
		magiclink.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	sess, err := session.NewService(session.Config{
		RefreshTTL:        cfg.RefreshTTL,
		RefreshTokenBytes: token.RefreshTokenBytes,
	}, st.sessions)
	if err != nil {
		return nil, err
	}

	guard := rbac.NewGuard(tokens, st.rbac, st.audit,
		rbac.WithGuardLogger(log),
		rbac.WithGuardMetrics(m),
		rbac.WithTrustProxy(cfg.TrustProxy),
	)

	apiCfg, err := cfg.apiConfig()
	if err != nil {
		return nil, err
	}
	auth, err := api.NewHandler(apiCfg, api.Deps{
		Users:    st.users,
		Links:    links,
		Sessions: sess,
		Tokens:   tokens,
		RBAC:     st.rbac,
		Guard:    guard,
		Audit:    st.audit,
	}, api.WithLogger(log), api.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: m,
		stores:  st,
		links:   links,
		sess:    sess,
		auth:    auth,
	}
	a.handler = a.routes()
	return a, nil
}

func (c Config) apiConfig() (api.Config, error) {
	sameSite, err := api.ParseSameSite(c.CookieSameSite)
	if err != nil {
		return api.Config{}, err
	}
	out := api.DefaultConfig()
	out.CookieName = c.CookieName
	out.CookiePath = c.CookiePath
	out.CookieDomain = c.CookieDomain
	out.CookieSecure = c.IsProduction() || c.CookieSecure
	out.CookieSameSite = sameSite
	out.TrustProxy = c.TrustProxy
	out.RequestLinkLimit = c.RequestLinkLimit
	out.RequestLinkWindow = c.RequestLinkWindow
	out.VerifyLinkLimit = c.VerifyLinkLimit
	out.VerifyLinkWindow = c.VerifyLinkWindow
	return out, nil
}

// Handler returns the complete HTTP handler tree.
func (a *App) Handler() http.Handler { return a.handler }

// Close releases the stores. Run calls it on shutdown.
func (a *App) Close() { a.stores.Close() }

func (a *App) janitor() *janitor {
	return &janitor{
		log:      a.log,
		metrics:  a.metrics,
		interval: a.cfg.PurgeInterval,
		now:      time.Now,
		targets: map[string]purger{
			"login_tokens": a.links,
			"sessions":     a.sess,
		},
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: serviceName,
		Version:     Version,
		Endpoint:    a.cfg.OTelEndpoint,
	})
	if err != nil {
		return err
	}

	bg, stopBG := context.WithCancel(ctx)
	defer stopBG()
	if a.stores.dbEnabled() {
		go a.janitor().run(bg)
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"env", a.cfg.Env,
		"version", Version,
		"db_enabled", a.stores.dbEnabled(),
		"tracing", a.cfg.OTelEndpoint != "",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopBG()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		a.log.Warn("telemetry.shutdown.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
