package main

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/academy-api/internal/app"
	"github.com/noah-isme/academy-api/internal/audit"
	"github.com/noah-isme/academy-api/internal/auth"
	"github.com/noah-isme/academy-api/internal/common"
	"github.com/noah-isme/academy-api/internal/config"
	"github.com/noah-isme/academy-api/internal/health"
	"github.com/noah-isme/academy-api/internal/obs"
	"github.com/noah-isme/academy-api/internal/payment"
	"github.com/noah-isme/academy-api/internal/ratelimit"
	"github.com/noah-isme/academy-api/internal/security"
	"github.com/noah-isme/academy-api/internal/student"
)

type routerDeps struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Deps     *app.Dependencies
	Payments *payment.Service
	Students *student.Service
	Auth     *auth.Service
	Audit    *audit.Service
	Checker  health.Checker
}

func newRouter(d routerDeps) http.Handler {
	cfg := d.Config
	logger := d.Logger

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.Obs.EnableTracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Obs.EnablePrometheus {
		httpMetrics := obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction()}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if cfg.Obs.EnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Obs.EnablePprof {
		r.Handle("/debug/pprof/*", protectPprof(newPprofMux(), cfg.Obs.PprofUser, cfg.Obs.PprofPass))
	}

	healthHandler := health.Handler{
		Checker:      d.Checker,
		DBTimeout:    500 * time.Millisecond,
		RedisTimeout: 300 * time.Millisecond,
	}
	if d.Deps != nil && d.Deps.Breaker != nil {
		breaker := d.Deps.Breaker
		healthHandler.Gateway = func() string { return breaker.State().String() }
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	var limiter ratelimit.Limiter
	var idem common.Idem
	if d.Deps != nil {
		limiter = d.Deps.Limiter
		idem = common.Idem{R: d.Deps.Redis, TTL: cfg.IdempotencyTTL}
	}
	onLimiterError := func(err error) {
		logger.Warn().Err(err).Msg("rate limiter unavailable")
	}
	publicLimit := ratelimit.Handler{
		Limiter: limiter,
		Config:  ratelimit.Config{Name: "public", Key: ratelimit.ByClientIP, Window: cfg.RateLimitPublicWindow, Max: cfg.RateLimitPublicMax},
		OnError: onLimiterError,
	}.Middleware
	loginLimit := ratelimit.Handler{
		Limiter: limiter,
		Config:  ratelimit.Config{Name: "login", Key: ratelimit.ByClientIP, Window: cfg.RateLimitLoginWindow, Max: cfg.RateLimitLoginMax},
		OnError: onLimiterError,
	}.Middleware

	csrf := security.CSRF{AuthCookie: cfg.AccessCookieName, Secure: cfg.CookieSecure}
	paymentHandler := &payment.Handler{Svc: d.Payments}
	studentHandler := &student.Handler{Svc: d.Students}
	authHandler := &auth.Handler{
		Service:          d.Auth,
		AccessCookieName: cfg.AccessCookieName,
		CookieDomain:     cfg.CookieDomain,
		CookieSecure:     cfg.CookieSecure,
		CookieSameSite:   cfg.CookieSameSite,
		IssueCSRF:        csrf.Issue,
	}
	authMiddleware := auth.Middleware{Service: d.Auth, AccessCookie: cfg.AccessCookieName}
	recorder := audit.HTTPRecorder{
		Service: d.Audit,
		OnError: func(err error) { logger.Error().Err(err).Msg("audit_record_failed") },
	}
	auditHandler := audit.Handler{}
	if d.Audit != nil {
		auditHandler.Store = d.Audit.Store
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/payments", func(p chi.Router) {
			p.Get("/key", paymentHandler.Key)
			p.Group(func(w chi.Router) {
				w.Use(publicLimit)
				w.With(idem.Middleware).Post("/orders", paymentHandler.CreateOrder)
				w.Post("/verify", paymentHandler.Verify)
			})
		})
		v.With(publicLimit, idem.Middleware).Post("/registrations", studentHandler.Register)

		v.Route("/auth", func(a chi.Router) {
			a.With(loginLimit).Post("/login", authHandler.Login)
			a.Post("/logout", authHandler.Logout)
			a.With(authMiddleware.RequireAuth).Get("/me", authHandler.Me)
		})

		v.Route("/admin", func(adm chi.Router) {
			adm.Use(authMiddleware.RequireAuth)
			adm.Use(auth.RequireRole("admin"))
			adm.Use(csrf.Middleware)

			adm.Get("/students", studentHandler.List)
			adm.Get("/students/{sno}", studentHandler.Get)
			adm.With(recorder.Middleware(audit.HTTPConfig{
				Action:          "student.update",
				ResourceType:    "student",
				ResourceIDParam: "sno",
			})).Patch("/students/{sno}", studentHandler.Update)
			adm.With(recorder.Middleware(audit.HTTPConfig{
				Action:          "student.delete",
				ResourceType:    "student",
				ResourceIDParam: "sno",
			})).Delete("/students/{sno}", studentHandler.Delete)
			adm.Get("/audit-logs", auditHandler.List)
		})
	})

	return r
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) > 0 {
		return cfg.CORSAllowedOrigins
	}
	if cfg.IsProduction() {
		return []string{}
	}
	return []string{"http://localhost:3000", "http://localhost:5173"}
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// protectPprof puts basic auth in front of the profiler. An empty user leaves it open.
func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
