package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/academy-api/internal/app"
	"github.com/noah-isme/academy-api/internal/audit"
	"github.com/noah-isme/academy-api/internal/auth"
	"github.com/noah-isme/academy-api/internal/config"
	"github.com/noah-isme/academy-api/internal/health"
	"github.com/noah-isme/academy-api/internal/obs"
	"github.com/noah-isme/academy-api/internal/student"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := obs.NewLogger("json", "info")
		bootLogger.Fatal().Err(err).Msg("load config")
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("service", "academy-api").Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.EnableTracing {
		shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "academy-api",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise tracer")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(shutdownCtx)
		}()
	}

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	paymentSvc, err := deps.PaymentService()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise payment service")
	}
	studentSvc, err := student.NewService(student.Config{
		Store:    deps.Queries,
		Payments: paymentSvc,
		Validate: deps.Validator,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise student service")
	}
	authSvc, err := auth.NewService(auth.Config{
		Users:          deps.Queries,
		Secret:         cfg.JWTSecret,
		AccessTokenTTL: cfg.AccessTokenTTL,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
		Validate:       deps.Validator,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}

	handler := newRouter(routerDeps{
		Config:   cfg,
		Logger:   logger,
		Deps:     deps,
		Payments: paymentSvc,
		Students: studentSvc,
		Auth:     authSvc,
		Audit:    &audit.Service{Store: deps.Queries, Enabled: cfg.AuditEnabled},
		Checker:  health.Probes{DB: deps.DB, Redis: deps.Redis},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("env", cfg.AppEnv).Msg("starting academy api")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
	logger.Info().Msg("academy api stopped")
}
