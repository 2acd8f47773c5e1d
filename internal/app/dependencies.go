// Package app builds the shared infrastructure used by the API and worker processes.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/alexedwards/argon2id"
	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/academy-api/internal/config"
	"github.com/noah-isme/academy-api/internal/lock"
	"github.com/noah-isme/academy-api/internal/obs"
	"github.com/noah-isme/academy-api/internal/payment"
	"github.com/noah-isme/academy-api/internal/ratelimit"
	"github.com/noah-isme/academy-api/internal/resilience"
	"github.com/noah-isme/academy-api/internal/store"
)

// Dependencies holds the connections and clients shared across modules.
type Dependencies struct {
	Config    *config.Config
	Logger    zerolog.Logger
	DB        *pgxpool.Pool
	Queries   *store.Queries
	Redis     *redis.Client
	Validator *validator.Validate
	Tasks     *asynq.Client
	Breaker   *resilience.Breaker
	Gateway   *payment.Razorpay
	Locker    lock.Locker
	Limiter   ratelimit.Limiter
}

// New connects to Postgres and Redis and builds the clients on top of them.
// The caller owns the result and must call Close.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Logger: logger, Validator: validator.New(validator.WithRequiredStructEnabled())}

	pool, err := NewPool(ctx, cfg.DatabaseURL, "academy-api")
	if err != nil {
		return nil, err
	}
	d.DB = pool
	d.Queries = store.New(pool)

	rdb, err := NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Redis = rdb

	d.Tasks = asynq.NewClient(RedisConnOpt(rdb))

	resilience.MustRegisterMetrics(prometheus.DefaultRegisterer)
	d.Breaker = resilience.NewBreaker(cfg.GatewayBreakerMinReq, cfg.GatewayBreakerRatio, cfg.GatewayBreakerOpenFor).
		WithTarget("razorpay").
		WithLogger(logger)
	d.Gateway = &payment.Razorpay{
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
		BaseURL:   cfg.RazorpayBaseURL,
		HTTP: payment.NewHTTPDoer(resilience.HTTPClient{
			Breaker:     d.Breaker,
			BaseBackoff: cfg.GatewayRetryBase,
			MaxAttempts: cfg.GatewayRetryAttempts,
			Jitter:      cfg.GatewayRetryJitter,
			Timeout:     cfg.GatewayTimeout,
			Logger:      &d.Logger,
		}),
	}

	d.Locker = lock.Locker{R: rdb, RetryBackoff: cfg.LockRetryBackoff}

	strategy, err := ratelimit.ParseStrategy(cfg.RateLimitStrategy)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Limiter, err = ratelimit.New(strategy, rdb, "rl:")
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// NewPool opens a traced pgx pool and pings it.
func NewPool(ctx context.Context, databaseURL, appName string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.ConnConfig.Tracer = obs.PGXTracer{}
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewRedis opens an instrumented Redis client and pings it.
func NewRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(rdb); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("instrument redis metrics: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// RedisConnOpt reuses the client's settings for asynq.
func RedisConnOpt(rdb *redis.Client) asynq.RedisClientOpt {
	o := rdb.Options()
	return asynq.RedisClientOpt{
		Network:   o.Network,
		Addr:      o.Addr,
		Username:  o.Username,
		Password:  o.Password,
		DB:        o.DB,
		TLSConfig: o.TLSConfig,
	}
}

// PaymentService builds the checkout service from cfg and the shared clients.
func (d *Dependencies) PaymentService() (*payment.Service, error) {
	verifier, err := payment.NewVerifier([]byte(d.Config.RazorpayKeySecret))
	if err != nil {
		return nil, err
	}
	return payment.NewService(payment.Config{
		Verifier: verifier,
		Charge: payment.ExpectedCharge{
			AmountMinorUnits: d.Config.RegistrationFeeMinor,
			CurrencyCode:     d.Config.RegistrationCurrency,
		},
		KeyID:          d.Config.RazorpayKeyID,
		AcademyName:    d.Config.AcademyName,
		Gateway:        d.Gateway,
		Orders:         d.Queries,
		Replay:         payment.RedisReplayGuard{Client: d.Redis, TTL: d.Config.PaymentReplayTTL},
		Tasks:          d.Tasks,
		FetchPayments:  d.Config.RazorpayFetchPayments,
		ReconcileDelay: d.Config.ReconcileDelay,
		Logger:         d.Logger,
	})
}

// Reconciler builds the worker-side payment reconciler.
func (d *Dependencies) Reconciler() *payment.Reconciler {
	return &payment.Reconciler{
		Orders:  d.Queries,
		Gateway: d.Gateway,
		Charge: payment.ExpectedCharge{
			AmountMinorUnits: d.Config.RegistrationFeeMinor,
			CurrencyCode:     d.Config.RegistrationCurrency,
		},
		Locker:  d.Locker,
		LockTTL: d.Config.LockTTL,
		Logger:  d.Logger,
	}
}

// Close releases every connection that was opened.
func (d *Dependencies) Close() {
	if d.Tasks != nil {
		_ = d.Tasks.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// HashPassword hashes an admin password with the parameters the login check expects.
func HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, argon2id.DefaultParams)
}
