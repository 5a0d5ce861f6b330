package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/splax/localvercel/intake/internal/app/migrate"
	httpx "github.com/splax/localvercel/intake/internal/http"
	"github.com/splax/localvercel/intake/internal/ratelimit"
	"github.com/splax/localvercel/intake/internal/repository"
	"github.com/splax/localvercel/intake/internal/repository/postgres"
	"github.com/splax/localvercel/intake/internal/service/intake"
	"github.com/splax/localvercel/intake/internal/service/remediation"
	"github.com/splax/localvercel/intake/internal/service/retention"
	"github.com/splax/localvercel/intake/internal/service/webhook"
	"github.com/splax/localvercel/intake/internal/store"
	"github.com/splax/localvercel/intake/internal/ws"
	"github.com/splax/localvercel/intake/pkg/config"
	"github.com/splax/localvercel/intake/pkg/logger"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		logger.New("intake", slog.LevelInfo).Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}
	cfg := config.LoadIntakeConfig()
	log := logger.New("intake", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verifier := webhook.NewVerifier(cfg.WebhookSecret)
	if !verifier.Enabled() {
		log.Warn("DEPLOYMENT_WEBHOOK_SECRET is empty; webhook signatures are not verified")
	}

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis unreachable at startup; records fall back to local file", "addr", addr, "error", err)
		}
		cancel()
	}

	fileStore := store.NewFile(cfg.FallbackStorePath, cfg.FallbackMaxRecords).WithRetention(cfg.StoreRetention)
	var primary store.Store
	if redisClient != nil {
		primary = store.NewRedis(redisClient, store.RedisOptions{
			Key:        cfg.StoreKey,
			MaxRecords: cfg.StoreMaxRecords,
			Retention:  cfg.StoreRetention,
			Timeout:    cfg.StoreTimeout,
		}, log)
	} else {
		log.Info("REDIS_ADDR not set; using file store only", "path", cfg.FallbackStorePath)
	}
	failures := store.NewFallback(primary, fileStore, log, prometheus.DefaultRegisterer)

	var history repository.TransitionRepository = repository.Noop{}
	var dbHealth func(context.Context) error
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		runner, err := migrate.New(pool, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		defer runner.Close()
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		repo := postgres.New(pool)
		history = repo
		dbHealth = repo.Ping
	} else {
		log.Info("DATABASE_URL not set; transition history disabled")
	}

	hub := ws.NewHub()
	defer hub.Close()
	feed := ws.NewFeed(hub, log)

	var scheduler intake.Scheduler
	if cfg.AutoFixEnabled {
		trigger := remediation.NewHTTPTrigger(remediation.HTTPTriggerConfig{
			BaseURL:   cfg.InternalAPIURL,
			Path:      cfg.AutoFixTriggerPath,
			Token:     cfg.InternalAPIToken,
			JWTSecret: cfg.InternalJWTSecret,
			Timeout:   cfg.AutoFixTimeout,
		})
		sched := remediation.NewScheduler(trigger, remediation.SchedulerConfig{
			Delay:         cfg.AutoFixDelay,
			Timeout:       cfg.AutoFixTimeout,
			RatePerSecond: cfg.AutoFixRatePerSecond,
		}, log, prometheus.DefaultRegisterer)
		defer sched.Close()
		scheduler = sched
	}

	intakeSvc := intake.NewService(intake.Options{
		Store:     failures,
		Scheduler: scheduler,
		Publisher: feed,
		Logger:    log,
		Registry:  prometheus.DefaultRegisterer,
	})
	remediationSvc := remediation.NewService(failures, history, feed, log)

	sweeper := retention.New(failures, cfg.RetentionSweep, cfg.StoreRetention, log)
	go sweeper.Run(ctx)

	var backend ratelimit.Backend
	if redisClient != nil && cfg.RateLimitRedis {
		backend = ratelimit.NewRedis(redisClient, log)
	}
	limiter := ratelimit.New(backend,
		ratelimit.Policy{Limit: cfg.RateLimitWebhook, Window: cfg.RateLimitWindow},
		ratelimit.Policy{Limit: cfg.RateLimitAPI, Window: cfg.RateLimitWindow},
	)

	auth := httpx.NewAuthenticator(cfg.InternalAPIToken, cfg.InternalJWTSecret)
	if !auth.Configured() && (cfg.ReadRequireAuth || cfg.WebhookRequireAuth) {
		log.Warn("no INTERNAL_API_TOKEN or INTERNAL_JWT_SECRET configured; authenticated routes will reject every request")
	}

	router := httpx.NewRouter(httpx.Options{
		Logger:             log,
		Intake:             intakeSvc,
		Remediation:        remediationSvc,
		Verifier:           verifier,
		Limiter:            limiter,
		Auth:               auth,
		Hub:                hub,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		WebhookRequireAuth: cfg.WebhookRequireAuth,
		ReadRequireAuth:    cfg.ReadRequireAuth,
		TrustProxyHeaders:  cfg.TrustProxyHeaders,
		StoreHealth:        failures.Ping,
		DBHealth:           dbHealth,
		Registerer:         prometheus.DefaultRegisterer,
		Gatherer:           prometheus.DefaultGatherer,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("intake server starting", "addr", cfg.Addr, "env", cfg.Environment, "auto_fix", cfg.AutoFixEnabled)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("intake server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
