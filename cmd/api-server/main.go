package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/api"
	"github.com/hackgods/booking-engine/internal/booking"
	"github.com/hackgods/booking-engine/internal/config"
	"github.com/hackgods/booking-engine/internal/db"
	"github.com/hackgods/booking-engine/internal/logging"
	"github.com/hackgods/booking-engine/internal/notify"
	redisclient "github.com/hackgods/booking-engine/internal/redis"
	"github.com/hackgods/booking-engine/internal/schedule"
	"github.com/hackgods/booking-engine/internal/telemetry"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
		zap.String("timezone", cfg.Location.String()),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	if cfg.AutoMigrate {
		if err := db.ApplySchema(rootCtx, pgPool); err != nil {
			logger.Fatal("apply schema", zap.Error(err))
		}
		logger.Info("schema applied")
	}

	health := api.NewHealthHandler(cfg.Env, version).
		Require("postgres", pgPool.Ping)

	opts := []booking.Option{}

	// Redis only backs the display cache, so the API keeps serving without it.
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Warn("redis unavailable, availability cache disabled", zap.Error(err))
	} else {
		defer closeRedis(logger, rdb)
		logger.Info("connected to Redis")
		opts = append(opts, booking.WithCache(redisclient.NewAvailabilityCache(rdb, cfg.CacheTTL)))
		health.Optional("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	var sender notify.Sender
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		ks := notify.NewKafkaSender(brokers, cfg.KafkaTopic)
		defer func() {
			if err := ks.Close(); err != nil {
				logger.Warn("error closing kafka writer", zap.Error(err))
			}
		}()
		sender = ks
		health.Optional("kafka", notify.ReadyCheck(brokers))
		logger.Info("kafka notifications enabled", zap.Strings("brokers", brokers), zap.String("topic", cfg.KafkaTopic))
	} else {
		sender = notify.NewLogSender(logger)
		logger.Info("KAFKA_BROKERS not set, notifications go to the log")
	}

	dispatcher := notify.NewDispatcher(sender, logger, cfg.NotifyWorkers, cfg.NotifyBuffer)
	dispatcher.Start(rootCtx)
	opts = append(opts, booking.WithNotifier(dispatcher))

	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		provider, err := telemetry.NewPrometheus("booking-api", version, cfg.Env)
		if err != nil {
			logger.Fatal("metrics init", zap.Error(err))
		}
		defer func() { _ = provider.Shutdown(context.Background()) }()
		if metrics, err = telemetry.NewMetrics(provider.Meter()); err != nil {
			logger.Fatal("metrics instruments", zap.Error(err))
		}
		metricsHandler = provider.Handler
	}

	repo := booking.NewPgRepository(pgPool)
	svc := booking.NewService(repo, schedule.NewResolver(cfg.Location), logger, opts...)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:      svc,
			Health:       health,
			Logger:       logger,
			Location:     cfg.Location,
			StripeSecret: cfg.StripeSecret,

			Metrics:        metrics,
			MetricsHandler: metricsHandler,
			RateLimit:      api.RateLimit{PerSecond: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	// drain after the last request so no post-commit event is lost
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("notification queue not drained", zap.Error(err))
	}
}

func closeRedis(logger *zap.Logger, rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		logger.Warn("error closing redis", zap.Error(err))
	}
}
