package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/booking"
	"github.com/hackgods/booking-engine/internal/config"
	"github.com/hackgods/booking-engine/internal/db"
	"github.com/hackgods/booking-engine/internal/logging"
	"github.com/hackgods/booking-engine/internal/notify"
	redisclient "github.com/hackgods/booking-engine/internal/redis"
	"github.com/hackgods/booking-engine/internal/schedule"
)

const (
	sweepLock = "complete-elapsed"
	batchSize = 200
)

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

	logger.Info("completion-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
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

	// Redis is mandatory here: the lock keeps replicas from sweeping twice.
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	var sender notify.Sender = notify.NewLogSender(logger)
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		ks := notify.NewKafkaSender(brokers, cfg.KafkaTopic)
		defer func() { _ = ks.Close() }()
		sender = ks
	}
	dispatcher := notify.NewDispatcher(sender, logger, cfg.NotifyWorkers, cfg.NotifyBuffer)
	dispatcher.Start(rootCtx)

	svc := booking.NewService(
		booking.NewPgRepository(pgPool),
		schedule.NewResolver(cfg.Location),
		logger,
		booking.WithNotifier(dispatcher),
		booking.WithCache(redisclient.NewAvailabilityCache(rdb, cfg.CacheTTL)),
	)
	locker := redisclient.NewRedisLocker(rdb, cfg.WorkerLockTTL)

	// Run once at startup
	runOnce(rootCtx, logger, locker, svc, cfg.WorkerLockTTL)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping completion worker")
			break loop
		case <-ticker.C:
			runOnce(rootCtx, logger, locker, svc, cfg.WorkerLockTTL)
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		logger.Warn("notification queue not drained", zap.Error(err))
	}
}

func runOnce(ctx context.Context, logger *zap.Logger, locker redisclient.Locker, svc *booking.Service, budget time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	var completed int
	err := locker.WithLock(runCtx, sweepLock, func(ctx context.Context) error {
		n, err := svc.CompleteElapsedBookings(ctx, batchSize)
		completed = n
		return err
	})

	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		logger.Debug("another worker holds the sweep lock, skipping")
	case err != nil:
		logger.Error("completion sweep error", zap.Int("completed", completed), zap.Error(err))
	default:
		logger.Info("completion sweep complete",
			zap.Int("completed", completed),
			zap.Duration("took", time.Since(start)),
		)
	}
}
