package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/wardenhq/warden/internal/app"
	"github.com/wardenhq/warden/internal/authz"
	"github.com/wardenhq/warden/internal/groups"
	jobmetrics "github.com/wardenhq/warden/internal/jobs"
	"github.com/wardenhq/warden/internal/platform/cache"
	"github.com/wardenhq/warden/internal/platform/db"
	"github.com/wardenhq/warden/internal/security"
	"github.com/wardenhq/warden/internal/signature"
	"github.com/wardenhq/warden/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	signer := signature.NewEngine(logger, nil)
	permRepo := authz.NewPGRepository(pool, signer, cfg.TenantID)
	groupRepo := groups.NewPGRepository(pool, signer, cfg.TenantID)
	resolver := authz.NewResolver(permRepo, groupRepo)
	permCache := authz.NewCache(redisClient, resolver, groupRepo, authz.CacheConfig{
		Enabled:   cfg.PermCacheEnabled,
		TTL:       cfg.PermCacheTTL,
		KeyPrefix: cfg.PermCachePrefix,
	}, logger, nil)

	securityRepo := security.NewPGRepository(pool)
	securityService := security.NewService(securityRepo, security.Config{
		TokenTTL:             cfg.TokenTTL,
		LockoutWindow:        cfg.LockoutWindow,
		LockoutThreshold:     cfg.LockoutThreshold,
		PasswordHistoryDepth: cfg.PasswordHistoryDepth,
		AttemptRetention:     cfg.AttemptRetention,
		EventRetention:       cfg.EventRetention,
	}, logger)

	metrics := jobmetrics.NewMetrics(nil)
	warmupJob := jobs.NewCacheWarmupJob(permCache, pool, logger, metrics)
	sweepJob := jobs.NewSecuritySweepJob(securityService, logger, metrics)

	warmupTask, err := jobs.NewCacheWarmupTask(0)
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewSecuritySweepTask()
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCacheWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskSecuritySweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 1 * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 1 * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
