package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wardenhq/warden/internal/app"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/authz"
	authzhttp "github.com/wardenhq/warden/internal/authz/http"
	"github.com/wardenhq/warden/internal/groups"
	"github.com/wardenhq/warden/internal/observability"
	"github.com/wardenhq/warden/internal/platform/cache"
	"github.com/wardenhq/warden/internal/platform/db"
	"github.com/wardenhq/warden/internal/resources"
	"github.com/wardenhq/warden/internal/security"
	"github.com/wardenhq/warden/internal/signature"
	"github.com/wardenhq/warden/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, permission cache degrades to direct resolution", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	metrics := observability.NewMetrics()

	signer := signature.NewEngine(logger, metrics.SignatureFallback)
	permRepo := authz.NewPGRepository(pool, signer, cfg.TenantID)
	permRepo.OnIntegrityFailure(func(perm authz.Permission) {
		logger.Error("permission row failed integrity check",
			slog.Int64("id", perm.ID),
			slog.String("principal", string(perm.Principal.Kind)),
			slog.Int64("principal_id", perm.Principal.ID),
			slog.String("resource", perm.ResourceIdentifier))
		metrics.IntegrityFailure()
	})
	groupRepo := groups.NewPGRepository(pool, signer, cfg.TenantID)
	groupRepo.OnIntegrityFailure(func(m groups.Membership) {
		logger.Error("membership pivot failed integrity check",
			slog.Int64("id", m.ID),
			slog.Int64("user_id", m.UserID),
			slog.Int64("group_id", m.GroupID))
		metrics.IntegrityFailure()
	})

	resolver := authz.NewResolver(permRepo, groupRepo)
	permCache := authz.NewCache(redisClient, resolver, groupRepo, authz.CacheConfig{
		Enabled:   cfg.PermCacheEnabled,
		TTL:       cfg.PermCacheTTL,
		KeyPrefix: cfg.PermCachePrefix,
	}, logger, metrics)

	resourceRepo := resources.NewPGRepository(pool)
	resourceService := resources.NewService(resourceRepo, permRepo, permCache, logger)

	recorder := audit.NewRecorder(pool, logger)
	authzService := authz.NewService(permRepo, resourceService, permCache, recorder, logger)
	groupService := groups.NewService(groupRepo, permCache, logger)

	securityRepo := security.NewPGRepository(pool)
	securityService := security.NewService(securityRepo, security.Config{
		TokenTTL:             cfg.TokenTTL,
		LockoutWindow:        cfg.LockoutWindow,
		LockoutThreshold:     cfg.LockoutThreshold,
		PasswordHistoryDepth: cfg.PasswordHistoryDepth,
		AttemptRetention:     cfg.AttemptRetention,
		EventRetention:       cfg.EventRetention,
	}, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		TokenValidator: securityService,
		Metrics:        metrics,
		Protected: []app.RouteMounter{
			authzhttp.NewHandler(logger, authzService, metrics),
			groups.NewHandler(logger, groupService),
			resources.NewHandler(logger, resourceService),
			security.NewHandler(logger, securityService, app.UserIDFromContext),
			audit.NewHandler(logger, recorder),
			jobs.NewHandler(inspector, queueClient, logger),
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
