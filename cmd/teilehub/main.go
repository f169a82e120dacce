package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/teilehub/teilehub/internal/app"
	"github.com/teilehub/teilehub/internal/catalog"
	"github.com/teilehub/teilehub/internal/catalog/importer"
	"github.com/teilehub/teilehub/internal/importjob"
	"github.com/teilehub/teilehub/internal/platform/cache"
	"github.com/teilehub/teilehub/internal/platform/db"
	"github.com/teilehub/teilehub/internal/rbac"
	"github.com/teilehub/teilehub/internal/users"
	"github.com/teilehub/teilehub/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	guard := rbac.NewGuard(rbac.GuardConfig{
		SystemRoles:         cfg.SystemRoles,
		CriticalPermissions: cfg.CriticalPermissions,
		AdminRole:           cfg.AdminRole,
		AllowedGuards:       cfg.AllowedGuards,
	})

	rbacRepo := rbac.NewRepository(pool)
	rbacService := rbac.NewService(rbacRepo, guard, logger)
	rbacHandler := rbac.NewHandler(logger, rbacService)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(users.Config{
		Repo:              usersRepo,
		Admins:            rbacRepo,
		Notifier:          queue,
		AdminRole:         guard.AdminRole(),
		PrimaryAdminEmail: cfg.PrimaryAdminEmail,
		Logger:            logger,
	})
	usersHandler := users.NewHandler(logger, usersService)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	pipeline := importer.NewPipeline(catalogRepo, logger, cfg.ImportBatchSize)
	jobCache := importjob.NewCache(redisClient, cfg.ImportJobTTL)
	importHandler := importjob.NewHandler(importjob.HandlerConfig{
		Logger:       logger,
		Pipeline:     pipeline,
		Cache:        jobCache,
		Enqueuer:     queue,
		MaxBytes:     cfg.ImportMaxBytes,
		ImportDir:    cfg.ImportDir,
		RateLimit:    cfg.ImportRateLimit,
		RateInterval: cfg.ImportRateInterval,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		RBACHandler:    rbacHandler,
		UsersHandler:   usersHandler,
		CatalogHandler: catalogHandler,
		ImportHandler:  importHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
