package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/galenica/galenica/internal/alerts"
	"github.com/galenica/galenica/internal/app"
	"github.com/galenica/galenica/internal/catalog"
	"github.com/galenica/galenica/internal/inventory"
	jobmetrics "github.com/galenica/galenica/internal/jobs"
	"github.com/galenica/galenica/internal/platform/cache"
	"github.com/galenica/galenica/internal/platform/db"
	"github.com/galenica/galenica/jobs"
)

func main() {
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
		logger.Warn("redis unavailable, quantity cache disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, logger)

	quantityCache := inventory.NewQuantityCache(redisClient, cfg.QuantityCacheTTL)
	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(
		inventoryRepo,
		inventory.NewCatalogPricing(catalogService),
		quantityCache,
		nil,
		nil,
		logger,
		inventory.ServiceConfig{MaxCostToPriceRatio: cfg.MaxCostToPriceRatio},
	)

	alertsRepo := alerts.NewRepository(pool)
	alertsService := alerts.NewService(alertsRepo, catalogService, inventoryService, nil, logger)

	jobMetrics := jobmetrics.NewMetrics(nil)

	refreshTask, err := jobs.NewAlertsRefreshTask(0)
	if err != nil {
		logger.Error("build refresh task", slog.Any("error", err))
		os.Exit(1)
	}
	snapshotTask, err := jobs.NewValuationSnapshotTask(time.Now().UTC())
	if err != nil {
		logger.Error("build snapshot task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAlertsRefresh, Handler: jobs.NewAlertsRefreshHandler(alertsService, jobMetrics, logger)},
			{Type: jobs.TaskValuationSnapshot, Handler: jobs.NewValuationSnapshotHandler(inventoryService, jobMetrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.AlertsRefreshCron, Task: refreshTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.ValuationSnapshotCron, Task: snapshotTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
