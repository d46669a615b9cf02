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

	"github.com/galenica/galenica/internal/alerts"
	"github.com/galenica/galenica/internal/app"
	"github.com/galenica/galenica/internal/catalog"
	"github.com/galenica/galenica/internal/inventory"
	"github.com/galenica/galenica/internal/observability"
	"github.com/galenica/galenica/internal/platform/cache"
	"github.com/galenica/galenica/internal/platform/db"
	"github.com/galenica/galenica/internal/sales"
	"github.com/galenica/galenica/internal/shared"
	"github.com/galenica/galenica/internal/stocktake"
	"github.com/galenica/galenica/jobs"
	"github.com/galenica/galenica/migrations"
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

	if err := db.Migrate(cfg.PGDSN, migrations.FS, "."); err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, logger)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	quantityCache := inventory.NewQuantityCache(redisClient, cfg.QuantityCacheTTL)
	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(
		inventoryRepo,
		inventory.NewCatalogPricing(catalogService),
		quantityCache,
		auditLogger,
		jobClient,
		logger,
		inventory.ServiceConfig{MaxCostToPriceRatio: cfg.MaxCostToPriceRatio},
	)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, inventoryService, catalogService, jobClient, auditLogger, metrics, idempotencyStore, logger)
	salesHandler := sales.NewHandler(logger, salesService)

	stocktakeRepo := stocktake.NewRepository(pool)
	stocktakeService := stocktake.NewService(stocktakeRepo, inventoryService, catalogService, jobClient, auditLogger, logger)
	stocktakeHandler := stocktake.NewHandler(logger, stocktakeService)

	alertsRepo := alerts.NewRepository(pool)
	alertsService := alerts.NewService(alertsRepo, catalogService, inventoryService, metrics, logger)
	alertsHandler := alerts.NewHandler(logger, alertsService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		CatalogHandler:   catalogHandler,
		InventoryHandler: inventoryHandler,
		SalesHandler:     salesHandler,
		StocktakeHandler: stocktakeHandler,
		AlertsHandler:    alertsHandler,
		JobsHandler:      jobsHandler,
		Metrics:          metrics,
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
