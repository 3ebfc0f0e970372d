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

	"github.com/atlas-retail/atlas-retail/internal/app"
	"github.com/atlas-retail/atlas-retail/internal/auth"
	"github.com/atlas-retail/atlas-retail/internal/catalog"
	"github.com/atlas-retail/atlas-retail/internal/ledger"
	"github.com/atlas-retail/atlas-retail/internal/observability"
	"github.com/atlas-retail/atlas-retail/internal/platform/cache"
	"github.com/atlas-retail/atlas-retail/internal/platform/db"
	"github.com/atlas-retail/atlas-retail/internal/pos"
	"github.com/atlas-retail/atlas-retail/internal/purchasing"
	"github.com/atlas-retail/atlas-retail/internal/shared"
	"github.com/atlas-retail/atlas-retail/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// The stock cache degrades to direct reads, so Redis being down
		// is not fatal for the API process.
		logger.Warn("ping redis", slog.Any("error", err))
	}
	defer redisClient.Close()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)
	stockCache := catalog.NewStockCache(redisClient, cfg.StockCacheTTL)

	applier := ledger.NewApplier(ledger.Config{AllowNegativeStock: cfg.LedgerAllowNegative})
	ledgerService := ledger.NewService(ledger.NewRepository(pool), applier, auditLogger, idempotency, stockCache)

	catalogService := catalog.NewService(catalog.NewRepository(pool), stockCache, auditLogger)

	purchasingService := purchasing.NewService(
		purchasing.NewRepository(pool),
		applier,
		auditLogger,
		idempotency,
		metrics,
		stockCache,
		logger,
		purchasing.Config{OverReceipt: cfg.OverReceiptPolicy()},
	)

	posService := pos.NewService(ledgerService, metrics)
	authService := auth.NewService(auth.NewRepository(pool))

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("connect job queue", slog.Any("error", err))
		os.Exit(1)
	}
	defer jobsClient.Close()
	jobsHandler := jobs.NewHandler(asynq.NewInspector(redisOpts), jobsClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Metrics:           metrics,
		AuthService:       authService,
		CatalogHandler:    catalog.NewHandler(catalogService),
		LedgerHandler:     ledger.NewHandler(ledgerService),
		PurchasingHandler: purchasing.NewHandler(purchasingService),
		POSHandler:        pos.NewHandler(posService),
		JobsHandler:       jobsHandler,
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
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}
