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

	"github.com/sparetrack/sparetrack/internal/app"
	"github.com/sparetrack/sparetrack/internal/bucket"
	"github.com/sparetrack/sparetrack/internal/invoice"
	"github.com/sparetrack/sparetrack/internal/ledger"
	"github.com/sparetrack/sparetrack/internal/masterdata/items"
	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
	"github.com/sparetrack/sparetrack/internal/msl"
	"github.com/sparetrack/sparetrack/internal/observability"
	"github.com/sparetrack/sparetrack/internal/platform/cache"
	"github.com/sparetrack/sparetrack/internal/platform/db"
	"github.com/sparetrack/sparetrack/internal/request"
	"github.com/sparetrack/sparetrack/internal/shared"
	"github.com/sparetrack/sparetrack/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	locationRepo := locations.NewRepository(dbpool)
	itemRepo := items.NewRepository(dbpool)

	bucketStore := bucket.NewStore(dbpool)
	bucketService := bucket.NewService(bucketStore)
	bucketHandler := bucket.NewHandler(logger, bucketService)

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, metrics)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	matcher := invoice.NewMatcher(itemRepo)

	mslRepo := msl.NewRepository(dbpool)

	requestRepo := request.NewRepository(dbpool)
	requestService := request.NewService(requestRepo, ledgerService, matcher, mslRepo, approvalRecorder, auditLogger, idempotencyStore)
	requestHandler := request.NewHandler(logger, requestService)

	scanner := msl.NewScanner(mslRepo, requestService, locationRepo, redisClient, logger, cfg.MSLScanLockTTL, cfg.SystemActorID).WithMetrics(metrics)
	mslHandler := msl.NewHandler(logger, mslRepo, locationRepo, scanner)

	inspector := jobs.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		BucketHandler:  bucketHandler,
		LedgerHandler:  ledgerHandler,
		RequestHandler: requestHandler,
		MSLHandler:     mslHandler,
		Pool:           dbpool,
		Queue:          inspector,
		Metrics:        metrics,
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
