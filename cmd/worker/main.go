package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/sparetrack/sparetrack/internal/app"
	"github.com/sparetrack/sparetrack/internal/invoice"
	"github.com/sparetrack/sparetrack/internal/ledger"
	"github.com/sparetrack/sparetrack/internal/masterdata/items"
	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
	"github.com/sparetrack/sparetrack/internal/msl"
	"github.com/sparetrack/sparetrack/internal/platform/cache"
	"github.com/sparetrack/sparetrack/internal/platform/db"
	"github.com/sparetrack/sparetrack/internal/request"
	"github.com/sparetrack/sparetrack/internal/shared"
	"github.com/sparetrack/sparetrack/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
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

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	locationRepo := locations.NewRepository(pool)
	itemRepo := items.NewRepository(pool)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, nil)

	matcher := invoice.NewMatcher(itemRepo)
	mslRepo := msl.NewRepository(pool)

	requestRepo := request.NewRepository(pool)
	requestService := request.NewService(requestRepo, ledgerService, matcher, mslRepo, approvalRecorder, auditLogger, idempotencyStore)

	scanner := msl.NewScanner(mslRepo, requestService, locationRepo, redisClient, logger, cfg.MSLScanLockTTL, cfg.SystemActorID)
	scanJob := jobs.NewMSLScanJob(scanner, logger, nil)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger, nil)

	scanTask, err := jobs.NewMSLScanTask(jobs.MSLScanPayload{})
	if err != nil {
		logger.Error("build scan task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{RetentionHours: 24 * 30})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskMSLScan, Handler: scanJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.MSLScanCron, Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
