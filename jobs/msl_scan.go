package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/sparetrack/sparetrack/internal/jobs"
	"github.com/sparetrack/sparetrack/internal/msl"
)

// MSLScanJob runs the replenishment scanner on schedule.
type MSLScanJob struct {
	Scanner *msl.Scanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewMSLScanJob initialises the scan handler.
func NewMSLScanJob(scanner *msl.Scanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *MSLScanJob {
	return &MSLScanJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle executes one scan cycle. A cycle already running elsewhere is not an
// error; the scheduled retry covers the shortfalls it would have found.
func (j *MSLScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scanner == nil {
		return errors.New("msl scan: handler not configured")
	}
	var payload MSLScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskMSLScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting msl scan")

	summary, err := j.Scanner.Run(ctx)
	if err != nil {
		if errors.Is(err, msl.ErrScanLocked) {
			logger.Info("msl scan already running, skipping cycle")
			return nil
		}
		resultErr = err
		logger.Error("msl scan failed", slog.Any("error", err))
		return resultErr
	}

	j.metrics().AddFillUps(summary.Requests)
	logger.Info("completed msl scan",
		slog.Int("shortfalls", summary.Shortfalls),
		slog.Int("requests", summary.Requests),
		slog.Int("items", summary.Items),
		slog.Int("skipped", summary.Skipped),
	)
	return resultErr
}

func (j *MSLScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskMSLScan))
	}
	return slog.Default().With(slog.String("job", TaskMSLScan))
}

func (j *MSLScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
