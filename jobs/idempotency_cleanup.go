package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// KeyCleaner prunes idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob deletes request keys past their retention.
type IdempotencyCleanupJob struct {
	Store     KeyCleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskIdempotencyCleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	metrics := defaultJobMetrics
	if j.Metrics != nil {
		metrics = j.Metrics
	}
	tracker := metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()
	if j.Store == nil {
		return nil
	}
	retention := j.Retention
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := j.Store.Cleanup(ctx, retention); err != nil {
		logger.Error("idempotency cleanup", slog.String("job", TaskIdempotencyCleanup), slog.Any("error", err))
		return err
	}
	logger.Info("idempotency keys pruned", slog.String("job", TaskIdempotencyCleanup), slog.Duration("retention", retention))
	return nil
}
