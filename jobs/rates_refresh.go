package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/ratefeed"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RateFeed is the ingestion surface the rate jobs drive.
type RateFeed interface {
	UpdateToday(ctx context.Context) (ratefeed.UpdateResult, error)
	UpdateCrypto(ctx context.Context) (ratefeed.UpdateResult, error)
	Backfill(ctx context.Context, start, end time.Time) (ratefeed.BackfillReport, error)
}

// RatesJob runs the exchange-rate ingestion tasks.
type RatesJob struct {
	Feed    RateFeed
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRatesJob constructs the job handlers.
func NewRatesJob(feed RateFeed, logger *slog.Logger, metrics *jobmetrics.Metrics) *RatesJob {
	return &RatesJob{Feed: feed, Logger: logger, Metrics: metrics}
}

// HandleTCMBRefresh processes TaskRatesTCMBRefresh.
func (j *RatesJob) HandleTCMBRefresh(ctx context.Context, _ *asynq.Task) (err error) {
	tracker := j.metrics().Track(TaskRatesTCMBRefresh)
	defer func() { err = tracker.End(err) }()
	if j == nil || j.Feed == nil {
		return errors.New("rates job: feed not configured")
	}
	res, err := j.Feed.UpdateToday(ctx)
	if err != nil {
		j.log(TaskRatesTCMBRefresh).Warn("tcmb refresh failed", slog.Any("error", err))
		return retryable(err)
	}
	j.log(TaskRatesTCMBRefresh).Info("tcmb refresh complete",
		slog.String("rate_date", res.RateDate), slog.Int("updated", res.Updated))
	return nil
}

// HandleCryptoRefresh processes TaskRatesCryptoRefresh.
func (j *RatesJob) HandleCryptoRefresh(ctx context.Context, _ *asynq.Task) (err error) {
	tracker := j.metrics().Track(TaskRatesCryptoRefresh)
	defer func() { err = tracker.End(err) }()
	if j == nil || j.Feed == nil {
		return errors.New("rates job: feed not configured")
	}
	res, err := j.Feed.UpdateCrypto(ctx)
	if err != nil {
		j.log(TaskRatesCryptoRefresh).Warn("crypto refresh failed", slog.Any("error", err))
		return retryable(err)
	}
	j.log(TaskRatesCryptoRefresh).Info("crypto refresh complete", slog.Int("updated", res.Updated))
	return nil
}

// HandleBackfill processes TaskRatesTCMBBackfill.
func (j *RatesJob) HandleBackfill(ctx context.Context, task *asynq.Task) (err error) {
	tracker := j.metrics().Track(TaskRatesTCMBBackfill)
	defer func() { err = tracker.End(err) }()
	if j == nil || j.Feed == nil {
		return errors.New("rates job: feed not configured")
	}
	var payload BackfillPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode backfill payload: %v: %w", err, asynq.SkipRetry)
	}
	start, end, err := payload.Range()
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	report, err := j.Feed.Backfill(ctx, start, end)
	if err != nil {
		j.log(TaskRatesTCMBBackfill).Warn("backfill failed", slog.Any("error", err))
		return retryable(err)
	}
	j.log(TaskRatesTCMBBackfill).Info("backfill complete",
		slog.String("start_date", report.Start),
		slog.String("end_date", report.End),
		slog.Int("fetched", len(report.Fetched)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("failed", len(report.Failed)),
		slog.Int("inserted", report.Inserted))
	return nil
}

// retryable leaves upstream outages to asynq's retry policy and stops retries
// for requests that can never succeed.
func retryable(err error) error {
	if errors.Is(err, httpx.ErrValidation) || errors.Is(err, httpx.ErrNotFound) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (j *RatesJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RatesJob) log(job string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}
