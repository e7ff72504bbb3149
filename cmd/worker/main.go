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
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/currency"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/ratefeed"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}
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

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	for _, spec := range []string{cfg.RateRefreshCron, cfg.CryptoRefreshCron, cfg.IdempotencyCleanCron} {
		if err := jobs.ValidateCron(spec); err != nil {
			return err
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	var rateCache *currency.Cache
	rdb, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis cache unavailable", slog.Any("error", err))
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		rateCache = currency.NewCache(rdb, cfg.RateCacheTTL)
	}

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	auditLogger := shared.NewAuditLogger(pool)
	rates := currency.NewService(currency.NewRepository(pool), rateCache, auditLogger, logger, cfg.BaseCurrency)
	feed := ratefeed.NewService(
		rates,
		ratefeed.NewTCMBClient(cfg.TCMBBaseURL, cfg.TCMBTimeout),
		ratefeed.NewCoinGeckoClient(cfg.CoinGeckoURL, cfg.CoinGeckoTimeout),
		logger,
		ratefeed.Config{Throttle: cfg.TCMBThrottle, MaxDays: cfg.TCMBBackfillMaxDays},
	)
	feed.WithMetrics(jobMetrics)

	ratesJob := jobs.NewRatesJob(feed, logger, jobMetrics)
	cleanupJob := &jobs.IdempotencyCleanupJob{
		Store:     shared.NewIdempotencyStore(pool),
		Retention: cfg.IdempotencyRetention,
		Logger:    logger,
		Metrics:   jobMetrics,
	}

	cron := make([]jobs.CronRegistration, 0, 3)
	for _, entry := range []struct {
		spec, task string
	}{
		{cfg.RateRefreshCron, jobs.TaskRatesTCMBRefresh},
		{cfg.CryptoRefreshCron, jobs.TaskRatesCryptoRefresh},
		{cfg.IdempotencyCleanCron, jobs.TaskIdempotencyCleanup},
	} {
		task, err := jobs.NewScheduledTask(entry.task, time.Time{})
		if err != nil {
			return err
		}
		cron = append(cron, jobs.CronRegistration{Spec: entry.spec, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRatesTCMBRefresh, Handler: ratesJob.HandleTCMBRefresh},
			{Type: jobs.TaskRatesCryptoRefresh, Handler: ratesJob.HandleCryptoRefresh},
			{Type: jobs.TaskRatesTCMBBackfill, Handler: ratesJob.HandleBackfill},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		return err
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("worker metrics listening", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
