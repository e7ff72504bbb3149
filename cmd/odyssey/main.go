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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-ledger/internal/audit/http"
	"github.com/odyssey-erp/odyssey-ledger/internal/auth"
	"github.com/odyssey-erp/odyssey-ledger/internal/contacts"
	"github.com/odyssey-erp/odyssey-ledger/internal/currency"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/categories"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/companies"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/payments"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/ratefeed"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/transactions"
	"github.com/odyssey-erp/odyssey-ledger/internal/users"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}
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

	if args := os.Args[1:]; cli.IsCommand(args) {
		os.Exit(runCLI(ctx, cfg, logger, args))
	}
	if err := serve(ctx, stop, cfg, logger); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}

func runCLI(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	return cli.Run(ctx, args, cli.Deps{
		FX: func(ctx context.Context) (*cli.FXOpsCLI, func(), error) {
			pool, err := db.New(ctx, cfg.PGDSN)
			if err != nil {
				return nil, nil, err
			}
			rdb, err := cache.New(ctx, cfg.RedisAddr)
			if err != nil {
				logger.Warn("redis unavailable, rate cache disabled", slog.Any("error", err))
			}
			rates := newCurrencyService(cfg, pool, rdb, shared.NewAuditLogger(pool), logger)
			fx, err := cli.NewFXOpsCLI(newRateFeed(cfg, rates, logger, nil))
			cleanup := func() {
				if rdb != nil {
					_ = rdb.Close()
				}
				pool.Close()
			}
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			return fx, cleanup, nil
		},
		Jobs:   func() *cli.JobsCLI { return cli.NewJobsCLI(cfg.RedisAddr) },
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
}

func newCurrencyService(cfg *app.Config, pool *pgxpool.Pool, rdb *redis.Client, auditLogger *shared.AuditLogger, logger *slog.Logger) *currency.Service {
	var rateCache *currency.Cache
	if rdb != nil {
		rateCache = currency.NewCache(rdb, cfg.RateCacheTTL)
	}
	return currency.NewService(currency.NewRepository(pool), rateCache, auditLogger, logger, cfg.BaseCurrency)
}

func newRateFeed(cfg *app.Config, rates *currency.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ratefeed.Service {
	feed := ratefeed.NewService(
		rates,
		ratefeed.NewTCMBClient(cfg.TCMBBaseURL, cfg.TCMBTimeout),
		ratefeed.NewCoinGeckoClient(cfg.CoinGeckoURL, cfg.CoinGeckoTimeout),
		logger,
		ratefeed.Config{Throttle: cfg.TCMBThrottle, MaxDays: cfg.TCMBBackfillMaxDays},
	)
	if metrics != nil {
		feed.WithMetrics(metrics)
	}
	return feed
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	rbacService := rbac.NewService(rbac.NewStore(pool), rdb, cfg.PermTTL, logger)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret, cfg.JWTTTL)

	currencyService := newCurrencyService(cfg, pool, rdb, auditLogger, logger)
	rateFeed := newRateFeed(cfg, currencyService, logger, jobMetrics)

	contactService := contacts.NewService(contacts.NewRepository(pool), auditLogger, logger, cfg.BaseCurrency)
	accountService := accounts.NewService(accounts.NewRepository(pool), auditLogger, logger)
	transactionService := transactions.NewService(transactions.NewRepository(pool, loc), currencyService, auditLogger, logger)
	paymentService := payments.NewService(payments.NewRepository(pool, loc), currencyService, idempotencyStore, auditLogger, logger)
	companyService := companies.NewService(companies.NewRepository(pool), auditLogger, logger)
	warehouseService := warehouses.NewService(warehouses.NewRepository(pool), auditLogger, logger)
	productService := products.NewService(products.NewRepository(pool), auditLogger, logger)
	categoryService := categories.NewService(categories.NewRepository(pool), auditLogger, logger)
	userService := users.NewService(users.NewRepository(pool), auditLogger, rbacService, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue := jobs.NewClient(redisOpts)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		AuthHandler:         auth.NewHandler(logger, authService),
		ContactsHandler:     contacts.NewHandler(logger, contactService, rbacMiddleware),
		AccountsHandler:     accounts.NewHandler(logger, accountService, rbacMiddleware),
		TransactionsHandler: transactions.NewHandler(logger, transactionService, rbacMiddleware),
		PaymentsHandler:     payments.NewHandler(logger, paymentService, rbacMiddleware),
		CompaniesHandler:    companies.NewHandler(logger, companyService, rbacMiddleware),
		WarehousesHandler:   warehouses.NewHandler(logger, warehouseService, rbacMiddleware),
		ProductsHandler:     products.NewHandler(logger, productService, rbacMiddleware),
		CategoriesHandler:   categories.NewHandler(logger, categoryService, rbacMiddleware),
		UsersHandler:        users.NewHandler(logger, userService, rbacMiddleware),
		CurrencyHandler:     currency.NewHandler(logger, currencyService, rbacMiddleware),
		RateFeedHandler:     ratefeed.NewHandler(logger, rateFeed, queue, rbacMiddleware),
		PermissionsHandler:  rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		AuditHandler:        audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(pool)), rbacMiddleware),
		JobHandler:          jobs.NewHandler(inspector, logger),
		Metrics:             metrics,
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
	return server.Shutdown(shutdownCtx)
}
