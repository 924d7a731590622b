package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/funds-movement/internal/api"
	"github.com/ayo6706/funds-movement/internal/api/middleware"
	"github.com/ayo6706/funds-movement/internal/config"
	"github.com/ayo6706/funds-movement/internal/db"
	"github.com/ayo6706/funds-movement/internal/events"
	"github.com/ayo6706/funds-movement/internal/gateway"
	"github.com/ayo6706/funds-movement/internal/idempotency"
	"github.com/ayo6706/funds-movement/internal/observability"
	"github.com/ayo6706/funds-movement/internal/repository"
	"github.com/ayo6706/funds-movement/internal/service"
	"github.com/ayo6706/funds-movement/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and reconciliation worker, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.Migrate(pool, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	store := repository.NewStore(pool)
	ledger := service.NewPostgresLedger(store, service.NewAuditService())
	publisher := events.NewPublisher(redisClient, cfg.EventsStream)
	hook := service.NewAlertingHook(logger, publisher)

	accounts, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}

	movementCfg := service.DefaultMovementConfig()
	movementCfg.LedgerWriteTimeout = cfg.LedgerWriteTimeout
	movementSvc := service.NewMovementService(accounts, ledger, hook, publisher, logger, movementCfg)
	reconciliationSvc := service.NewReconciliationService(ledger, hook, cfg.PendingStaleAfter)

	reconciliationWorker := worker.NewReconciliationWorker(reconciliationSvc).
		WithInterval(cfg.ReconciliationInterval).
		WithPurger(idemStore)
	stopWorker := reconciliationWorker.Run(ctx)
	logger.Info("reconciliation worker started",
		zap.Duration("interval", cfg.ReconciliationInterval),
		zap.Duration("stale_after", cfg.PendingStaleAfter),
	)

	router := api.NewRouter(api.Deps{
		Config:         cfg,
		Logger:         logger,
		DB:             pool,
		Redis:          redisClient,
		Idempotency:    idemStore,
		Movements:      movementSvc,
		Reconciliation: reconciliationSvc,
	})

	writeTimeout := serverWriteTimeout(movementCfg, cfg.AccountsTimeout)
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting",
			zap.String("port", cfg.HTTPPort),
			zap.String("accounts_gateway", cfg.AccountsGateway),
			zap.Duration("write_timeout", writeTimeout),
		)
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping reconciliation worker")
	stopWorker()

	// In-flight movements finish their saga before the pool closes.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), writeTimeout+shutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

const (
	minWriteTimeout = 15 * time.Second
	shutdownGrace   = 5 * time.Second
)

// serverWriteTimeout leaves room for the slowest movement to settle and its
// response to be written.
func serverWriteTimeout(movementCfg service.MovementConfig, accountsTimeout time.Duration) time.Duration {
	timeout := movementCfg.Budget(accountsTimeout) + shutdownGrace
	if timeout < minWriteTimeout {
		return minWriteTimeout
	}
	return timeout
}

func newGateway(cfg *config.Config, logger *zap.Logger) (gateway.Gateway, error) {
	switch cfg.AccountsGateway {
	case config.GatewayMock:
		logger.Warn("using in-memory accounts gateway; balances are not durable")
		mock := gateway.NewMockGateway()
		mock.AutoProvision = true
		mock.OpeningBalance = decimal.NewFromInt(1000)
		return mock, nil
	case config.GatewayHTTP:
		return gateway.NewAccountsClient(gateway.ClientConfig{
			BaseURL:            cfg.AccountsServiceURL,
			Timeout:            cfg.AccountsTimeout,
			BreakerFailures:    cfg.AccountsBreakerFailures,
			BreakerOpenTimeout: cfg.AccountsBreakerOpenTimeout,
		}, &http.Client{Transport: http.DefaultTransport}, logger), nil
	default:
		return nil, fmt.Errorf("unknown accounts gateway %q", cfg.AccountsGateway)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
