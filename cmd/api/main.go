package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/consult-payments/internal/config"
	"github.com/kursadbilgin/consult-payments/internal/gateway"
	"github.com/kursadbilgin/consult-payments/internal/handler"
	"github.com/kursadbilgin/consult-payments/internal/infra/postgresql"
	"github.com/kursadbilgin/consult-payments/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/consult-payments/internal/infra/redis"
	"github.com/kursadbilgin/consult-payments/internal/observability"
	"github.com/kursadbilgin/consult-payments/internal/queue"
	"github.com/kursadbilgin/consult-payments/internal/repository"
	"github.com/kursadbilgin/consult-payments/internal/security"
	"github.com/kursadbilgin/consult-payments/internal/service"
	"github.com/kursadbilgin/consult-payments/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 15 * time.Second
	consumerPrefetch = 10
	pollLeaseTTL     = 15 * time.Second
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("consult-payments stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	limiter, err := infraredis.NewGatewayRateLimiter(rdb, infraredis.GatewayBudgets{
		StatusPerSec: cfg.GatewayStatusRatePerSec,
	})
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}
	lease, err := infraredis.NewPollLease(rdb, pollLeaseTTL)
	if err != nil {
		return fmt.Errorf("poll lease initialization failed: %w", err)
	}

	broker, err := queue.NewBroker(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()
	publisher := queue.NewReconcilePublisher(broker)
	consumer := queue.NewReconcileConsumer(broker, consumerPrefetch, logger)

	phonePe, err := gateway.NewPhonePeClient(gateway.PhonePeConfig{
		BaseURL:    cfg.GatewayBaseURL,
		MerchantID: cfg.GatewayMerchantID,
		SaltKey:    cfg.GatewaySaltKey,
		SaltIndex:  cfg.GatewaySaltIndex,
		Timeout:    cfg.GatewayTimeout(),
	})
	if err != nil {
		return fmt.Errorf("gateway client initialization failed: %w", err)
	}

	authenticator, err := security.NewWebhookAuthenticator(cfg.WebhookUsername, cfg.WebhookPassword)
	if err != nil {
		return fmt.Errorf("webhook authenticator initialization failed: %w", err)
	}

	metrics := observability.NewMetrics()
	payments := repository.NewGormPaymentRepo(db)
	webhookEvents := repository.NewGormWebhookEventRepo(db)

	engine, err := service.NewReconciliationEngine(payments, logger)
	if err != nil {
		return err
	}
	engine.SetMetrics(metrics)

	ledger, err := service.NewCreditLedger(payments, logger)
	if err != nil {
		return err
	}
	ledger.SetMetrics(metrics)

	poller, err := service.NewStatusPoller(phonePe, payments, engine, lease, cfg.GatewayTimeout(), logger)
	if err != nil {
		return err
	}
	poller.SetMetrics(metrics)

	paymentService, err := service.NewPaymentService(
		payments,
		webhookEvents,
		phonePe,
		engine,
		poller,
		authenticator,
		limiter,
		service.PaymentOptions{
			PublicBaseURL: cfg.PublicBaseURL,
			FrontendURL:   cfg.FrontendURL,
			TrustRedirect: cfg.TrustRedirect(),
		},
		logger,
	)
	if err != nil {
		return err
	}
	paymentService.SetMetrics(metrics)

	scanner, err := service.NewReconcileScanner(
		payments,
		publisher,
		cfg.ReconcileInterval(),
		cfg.ReconcileMinAge(),
		cfg.ReconcileBatchSize,
		logger,
	)
	if err != nil {
		return err
	}
	scanner.SetMetrics(metrics)

	worker, err := service.NewReconcileWorker(payments, consumer, poller, limiter, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}
	worker.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Header: observability.CorrelationIDHeader}))
	app.Use(cors.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterPaymentRoutes(app, paymentService); err != nil {
		return err
	}
	if err := handler.RegisterCreditRoutes(app, ledger); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scanner.Start(groupCtx)
	})
	g.Go(func() error {
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		logger.Info("consult-payments api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	return g.Wait()
}
