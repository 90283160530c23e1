package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"gorm.io/gorm"

	"github.com/opendraft/billing-backend/internal/config"
	"github.com/opendraft/billing-backend/internal/database"
	"github.com/opendraft/billing-backend/internal/handlers"
	"github.com/opendraft/billing-backend/internal/locker"
	"github.com/opendraft/billing-backend/internal/logging"
	"github.com/opendraft/billing-backend/internal/middleware"
	"github.com/opendraft/billing-backend/internal/plans"
	"github.com/opendraft/billing-backend/internal/repository"
	"github.com/opendraft/billing-backend/internal/routes"
	"github.com/opendraft/billing-backend/internal/services"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if cfg.Razorpay.WebhookSecret == "" {
		// Not fatal: the webhook answers 500 until it is set.
		slog.Error("RAZORPAY_WEBHOOK_SECRET is not set, webhooks will be rejected")
	}
	if !cfg.UsesSQLite() && cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}

	// Plan catalog
	catalog, err := plans.LoadFromFile(cfg.PlansConfigPath, cfg.DefaultCurrency)
	if err != nil {
		slog.Warn("plan catalog unavailable, using built-in prices", "path", cfg.PlansConfigPath, "error", err)
		catalog = plans.NewCatalog(cfg.DefaultCurrency)
	}
	slog.Info("plan catalog loaded", "entries", catalog.Len())

	// Databases
	db, err := database.Connect(cfg)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	mirrorDB, err := database.ConnectMirror(cfg, db)
	if err != nil {
		slog.Error("mirror database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.MigrateMirror(mirrorDB); err != nil {
		slog.Error("mirror migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(db)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		logging.NewJSONHandler(),
		pgLogHandler,
	)))

	cleanupDone := make(chan struct{})
	logging.StartCleanup(db, cfg.LogRetentionDays, cleanupDone)

	// Reconciliation lock
	var lk locker.Locker = locker.Noop{}
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisLocker, err := locker.NewRedis(ctx, cfg.RedisURL, cfg.LockTTL, cfg.LockWait)
		cancel()
		if err != nil {
			slog.Warn("redis unavailable, reconciliation locks disabled", "error", err)
		} else {
			lk = redisLocker
			defer redisLocker.Close()
			slog.Info("redis connected")
		}
	}

	// Repositories
	transactionRepo := repository.NewTransactionRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	mirrorRepo := repository.NewMirrorRepository(mirrorDB)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	// Services
	syncService := services.NewSyncService(subscriptionRepo, mirrorRepo)
	ledger := services.NewTransactionLedger(transactionRepo, catalog.DefaultCurrency())
	classifier := services.NewPaymentClassifier(subscriptionRepo, catalog, cfg.Razorpay.GraceWindow)
	subscriptionService := services.NewSubscriptionService(subscriptionRepo, ledger, catalog, syncService)
	webhookService := services.NewWebhookService(webhookEventRepo, classifier, ledger, subscriptionService, lk)

	// Handlers
	healthHandler := handlers.NewHealthHandler(db, mirrorDB, lk, catalog)
	webhookHandler := handlers.NewWebhookHandler(webhookService, cfg.Razorpay.WebhookSecret)
	adminHandler := handlers.NewAdminHandler(ledger, subscriptionService, syncService, webhookService)

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${locals:requestid}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		return c.Next()
	})

	routes.Setup(app, cfg, healthHandler, webhookHandler, adminHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	close(cleanupDone)
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	closeDB(db, "primary")
	if mirrorDB != db {
		closeDB(mirrorDB, "mirror")
	}

	slog.Info("server stopped")
}

func closeDB(db *gorm.DB, name string) {
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "db", name, "error", err)
		}
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}
