package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rozdum/backend/internal/config"
	"github.com/rozdum/backend/internal/db"
	"github.com/rozdum/backend/internal/events"
	apphttp "github.com/rozdum/backend/internal/http"
	"github.com/rozdum/backend/internal/http/handlers"
	"github.com/rozdum/backend/internal/repositories"
	"github.com/rozdum/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	taskRepo := repositories.NewTaskRepo(pool)
	offerRepo := repositories.NewOfferRepo(pool)
	disputeRepo := repositories.NewDisputeRepo(pool)
	reviewRepo := repositories.NewReviewRepo(pool)
	ledgerRepo := repositories.NewLedgerRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	var notifier services.Notifier = services.NopNotifier{}
	if cfg.NotifyBridgeURL != "" {
		notifier = services.NewBridgeClient(cfg.NotifyBridgeURL, cfg.BridgeToken, log)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	matcher := services.NewMatcher(userRepo, cfg, rng, log)
	dispatcher := services.NewDispatcher(taskRepo, offerRepo, userRepo, matcher, notifier, publisher, cfg, log)
	escrow := services.NewEscrowCoordinator(ledgerRepo, publisher, cfg, log)
	taskService := services.NewTaskService(taskRepo, disputeRepo, escrow, dispatcher, notifier, publisher, cfg, log)
	reviewService := services.NewReviewService(reviewRepo, taskRepo, log)
	accountService := services.NewAccountService(userRepo, ledgerRepo, log)
	resolver := services.NewDisputeResolver(disputeRepo, taskRepo, escrow, notifier, publisher, cfg, log)

	// Re-arm offer timers left over from the previous run.
	if err := dispatcher.Recover(ctx); err != nil {
		log.Error("offer recovery failed", zap.Error(err))
	}
	defer dispatcher.Stop()

	// Handlers
	authHandler := handlers.NewAuthHandler(userRepo, cfg, log)
	userHandler := handlers.NewUserHandler(accountService, reviewService, log)
	taskHandler := handlers.NewTaskHandler(taskService, reviewService, log)
	offerHandler := handlers.NewOfferHandler(dispatcher, offerRepo, taskService, log)
	disputeHandler := handlers.NewDisputeHandler(resolver, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, userHandler, taskHandler, offerHandler, disputeHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
