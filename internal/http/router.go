package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/rozdum/backend/internal/config"
	"github.com/rozdum/backend/internal/http/handlers"
	"github.com/rozdum/backend/internal/middleware"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	taskHandler *handlers.TaskHandler,
	offerHandler *handlers.OfferHandler,
	disputeHandler *handlers.DisputeHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Session exchange (bridge-authenticated, public)
	api.Post("/auth/session", authHandler.Session)

	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Profile and wallet
	protected.Get("/me", userHandler.GetMe)
	protected.Get("/me/balance", userHandler.GetBalance)
	protected.Post("/me/availability", userHandler.SetAvailability)
	protected.Put("/me/tags", userHandler.UpdateTags)
	protected.Post("/me/deposits", userHandler.Deposit)
	protected.Post("/me/withdrawals", userHandler.Withdraw)
	protected.Get("/me/transactions", userHandler.Transactions)
	protected.Get("/users/:id/reviews", userHandler.ListReviews)

	// Tasks
	protected.Post("/tasks", taskHandler.CreateTask)
	protected.Get("/tasks", taskHandler.ListTasks)
	protected.Get("/tasks/:id", taskHandler.GetTask)
	protected.Post("/tasks/:id/report", taskHandler.ReportCompletion)
	protected.Post("/tasks/:id/approve", taskHandler.Approve)
	protected.Post("/tasks/:id/cancel", taskHandler.Cancel)
	protected.Post("/tasks/:id/dispute", taskHandler.OpenDispute)
	protected.Post("/tasks/:id/reviews", taskHandler.AddReview)
	protected.Get("/tasks/:id/offers", offerHandler.ListForTask)

	// Offers
	protected.Get("/offers/:id", offerHandler.GetOffer)
	protected.Post("/offers/:id/respond", offerHandler.Respond)

	// Disputes
	protected.Get("/disputes/:id", disputeHandler.GetDispute)
	admin := protected.Group("", middleware.AdminMiddleware(cfg))
	admin.Get("/disputes", disputeHandler.ListOpen)
	admin.Post("/disputes/:id/resolve", disputeHandler.Resolve)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
