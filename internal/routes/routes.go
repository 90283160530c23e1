package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/opendraft/billing-backend/internal/config"
	"github.com/opendraft/billing-backend/internal/handlers"
	"github.com/opendraft/billing-backend/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	healthHandler *handlers.HealthHandler,
	webhookHandler *handlers.WebhookHandler,
	adminHandler *handlers.AdminHandler,
) {
	api := app.Group("/api")

	api.Get("/health", healthHandler.Check)

	// Razorpay webhook (HMAC signature, no rate limit)
	api.Post("/razorpay/webhook", webhookHandler.HandleRazorpay)

	// Admin: 30 req/min per IP
	admin := api.Group("/admin", limiter.New(limiter.Config{
		Max:               30,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}), middleware.AdminRequired(cfg))
	admin.Get("/transactions", adminHandler.ListTransactions)
	admin.Get("/subscriptions/:subscription_id", adminHandler.GetSubscription)
	admin.Post("/subscriptions/sync", adminHandler.SyncSubscription)
	admin.Get("/webhook-events/failed", adminHandler.ListFailedWebhookEvents)
}
