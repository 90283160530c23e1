package handlers

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/opendraft/billing-backend/internal/dto"
	"github.com/opendraft/billing-backend/internal/services"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var validate = validator.New()

// AdminHandler is the manual follow-up surface for swallowed webhook
// failures.
type AdminHandler struct {
	ledger        *services.TransactionLedger
	subscriptions *services.SubscriptionService
	sync          *services.SyncService
	webhooks      *services.WebhookService
}

func NewAdminHandler(
	ledger *services.TransactionLedger,
	subscriptions *services.SubscriptionService,
	sync *services.SyncService,
	webhooks *services.WebhookService,
) *AdminHandler {
	return &AdminHandler{
		ledger:        ledger,
		subscriptions: subscriptions,
		sync:          sync,
		webhooks:      webhooks,
	}
}

func (h *AdminHandler) ListTransactions(c *fiber.Ctx) error {
	email := strings.ToLower(strings.TrimSpace(c.Query("email")))
	if email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "email is required"})
	}

	txns, err := h.ledger.RecentByEmail(c.UserContext(), email, listLimit(c))
	if err != nil {
		slog.Error("list transactions failed", "email", email, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "Failed to list transactions"})
	}

	return c.JSON(dto.TransactionListResponse{
		Email:        email,
		Count:        len(txns),
		Transactions: txns,
	})
}

func (h *AdminHandler) GetSubscription(c *fiber.Ctx) error {
	sub, err := h.subscriptions.Find(c.UserContext(), c.Params("subscription_id"))
	if err != nil {
		if errors.Is(err, services.ErrSubscriptionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "Subscription not found"})
		}
		slog.Error("get subscription failed", "subscription_id", c.Params("subscription_id"), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "Failed to load subscription"})
	}
	return c.JSON(sub)
}

func (h *AdminHandler) SyncSubscription(c *fiber.Ctx) error {
	var req dto.SyncRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "Invalid request body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "A valid email is required"})
	}

	mirror, err := h.sync.Resync(c.UserContext(), req.Email)
	if err != nil {
		if errors.Is(err, services.ErrSubscriptionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "No subscription for this email"})
		}
		slog.Error("manual subscription sync failed", "email", req.Email, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "Sync failed"})
	}

	slog.Info("manual subscription sync", "email", req.Email, "subscription_id", mirror.SubscriptionID)
	return c.JSON(dto.SyncResponse{Synced: true, Mirror: mirror})
}

func (h *AdminHandler) ListFailedWebhookEvents(c *fiber.Ctx) error {
	events, err := h.webhooks.FailedEvents(c.UserContext(), listLimit(c))
	if err != nil {
		slog.Error("list failed webhook events failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "Failed to list webhook events"})
	}
	return c.JSON(dto.WebhookEventListResponse{Count: len(events), Events: events})
}

func listLimit(c *fiber.Ctx) int {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
