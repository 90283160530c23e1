package handlers

import (
	"log/slog"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	"github.com/opendraft/billing-backend/internal/dto"
	"github.com/opendraft/billing-backend/internal/razorpay"
	"github.com/opendraft/billing-backend/internal/services"
)

type WebhookHandler struct {
	webhookService *services.WebhookService
	secret         string
}

func NewWebhookHandler(webhookService *services.WebhookService, secret string) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		secret:         secret,
	}
}

// HandleRazorpay verifies and processes a Razorpay webhook. Once the
// signature and body are valid the response is always 200, whatever
// happens while processing.
func (h *WebhookHandler) HandleRazorpay(c *fiber.Ctx) error {
	if h.secret == "" {
		slog.Error("razorpay webhook secret is not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "Webhook secret not configured",
		})
	}

	signature := c.Get(razorpay.SignatureHeader)
	if signature == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: "Missing signature",
		})
	}

	// The signature covers the exact bytes on the wire.
	body := append([]byte(nil), c.BodyRaw()...)
	if !razorpay.VerifySignature(body, signature, h.secret) {
		slog.Warn("razorpay webhook signature mismatch", "ip", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: "Invalid signature",
		})
	}

	event, err := razorpay.Decode(body)
	if err != nil {
		slog.Error("razorpay webhook payload rejected", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "Invalid webhook payload",
		})
	}

	ctx := c.UserContext()
	if hub := sentryfiber.GetHubFromContext(c); hub != nil {
		ctx = sentry.SetHubOnContext(ctx, hub)
	}
	requestID, _ := c.Locals("requestid").(string)

	res := h.webhookService.Dispatch(ctx, services.Delivery{
		EventID:   c.Get(razorpay.EventIDHeader),
		Body:      body,
		Event:     event,
		RequestID: requestID,
	})

	slog.Info("razorpay webhook received", "event", event.Type(), "duplicate", res.Duplicate, "failed", res.Err != nil, "request_id", requestID)
	return c.JSON(dto.WebhookAck{Received: true})
}
