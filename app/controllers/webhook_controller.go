package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const webhookTimeout = 15 * time.Second

// HandleBillingWebhook receives provider webhook deliveries. The provider
// retries on any non-2xx, so failures here only need to answer honestly.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Razorpay-Signature"))
	eventID := strings.TrimSpace(c.Get("X-Razorpay-Event-Id"))

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	status, err := deps.Webhooks.Handle(ctx, rawBody, signature, eventID)
	switch {
	case status == fiber.StatusOK:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
	case status == fiber.StatusBadRequest:
		msg := "invalid webhook"
		if err != nil {
			msg = err.Error()
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": msg})
	default:
		return c.Status(status).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}
}
