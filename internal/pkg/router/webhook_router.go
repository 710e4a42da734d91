package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/inkwell-ai/inkwell/app/controllers"
)

type WebhookRouter struct {
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}

// InstallRouter registers the provider-facing webhook endpoint. No auth
// middleware here: authenticity comes from the payload signature, and the
// provider cannot send identity headers.
func (h *WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/billing", controllers.HandleBillingWebhook)
}
