package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/inkwell-ai/inkwell/internal/pkg/billing"
	"github.com/inkwell-ai/inkwell/internal/pkg/credits"
	"github.com/inkwell-ai/inkwell/internal/pkg/entitlements"
	"github.com/inkwell-ai/inkwell/internal/pkg/plans"
	"github.com/inkwell-ai/inkwell/internal/pkg/subscriptions"
	"github.com/inkwell-ai/inkwell/internal/pkg/webhooks"
)

// Deps carries the service instances the controllers delegate to. They are
// constructed explicitly by the process entry point and injected once at
// startup; controllers hold no other state.
type Deps struct {
	Subscriptions *subscriptions.Service
	Entitlements  *entitlements.Service
	Ledger        *credits.Ledger
	Webhooks      *webhooks.Processor
	// PaymentSecret signs checkout payment confirmations.
	PaymentSecret string
}

var (
	deps     Deps
	validate = validator.New()
)

// Initialize wires the controller package. Must be called before any route
// is served.
func Initialize(d Deps) {
	deps = d
}

// respondError maps domain errors onto the HTTP error contract.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, plans.ErrPlanNotFound), errors.Is(err, subscriptions.ErrFreePlan):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": err.Error()})
	case errors.Is(err, credits.ErrInsufficientCredits):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "insufficient_credits", "message": err.Error()})
	case errors.Is(err, subscriptions.ErrNoSubscription), errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
	case errors.Is(err, billing.ErrExternalService):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "external_service_error", "message": "The billing provider is currently unavailable, please retry"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Something went wrong"})
	}
}

// parseBody decodes and validates a JSON request body.
func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return err
	}
	return validate.Struct(out)
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": message})
}
