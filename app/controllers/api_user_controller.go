package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/inkwell-ai/inkwell/internal/pkg/usercontext"
)

// HandleGetUserCredits returns the current credit balance, performing any
// due periodic reset on the way.
func HandleGetUserCredits(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	snapshot, err := deps.Ledger.Sync(c.Context(), userCtx.UserID, "")
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"credits":              snapshot.Credits,
		"monthly_credit_limit": snapshot.MonthlyLimit,
	})
}

// HandleConsumeCredit is the hook the metered feature calls per use: one
// entitlement check plus one credit deduction.
func HandleConsumeCredit(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	access, err := deps.Entitlements.Consume(c.Context(), userCtx.UserID)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(access)
}
