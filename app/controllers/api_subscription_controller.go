package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/inkwell-ai/inkwell/internal/pkg/billing"
	"github.com/inkwell-ai/inkwell/internal/pkg/usercontext"
)

const gatewayRequestTimeout = 20 * time.Second

type createSubscriptionRequest struct {
	PlanID string `json:"plan_id" validate:"required,max=50"`
}

type verifyPaymentRequest struct {
	PaymentID      string `json:"payment_id" validate:"required,max=191"`
	SubscriptionID string `json:"subscription_id" validate:"required,max=191"`
	Signature      string `json:"signature" validate:"required,max=191"`
	PlanID         string `json:"plan_id" validate:"required,max=50"`
}

type cancelSubscriptionRequest struct {
	CancelAtPeriodEnd *bool `json:"cancel_at_period_end"`
}

// HandleCreateSubscription starts a paid-plan checkout for the current user.
func HandleCreateSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req createSubscriptionRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, "plan_id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), gatewayRequestTimeout)
	defer cancel()

	sub, err := deps.Subscriptions.Create(ctx, userCtx.UserID, req.PlanID)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"subscription_id": sub.ProviderSubscriptionID,
		"plan_id":         sub.PlanSlug,
	})
}

// HandleVerifyPayment confirms a completed checkout. The signature proves
// the payment happened at the provider; period bounds are then read back
// from the provider, never from this request.
func HandleVerifyPayment(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req verifyPaymentRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, "payment_id, subscription_id, signature and plan_id are required")
	}

	if !billing.VerifyPaymentSignature(req.PaymentID, req.SubscriptionID, req.Signature, deps.PaymentSecret) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "payment_verification_failed", "message": "Payment signature mismatch"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), gatewayRequestTimeout)
	defer cancel()

	sub, err := deps.Subscriptions.Activate(ctx, userCtx.UserID, req.SubscriptionID, req.PlanID)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(sub)
}

// HandleCancelSubscription cancels the current user's subscription,
// at period end unless requested otherwise.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	req := cancelSubscriptionRequest{}
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, "malformed request body")
		}
	}
	atPeriodEnd := true
	if req.CancelAtPeriodEnd != nil {
		atPeriodEnd = *req.CancelAtPeriodEnd
	}

	ctx, cancel := context.WithTimeout(context.Background(), gatewayRequestTimeout)
	defer cancel()

	sub, err := deps.Subscriptions.Cancel(ctx, userCtx.UserID, atPeriodEnd)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(sub)
}

// HandleSubscriptionStatus returns the combined entitlement view for the
// current user.
func HandleSubscriptionStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	access, err := deps.Entitlements.CheckAccess(c.Context(), userCtx.UserID)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(access)
}
