package entitlements

import (
	"context"
	"errors"
	"log"

	"github.com/inkwell-ai/inkwell/app/repository"
	"github.com/inkwell-ai/inkwell/internal/pkg/credits"
	"github.com/inkwell-ai/inkwell/internal/pkg/plans"
	"gorm.io/gorm"
)

// SubscriptionStatusNone is reported for users without a subscription row.
const SubscriptionStatusNone = "none"

// Access is the entitlement decision for a user at a point in time.
type Access struct {
	HasAccess          bool   `json:"has_access"`
	IsPaidActive       bool   `json:"is_paid_active"`
	Credits            int64  `json:"credits"`
	MonthlyLimit       int64  `json:"monthly_limit"`
	SubscriptionStatus string `json:"subscription_status"`
	Plan               string `json:"plan"`
}

// Service combines the credit ledger and the subscription record into a
// single access decision. Every protected request path goes through
// CheckAccess before consuming a credit, which also makes due periodic
// resets happen without a background scheduler.
type Service struct {
	ledger *credits.Ledger
	subs   repository.SubscriptionRepository
	usage  UsageRecorder
}

// UsageRecorder is an optional per-consumption hook (the Redis usage
// counter). Failures are logged, never surfaced to the caller.
type UsageRecorder func(userID uint) error

// NewService creates an entitlement service from injected dependencies.
func NewService(ledger *credits.Ledger, subs repository.SubscriptionRepository) *Service {
	return &Service{ledger: ledger, subs: subs}
}

// WithUsageRecorder attaches a usage recorder and returns the service.
func (s *Service) WithUsageRecorder(r UsageRecorder) *Service {
	s.usage = r
	return s
}

// CheckAccess computes the entitlement for a user. Side effects are limited
// to whatever the ledger sync performs: a due reset and, for an expired
// cancel-at-period-end subscription, the cancellation itself.
func (s *Service) CheckAccess(ctx context.Context, userID uint) (*Access, error) {
	snapshot, err := s.ledger.Sync(ctx, userID, "")
	if err != nil {
		return nil, err
	}

	// Read the subscription after the sync so a reconciliation performed
	// there is reflected in the reported status.
	sub, err := s.subs.GetByUserID(userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	access := &Access{
		Credits:            snapshot.Credits,
		MonthlyLimit:       snapshot.MonthlyLimit,
		SubscriptionStatus: SubscriptionStatusNone,
		Plan:               plans.PlanBasic,
	}
	if sub != nil {
		access.SubscriptionStatus = sub.Status
		if sub.IsActive() {
			access.Plan = sub.PlanSlug
		}
	}
	access.IsPaidActive = sub.IsActive() && !plans.IsFree(access.Plan)
	access.HasAccess = access.IsPaidActive || snapshot.Credits > 0
	return access, nil
}

// Consume is the metered-feature hook: it checks access and burns one
// credit. Callers receive the post-deduction entitlement.
func (s *Service) Consume(ctx context.Context, userID uint) (*Access, error) {
	access, err := s.CheckAccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !access.HasAccess {
		return nil, credits.ErrInsufficientCredits
	}
	if err := s.ledger.Deduct(ctx, userID, 1); err != nil {
		return nil, err
	}
	if s.usage != nil {
		if err := s.usage(userID); err != nil {
			log.Printf("usage counter increment failed for user %d: %v", userID, err)
		}
	}
	access.Credits--
	return access, nil
}
