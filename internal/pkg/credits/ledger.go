package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/inkwell-ai/inkwell/app/models"
	"github.com/inkwell-ai/inkwell/app/repository"
	"github.com/inkwell-ai/inkwell/internal/pkg/plans"
	"gorm.io/gorm"
)

// ErrInsufficientCredits is returned when a deduction would take the balance
// below zero. The failed deduction has no side effects.
var ErrInsufficientCredits = errors.New("insufficient credits")

// syncAttempts bounds the compare-and-swap retry loop in Sync. Losing the
// race means another request already performed the reset, so one or two
// re-reads are enough in practice.
const syncAttempts = 3

// Snapshot is the credit account state returned by ledger operations.
type Snapshot struct {
	Credits      int64      `json:"credits"`
	MonthlyLimit int64      `json:"monthly_limit"`
	ResetAt      *time.Time `json:"reset_at,omitempty"`
}

// Ledger owns the per-user credit balance and its accounting rules. All
// mutations go through conditional updates in the user repository, so
// concurrent deductions and resets for the same user are safe.
type Ledger struct {
	users repository.UserRepository
	subs  repository.SubscriptionRepository
	now   func() time.Time
}

// NewLedger creates a ledger from injected repositories.
func NewLedger(users repository.UserRepository, subs repository.SubscriptionRepository) *Ledger {
	return &Ledger{users: users, subs: subs, now: time.Now}
}

// Deduct atomically subtracts amount from the user's balance. Two
// concurrent calls with credits=1, amount=1 yield exactly one success and
// one ErrInsufficientCredits; the balance never goes negative.
func (l *Ledger) Deduct(ctx context.Context, userID uint, amount int64) error {
	_ = ctx
	if amount <= 0 {
		return fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	applied, err := l.users.DeductCredits(userID, amount)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	// Distinguish a missing user from an empty balance.
	if _, err := l.users.GetByID(userID); err != nil {
		return err
	}
	return ErrInsufficientCredits
}

// Sync resolves the user's effective plan and performs the periodic reset
// when it is due: credits back to the monthly limit, reset marker advanced
// one billing period. The reset is keyed on the previously observed reset
// timestamp, so N concurrent calls at a period boundary perform it exactly
// once. Plan resolution order: explicit slug, active subscription plan,
// basic. A cancel-at-period-end subscription whose final period has run
// out is marked cancelled here and resolves to basic.
func (l *Ledger) Sync(ctx context.Context, userID uint, planSlug string) (*Snapshot, error) {
	_ = ctx
	plan, err := l.resolvePlan(userID, planSlug)
	if err != nil {
		return nil, err
	}
	limit := plan.EffectiveMonthlyCredits()

	for attempt := 0; attempt < syncAttempts; attempt++ {
		user, err := l.users.GetByID(userID)
		if err != nil {
			return nil, err
		}

		now := l.now()
		if !user.ResetDue(now) {
			return &Snapshot{Credits: user.Credits, MonthlyLimit: user.MonthlyLimit, ResetAt: user.ResetAt}, nil
		}

		nextReset := now.AddDate(0, 1, 0)
		applied, err := l.users.ApplyReset(userID, limit, limit, nextReset, user.ResetAt)
		if err != nil {
			return nil, err
		}
		if applied {
			return &Snapshot{Credits: limit, MonthlyLimit: limit, ResetAt: &nextReset}, nil
		}
		// Lost the race against a concurrent reset; re-read and re-check.
	}

	user, err := l.users.GetByID(userID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Credits: user.Credits, MonthlyLimit: user.MonthlyLimit, ResetAt: user.ResetAt}, nil
}

// GrantAdditive adds plan credits on top of the current balance and limit.
// Used on activation/upgrade so a mid-cycle upgrade keeps already-accrued
// balance. Renewals use ResetTo instead: unused credits do not carry over.
func (l *Ledger) GrantAdditive(ctx context.Context, userID uint, amount int64, newResetAt *time.Time) error {
	_ = ctx
	if amount < 0 {
		return fmt.Errorf("grant amount must not be negative, got %d", amount)
	}
	return l.users.GrantCredits(userID, amount, newResetAt)
}

// ResetTo rewrites the credit account to the given limit. Only the renewal
// path calls this, after winning the monotonic period-advance update.
func (l *Ledger) ResetTo(ctx context.Context, userID uint, limit int64, resetAt *time.Time) error {
	_ = ctx
	return l.users.ReplaceCredits(userID, limit, limit, resetAt)
}

func (l *Ledger) resolvePlan(userID uint, planSlug string) (plans.Plan, error) {
	if planSlug != "" {
		return plans.Get(planSlug)
	}

	sub, err := l.subs.GetByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return plans.BySlugOrDefault(plans.PlanBasic), nil
		}
		return plans.Plan{}, err
	}
	if l.expireDue(sub) {
		// The final period of a cancel-at-period-end subscription ran out
		// without the provider's cancellation event arriving. Close it
		// here rather than renewing at the paid limit forever.
		if _, err := l.subs.MarkCancelled(sub.ProviderSubscriptionID); err != nil {
			return plans.Plan{}, err
		}
		return plans.BySlugOrDefault(plans.PlanBasic), nil
	}
	if sub.IsActive() {
		return plans.BySlugOrDefault(sub.PlanSlug), nil
	}
	return plans.BySlugOrDefault(plans.PlanBasic), nil
}

func (l *Ledger) expireDue(sub *models.Subscription) bool {
	return sub.IsActive() && sub.CancelAtPeriodEnd &&
		sub.ProviderSubscriptionID != "" &&
		sub.CurrentPeriodEnd != nil && l.now().After(*sub.CurrentPeriodEnd)
}
