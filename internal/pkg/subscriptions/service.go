package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/inkwell-ai/inkwell/app/models"
	"github.com/inkwell-ai/inkwell/app/repository"
	"github.com/inkwell-ai/inkwell/internal/pkg/billing"
	"github.com/inkwell-ai/inkwell/internal/pkg/credits"
	"github.com/inkwell-ai/inkwell/internal/pkg/plans"
	"gorm.io/gorm"
)

var (
	// ErrFreePlan rejects gateway checkout for the free tier.
	ErrFreePlan = errors.New("the basic plan does not require a subscription")
	// ErrNoSubscription is returned when an operation needs an existing
	// provider-backed subscription and the user has none.
	ErrNoSubscription = errors.New("no subscription found for user")
)

// Notifier sends best-effort transactional mails on lifecycle changes.
// A nil notifier disables mail entirely.
type Notifier func(to, subject, body string) error

// Service drives the subscription lifecycle: none -> pending (checkout
// created) -> active (payment verified) -> cancelled, with cancel-at-period-
// end as active plus a flag. Webhook events re-enter through Renew/Expire.
type Service struct {
	gateway billing.Gateway
	users   repository.UserRepository
	subs    repository.SubscriptionRepository
	ledger  *credits.Ledger
	notify  Notifier
}

// NewService creates a subscription service from injected dependencies.
func NewService(gateway billing.Gateway, users repository.UserRepository, subs repository.SubscriptionRepository, ledger *credits.Ledger) *Service {
	return &Service{gateway: gateway, users: users, subs: subs, ledger: ledger}
}

// WithNotifier attaches a mail notifier and returns the service.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notify = n
	return s
}

// Create starts a checkout for a paid plan: ensures a provider customer
// exists for the user, creates the provider subscription and records it
// locally in the pending state. Payment is confirmed separately via
// Activate once the client-side checkout completes.
func (s *Service) Create(ctx context.Context, userID uint, planSlug string) (*models.Subscription, error) {
	plan, err := plans.Get(planSlug)
	if err != nil {
		return nil, err
	}
	if plans.IsFree(plan.Slug) {
		return nil, ErrFreePlan
	}
	providerPlanID := plan.ProviderPlanID()
	if providerPlanID == "" {
		return nil, fmt.Errorf("no provider plan configured for %q", plan.Slug)
	}

	user, err := s.users.GetByID(userID)
	if err != nil {
		return nil, err
	}

	if user.ProviderCustomerID == "" {
		customerID, err := s.gateway.CreateCustomer(ctx, user.Email, user.Name, user.ID)
		if err != nil {
			return nil, err
		}
		if err := s.users.SetProviderCustomerID(user.ID, customerID); err != nil {
			return nil, err
		}
	}

	created, err := s.gateway.CreateSubscription(ctx, providerPlanID, user.Email, user.Name, 0)
	if err != nil {
		return nil, err
	}

	sub := &models.Subscription{
		UserID:                 user.ID,
		PlanSlug:               plan.Slug,
		ProviderSubscriptionID: created.ID,
		ProviderPlanID:         created.PlanID,
		Status:                 models.SubscriptionStatusPending,
	}
	if err := s.subs.Upsert(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Activate marks a subscription paid. Period bounds are read back from the
// gateway rather than trusted from the request, so a client cannot forge a
// longer period. The credit grant is gated by the conditional period
// advance: replayed or concurrent activations of the same period see no
// row change and grant nothing.
func (s *Service) Activate(ctx context.Context, userID uint, providerSubscriptionID, planSlug string) (*models.Subscription, error) {
	plan, err := plans.Get(planSlug)
	if err != nil {
		return nil, err
	}

	remote, err := s.gateway.GetSubscription(ctx, providerSubscriptionID)
	if err != nil {
		return nil, err
	}
	if remote.CurrentPeriodStart == nil || remote.CurrentPeriodEnd == nil {
		return nil, fmt.Errorf("provider subscription %s has no period bounds", providerSubscriptionID)
	}

	sub := &models.Subscription{
		UserID:                 userID,
		PlanSlug:               plan.Slug,
		ProviderSubscriptionID: providerSubscriptionID,
		ProviderPlanID:         remote.PlanID,
		Status:                 models.SubscriptionStatusActive,
		CancelAtPeriodEnd:      false,
	}
	if err := s.subs.UpsertActivation(sub); err != nil {
		return nil, err
	}

	applied, err := s.subs.AdvancePeriod(providerSubscriptionID, *remote.CurrentPeriodStart, *remote.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}
	if !applied {
		return s.subs.GetByProviderSubscriptionID(providerSubscriptionID)
	}

	if err := s.ledger.GrantAdditive(ctx, userID, plan.EffectiveMonthlyCredits(), remote.CurrentPeriodEnd); err != nil {
		return nil, err
	}

	s.sendMail(userID, "Your "+plan.Name+" plan is active",
		fmt.Sprintf("Your %s subscription is now active. %d credits were added to your account.", plan.Name, plan.EffectiveMonthlyCredits()))
	return s.subs.GetByProviderSubscriptionID(providerSubscriptionID)
}

// Cancel cancels the user's subscription at the gateway. With atPeriodEnd
// the row stays active with cancel_at_period_end set until the provider's
// cancellation event or a later sync flips it; otherwise it is cancelled
// immediately and the next ledger sync demotes the user to basic.
func (s *Service) Cancel(ctx context.Context, userID uint, atPeriodEnd bool) (*models.Subscription, error) {
	sub, err := s.subs.GetByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSubscription
		}
		return nil, err
	}
	if sub.ProviderSubscriptionID == "" {
		return nil, ErrNoSubscription
	}

	if err := s.gateway.CancelSubscription(ctx, sub.ProviderSubscriptionID, atPeriodEnd); err != nil {
		return nil, err
	}

	if atPeriodEnd {
		sub.CancelAtPeriodEnd = true
	} else {
		sub.Status = models.SubscriptionStatusCancelled
		sub.CancelAtPeriodEnd = false
	}
	if err := s.subs.Save(sub); err != nil {
		return nil, err
	}

	s.sendMail(userID, "Subscription cancellation confirmed",
		"Your subscription has been cancelled. Paid features remain available until the end of the current billing period.")
	return sub, nil
}

// Renew handles a provider charge event: fetches the authoritative period
// bounds and advances the local period. The advance is monotonic, so a
// replayed event changes nothing and the credit reset runs at most once per
// period. A renewal restarts the allotment; unused credits do not carry
// over.
func (s *Service) Renew(ctx context.Context, providerSubscriptionID string) error {
	remote, err := s.gateway.GetSubscription(ctx, providerSubscriptionID)
	if err != nil {
		return err
	}
	if remote.CurrentPeriodStart == nil || remote.CurrentPeriodEnd == nil {
		return fmt.Errorf("provider subscription %s has no period bounds", providerSubscriptionID)
	}

	applied, err := s.subs.AdvancePeriod(providerSubscriptionID, *remote.CurrentPeriodStart, *remote.CurrentPeriodEnd)
	if err != nil {
		return err
	}
	if !applied {
		// Either a replayed event (period unchanged) or an unknown
		// subscription; the lookup below distinguishes the two.
		if _, err := s.subs.GetByProviderSubscriptionID(providerSubscriptionID); err != nil {
			return err
		}
		return nil
	}

	sub, err := s.subs.GetByProviderSubscriptionID(providerSubscriptionID)
	if err != nil {
		return err
	}
	plan := plans.BySlugOrDefault(sub.PlanSlug)
	return s.ledger.ResetTo(ctx, sub.UserID, plan.EffectiveMonthlyCredits(), remote.CurrentPeriodEnd)
}

// Expire handles a provider cancellation event. Idempotent: an already
// cancelled subscription is left untouched. The next ledger sync falls back
// to the basic plan and demotes the credit limit.
func (s *Service) Expire(ctx context.Context, providerSubscriptionID string) error {
	_ = ctx
	applied, err := s.subs.MarkCancelled(providerSubscriptionID)
	if err != nil {
		return err
	}
	if !applied {
		if _, err := s.subs.GetByProviderSubscriptionID(providerSubscriptionID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) sendMail(userID uint, subject, body string) {
	if s.notify == nil {
		return
	}
	user, err := s.users.GetByID(userID)
	if err != nil || user.Email == "" {
		return
	}
	go func() {
		if err := s.notify(user.Email, subject, body); err != nil {
			log.Printf("subscription mail to %s failed: %v", user.Email, err)
		}
	}()
}
