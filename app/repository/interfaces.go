package repository

import (
	"time"

	"github.com/inkwell-ai/inkwell/app/models"
)

// UserRepository defines user and credit-account database operations. All
// credit mutations are conditional updates so concurrent callers cannot
// double-spend or double-reset; the bool result reports whether the
// condition held and the row was written.
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByAuthID(authID string) (*models.User, error)
	Update(user *models.User) error
	SetProviderCustomerID(userID uint, customerID string) error

	// DeductCredits subtracts amount where the balance covers it.
	DeductCredits(userID uint, amount int64) (bool, error)
	// ApplyReset replaces the credit account, guarded by the previously
	// observed reset_at value (compare-and-swap on the reset marker).
	ApplyReset(userID uint, credits, limit int64, resetAt time.Time, prevResetAt *time.Time) (bool, error)
	// GrantCredits adds to both balance and monthly limit.
	GrantCredits(userID uint, amount int64, resetAt *time.Time) error
	// ReplaceCredits unconditionally rewrites the credit account. Reserved
	// for the renewal path, which already won the period-advance race.
	ReplaceCredits(userID uint, credits, limit int64, resetAt *time.Time) error
}

// SubscriptionRepository defines subscription row operations.
type SubscriptionRepository interface {
	Upsert(sub *models.Subscription) error
	// UpsertActivation writes the subscription identity and status but
	// leaves the period columns alone; the period advance is the separate
	// conditional update that gates credit grants on activation.
	UpsertActivation(sub *models.Subscription) error
	Save(sub *models.Subscription) error
	GetByUserID(userID uint) (*models.Subscription, error)
	GetByProviderSubscriptionID(providerSubscriptionID string) (*models.Subscription, error)

	// AdvancePeriod moves the billing period forward. The update is
	// conditional on the new period end being later than the stored one,
	// which makes replayed renewal events no-ops.
	AdvancePeriod(providerSubscriptionID string, start, end time.Time) (bool, error)
	// MarkCancelled flips the row to cancelled unless it already is.
	MarkCancelled(providerSubscriptionID string) (bool, error)
}

// WebhookEventRepository persists provider webhook deliveries for audit and
// deduplication.
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}
