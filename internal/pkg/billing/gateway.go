package billing

import (
	"context"
	"errors"
	"time"
)

// ErrExternalService marks gateway failures caused by the provider being
// unreachable or answering 5xx. Callers may retry with backoff.
var ErrExternalService = errors.New("billing provider unavailable")

// Subscription is the provider-side subscription state as reported by the
// gateway. Period bounds come from the provider, never from client payloads.
type Subscription struct {
	ID                 string
	PlanID             string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
}

// CreatedSubscription is the result of creating a provider subscription.
type CreatedSubscription struct {
	ID     string
	PlanID string
	Status string
}

// Gateway is the narrow capability interface the subscription state machine
// and webhook processor depend on. Keeping it small lets tests substitute a
// deterministic fake for all concurrency and state-machine scenarios.
type Gateway interface {
	// CreateCustomer is idempotent: if the provider reports the customer
	// already exists it is looked up by email and the existing id returned.
	CreateCustomer(ctx context.Context, email, name string, userID uint) (string, error)
	CreateSubscription(ctx context.Context, planProviderID, customerEmail, customerName string, totalCycles int) (*CreatedSubscription, error)
	GetSubscription(ctx context.Context, providerSubscriptionID string) (*Subscription, error)
	CancelSubscription(ctx context.Context, providerSubscriptionID string, cancelAtCycleEnd bool) error
}
