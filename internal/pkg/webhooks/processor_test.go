package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/app/models"
	"github.com/inkwell-ai/inkwell/app/repository"
	"github.com/inkwell-ai/inkwell/internal/pkg/billing"
	"github.com/inkwell-ai/inkwell/internal/pkg/credits"
	"github.com/inkwell-ai/inkwell/internal/pkg/plans"
	"github.com/inkwell-ai/inkwell/internal/pkg/subscriptions"
)

const testWebhookSecret = "whsec_test"

type fakeGateway struct {
	subscription *billing.Subscription
	getErr       error
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, email, name string, userID uint) (string, error) {
	return "cust_fake", nil
}

func (g *fakeGateway) CreateSubscription(ctx context.Context, planProviderID, customerEmail, customerName string, totalCycles int) (*billing.CreatedSubscription, error) {
	return &billing.CreatedSubscription{ID: "sub_fake", PlanID: planProviderID, Status: "created"}, nil
}

func (g *fakeGateway) GetSubscription(ctx context.Context, providerSubscriptionID string) (*billing.Subscription, error) {
	if g.getErr != nil {
		return nil, g.getErr
	}
	if g.subscription != nil {
		return g.subscription, nil
	}
	start := time.Now().Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	return &billing.Subscription{
		ID: providerSubscriptionID, PlanID: "plan_fake", Status: "active",
		CurrentPeriodStart: &start, CurrentPeriodEnd: &end,
	}, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, providerSubscriptionID string, cancelAtCycleEnd bool) error {
	return nil
}

type processorFixture struct {
	processor *Processor
	gateway   *fakeGateway
	users     *repository.MemoryUserRepository
	subs      *repository.MemorySubscriptionRepository
	events    *repository.MemoryWebhookEventRepository
	ledger    *credits.Ledger
	user      *models.User
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()

	users := repository.NewMemoryUserRepository()
	subs := repository.NewMemorySubscriptionRepository()
	events := repository.NewMemoryWebhookEventRepository()
	gateway := &fakeGateway{}
	ledger := credits.NewLedger(users, subs)
	subService := subscriptions.NewService(gateway, users, subs, ledger)

	user, err := models.NewUser("auth-1", "jane@example.com", "Jane")
	require.NoError(t, err)
	require.NoError(t, users.Create(user))

	return &processorFixture{
		processor: NewProcessor(subService, events, testWebhookSecret),
		gateway:   gateway,
		users:     users,
		subs:      subs,
		events:    events,
		ledger:    ledger,
		user:      user,
	}
}

func (f *processorFixture) activateSubscription(t *testing.T, planSlug string) {
	t.Helper()
	start := time.Now().Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	require.NoError(t, f.subs.Upsert(&models.Subscription{
		UserID:                 f.user.ID,
		PlanSlug:               planSlug,
		ProviderSubscriptionID: "sub_123",
		Status:                 models.SubscriptionStatusActive,
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
	}))
}

func sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func chargedPayload(subscriptionID string) []byte {
	return []byte(fmt.Sprintf(`{"event":"subscription.charged","payload":{"subscription":{"entity":{"id":"%s","status":"active"}}}}`, subscriptionID))
}

func cancelledPayload(subscriptionID string) []byte {
	return []byte(fmt.Sprintf(`{"event":"subscription.cancelled","payload":{"subscription":{"entity":{"id":"%s","status":"cancelled"}}}}`, subscriptionID))
}

func TestHandleRejectsBadSignature(t *testing.T) {
	f := newProcessorFixture(t)
	payload := chargedPayload("sub_123")

	status, err := f.processor.Handle(context.Background(), payload, "deadbeef", "evt_1")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Error(t, err)

	// nothing was recorded: the same event id can still be claimed
	created, _, err := f.events.CreateIfNotExists(&models.WebhookEvent{ProviderEventID: "evt_1"})
	require.NoError(t, err)
	assert.True(t, created, "a rejected delivery must leave no state")
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	f := newProcessorFixture(t)
	payload := []byte(`{"event": nope`)

	status, err := f.processor.Handle(context.Background(), payload, sign(payload), "evt_1")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Error(t, err)
}

func TestHandleChargedEventRenews(t *testing.T) {
	f := newProcessorFixture(t)
	f.activateSubscription(t, plans.PlanPro)
	future := time.Now().AddDate(0, 1, 0)
	require.NoError(t, f.users.ReplaceCredits(f.user.ID, 42, 500, &future))

	start := time.Now().AddDate(0, 1, 0).Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	f.gateway.subscription = &billing.Subscription{
		ID: "sub_123", PlanID: "plan_pro_test", Status: "active",
		CurrentPeriodStart: &start, CurrentPeriodEnd: &end,
	}

	payload := chargedPayload("sub_123")
	status, err := f.processor.Handle(context.Background(), payload, sign(payload), "evt_charge_1")
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)

	user, err := f.users.GetByID(f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), user.Credits)

	sub, err := f.subs.GetByUserID(f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, sub.CurrentPeriodEnd.Equal(end))
}

func TestHandleCancelledEventExpires(t *testing.T) {
	f := newProcessorFixture(t)
	f.activateSubscription(t, plans.PlanPro)

	payload := cancelledPayload("sub_123")
	status, err := f.processor.Handle(context.Background(), payload, sign(payload), "evt_cancel_1")
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)

	sub, err := f.subs.GetByUserID(f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
}

func TestHandleDuplicateEventID(t *testing.T) {
	f := newProcessorFixture(t)
	f.activateSubscription(t, plans.PlanPro)

	start := time.Now().AddDate(0, 1, 0).Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	f.gateway.subscription = &billing.Subscription{
		ID: "sub_123", PlanID: "plan_pro_test", Status: "active",
		CurrentPeriodStart: &start, CurrentPeriodEnd: &end,
	}

	payload := chargedPayload("sub_123")
	status, err := f.processor.Handle(context.Background(), payload, sign(payload), "evt_charge_1")
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, status)

	require.NoError(t, f.ledger.Deduct(context.Background(), f.user.ID, 100))

	// redelivery of the exact same event
	status, err = f.processor.Handle(context.Background(), payload, sign(payload), "evt_charge_1")
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)

	user, err := f.users.GetByID(f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), user.Credits, "a duplicate delivery must not reprocess the event")
}

func TestHandleRedeliveryAfterFailureReprocesses(t *testing.T) {
	f := newProcessorFixture(t)
	f.activateSubscription(t, plans.PlanPro)
	future := time.Now().AddDate(0, 1, 0)
	require.NoError(t, f.users.ReplaceCredits(f.user.ID, 42, 500, &future))

	seen := map[string]bool{}
	f.processor.WithDeduper(Deduper{
		Seen: func(ctx context.Context, key string) (bool, error) {
			return seen[key], nil
		},
		MarkSeen: func(ctx context.Context, key string, ttl time.Duration) error {
			seen[key] = true
			return nil
		},
	})

	start := time.Now().AddDate(0, 1, 0).Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	f.gateway.subscription = &billing.Subscription{
		ID: "sub_123", PlanID: "plan_pro_test", Status: "active",
		CurrentPeriodStart: &start, CurrentPeriodEnd: &end,
	}

	f.gateway.getErr = fmt.Errorf("gateway timeout")
	payload := chargedPayload("sub_123")
	status, err := f.processor.Handle(context.Background(), payload, sign(payload), "evt_charge_1")
	require.Error(t, err)
	require.Equal(t, fiber.StatusInternalServerError, status)
	assert.Empty(t, seen, "a failed delivery must not be recorded as seen")

	// the provider redelivers the identical event once the outage is over
	f.gateway.getErr = nil
	status, err = f.processor.Handle(context.Background(), payload, sign(payload), "evt_charge_1")
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)

	user, err := f.users.GetByID(f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), user.Credits, "the redelivery must apply the renewal")

	sub, err := f.subs.GetByUserID(f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, sub.CurrentPeriodEnd.Equal(end))
	assert.True(t, seen["webhook:seen:evt_charge_1"], "success on retry records the event as seen")
}

func TestHandleMissingEventIDFallsBackToPayloadHash(t *testing.T) {
	f := newProcessorFixture(t)
	f.activateSubscription(t, plans.PlanPro)

	payload := cancelledPayload("sub_123")
	status, err := f.processor.Handle(context.Background(), payload, sign(payload), "")
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, status)

	// identical body, still no event id header
	status, err = f.processor.Handle(context.Background(), payload, sign(payload), "")
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)

	sum := sha256.Sum256(payload)
	created, _, err := f.events.CreateIfNotExists(&models.WebhookEvent{ProviderEventID: "hash:" + hex.EncodeToString(sum[:])})
	require.NoError(t, err)
	assert.False(t, created, "the payload hash is used as the dedup key")
}

func TestHandleUnknownEventTypeIsAcknowledged(t *testing.T) {
	f := newProcessorFixture(t)

	payload := []byte(`{"event":"subscription.paused","payload":{"subscription":{"entity":{"id":"sub_123"}}}}`)
	status, err := f.processor.Handle(context.Background(), payload, sign(payload), "evt_pause_1")
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestHandleUnknownSubscriptionIsAcknowledged(t *testing.T) {
	f := newProcessorFixture(t)

	payload := cancelledPayload("sub_unknown")
	status, err := f.processor.Handle(context.Background(), payload, sign(payload), "evt_cancel_1")
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status, "events for unknown subscriptions are acknowledged, retrying cannot help")
}

func TestHandleDeduperFastPath(t *testing.T) {
	f := newProcessorFixture(t)
	f.activateSubscription(t, plans.PlanPro)

	seen := map[string]bool{}
	f.processor.WithDeduper(Deduper{
		Seen: func(ctx context.Context, key string) (bool, error) {
			return seen[key], nil
		},
		MarkSeen: func(ctx context.Context, key string, ttl time.Duration) error {
			seen[key] = true
			return nil
		},
	})

	payload := cancelledPayload("sub_123")
	status, err := f.processor.Handle(context.Background(), payload, sign(payload), "evt_1")
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, status)
	assert.True(t, seen["webhook:seen:evt_1"], "a processed delivery is recorded in the cache")

	status, err = f.processor.Handle(context.Background(), payload, sign(payload), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)

	// the second delivery was answered from the cache, before the database
	created, _, err := f.events.CreateIfNotExists(&models.WebhookEvent{ProviderEventID: "evt_1"})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestHandleDeduperFailureDoesNotBlockProcessing(t *testing.T) {
	f := newProcessorFixture(t)
	f.activateSubscription(t, plans.PlanPro)

	f.processor.WithDeduper(Deduper{
		Seen: func(ctx context.Context, key string) (bool, error) {
			return false, fmt.Errorf("redis: connection refused")
		},
		MarkSeen: func(ctx context.Context, key string, ttl time.Duration) error {
			return fmt.Errorf("redis: connection refused")
		},
	})

	payload := cancelledPayload("sub_123")
	status, err := f.processor.Handle(context.Background(), payload, sign(payload), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)

	sub, err := f.subs.GetByUserID(f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
}

type channelArchiver struct {
	got chan string
}

func (a *channelArchiver) ArchivePayload(ctx context.Context, eventID string, payload []byte) error {
	a.got <- eventID
	return nil
}

func TestHandleArchivesPayload(t *testing.T) {
	f := newProcessorFixture(t)
	f.activateSubscription(t, plans.PlanPro)

	archiver := &channelArchiver{got: make(chan string, 1)}
	f.processor.WithArchiver(archiver)

	payload := cancelledPayload("sub_123")
	status, err := f.processor.Handle(context.Background(), payload, sign(payload), "evt_1")
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, status)

	select {
	case id := <-archiver.got:
		assert.Equal(t, "evt_1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the payload to be archived")
	}
}
