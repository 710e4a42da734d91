package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionIsActive(t *testing.T) {
	var nilSub *Subscription
	assert.False(t, nilSub.IsActive())

	assert.False(t, (&Subscription{Status: SubscriptionStatusPending}).IsActive())
	assert.True(t, (&Subscription{Status: SubscriptionStatusActive}).IsActive())
	assert.True(t, (&Subscription{Status: SubscriptionStatusActive, CancelAtPeriodEnd: true}).IsActive())
	assert.False(t, (&Subscription{Status: SubscriptionStatusCancelled}).IsActive())
}

func TestUserResetDue(t *testing.T) {
	now := time.Now()

	fresh := &User{}
	assert.True(t, fresh.ResetDue(now), "a user without a reset marker is always due")

	future := now.AddDate(0, 1, 0)
	assert.False(t, (&User{ResetAt: &future}).ResetDue(now))

	past := now.AddDate(0, -1, 0)
	assert.True(t, (&User{ResetAt: &past}).ResetDue(now))
	assert.True(t, (&User{ResetAt: &now}).ResetDue(now), "the boundary instant counts as due")
}
