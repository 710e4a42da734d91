package models

import "time"

const (
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
)

// Subscription mirrors a provider subscription for a user and maps it to an
// internal plan. One row per user; kept for audit, never hard-deleted. A user
// without a row is on the free plan ("none" state).
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	PlanSlug               string     `gorm:"type:varchar(50);not null;default:'basic'" json:"plan_slug"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_subscription_id"`
	ProviderPlanID         string     `gorm:"type:varchar(191);not null;default:''" json:"provider_plan_id"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the subscription currently entitles the user.
// A cancel-at-period-end subscription stays active until the period passes
// and a provider event or sync flips it to cancelled.
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == SubscriptionStatusActive
}
