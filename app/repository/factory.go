package repository

import (
	"gorm.io/gorm"
)

// Repositories bundles all repository instances.
type Repositories struct {
	User         UserRepository
	Subscription SubscriptionRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates GORM-backed implementations for all repositories.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Subscription: NewSubscriptionRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
