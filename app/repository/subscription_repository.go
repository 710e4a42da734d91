package repository

import (
	"time"

	"github.com/inkwell-ai/inkwell/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a subscription repository backed by GORM.
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Upsert(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_slug",
			"provider_subscription_id",
			"provider_plan_id",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("user_id = ?", sub.UserID).First(sub).Error
}

func (r *subscriptionRepository) UpsertActivation(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_slug",
			"provider_subscription_id",
			"provider_plan_id",
			"status",
			"cancel_at_period_end",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	return r.db.Where("user_id = ?", sub.UserID).First(sub).Error
}

func (r *subscriptionRepository) Save(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *subscriptionRepository) GetByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByProviderSubscriptionID(providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("provider_subscription_id = ?", providerSubscriptionID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) AdvancePeriod(providerSubscriptionID string, start, end time.Time) (bool, error) {
	res := r.db.Model(&models.Subscription{}).
		Where("provider_subscription_id = ? AND (current_period_end IS NULL OR current_period_end < ?)",
			providerSubscriptionID, end).
		Updates(map[string]any{
			"status":               models.SubscriptionStatusActive,
			"current_period_start": start,
			"current_period_end":   end,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *subscriptionRepository) MarkCancelled(providerSubscriptionID string) (bool, error) {
	res := r.db.Model(&models.Subscription{}).
		Where("provider_subscription_id = ? AND status <> ?",
			providerSubscriptionID, models.SubscriptionStatusCancelled).
		Updates(map[string]any{
			"status":               models.SubscriptionStatusCancelled,
			"cancel_at_period_end": false,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
