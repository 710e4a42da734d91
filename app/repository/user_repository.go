package repository

import (
	"time"

	"github.com/inkwell-ai/inkwell/app/models"
	"gorm.io/gorm"
)

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a user repository backed by GORM.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByAuthID(authID string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("auth_id = ?", authID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) Update(user *models.User) error {
	return r.db.Save(user).Error
}

func (r *userRepository) SetProviderCustomerID(userID uint, customerID string) error {
	return r.db.Model(&models.User{}).
		Where("id = ?", userID).
		Update("provider_customer_id", customerID).Error
}

func (r *userRepository) DeductCredits(userID uint, amount int64) (bool, error) {
	res := r.db.Model(&models.User{}).
		Where("id = ? AND credits >= ?", userID, amount).
		UpdateColumn("credits", gorm.Expr("credits - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *userRepository) ApplyReset(userID uint, credits, limit int64, resetAt time.Time, prevResetAt *time.Time) (bool, error) {
	tx := r.db.Model(&models.User{})
	if prevResetAt == nil {
		tx = tx.Where("id = ? AND reset_at IS NULL", userID)
	} else {
		tx = tx.Where("id = ? AND reset_at = ?", userID, *prevResetAt)
	}
	res := tx.Updates(map[string]any{
		"credits":       credits,
		"monthly_limit": limit,
		"reset_at":      resetAt,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *userRepository) GrantCredits(userID uint, amount int64, resetAt *time.Time) error {
	updates := map[string]any{
		"credits":       gorm.Expr("credits + ?", amount),
		"monthly_limit": gorm.Expr("monthly_limit + ?", amount),
	}
	if resetAt != nil {
		updates["reset_at"] = *resetAt
	}
	return r.db.Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error
}

func (r *userRepository) ReplaceCredits(userID uint, credits, limit int64, resetAt *time.Time) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]any{
		"credits":       credits,
		"monthly_limit": limit,
		"reset_at":      resetAt,
	}).Error
}
