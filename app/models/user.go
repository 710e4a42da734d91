package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	STATUS_ACTIVE   = "active"
	STATUS_DISABLED = "disabled"
)

// User is the identity anchor for billing and metering. Identity itself is
// owned by the upstream auth layer; we only store the opaque auth id it hands
// us, plus the embedded credit account. Users are created on first
// authenticated access and never deleted by this service.
type User struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	AuthID string `gorm:"uniqueIndex;type:varchar(191)" json:"auth_id" validate:"required,max=191"`
	Email  string `gorm:"index;type:varchar(200)" json:"email" validate:"omitempty,email,max=200"`
	Name   string `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Status string `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active disabled"`

	// Credit account. Credits never goes below zero; both counters are
	// mutated only through conditional updates in the repository layer.
	Credits            int64      `gorm:"not null;default:0" json:"credits"`
	MonthlyLimit       int64      `gorm:"not null;default:0" json:"monthly_limit"`
	ResetAt            *time.Time `gorm:"type:timestamp;default:null" json:"reset_at,omitempty"`
	ProviderCustomerID string     `gorm:"type:varchar(191);default:''" json:"-"`
	// Drained in batches from the Redis consumption counters; approximate
	// until the next flush.
	LifetimeCreditsUsed int64 `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NewUser builds a user record for a first-time authenticated visitor. The
// credit account starts empty; the first entitlement sync fills it from the
// basic plan.
func NewUser(authID, email, name string) (*User, error) {
	u := &User{
		AuthID: authID,
		Email:  email,
		Name:   name,
		Status: STATUS_ACTIVE,
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}

	return u, nil
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

// ResetDue reports whether the credit account is due for a periodic reset.
func (u *User) ResetDue(now time.Time) bool {
	return u.ResetAt == nil || !now.Before(*u.ResetAt)
}
