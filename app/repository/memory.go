package repository

import (
	"sync"
	"time"

	"github.com/inkwell-ai/inkwell/app/models"
	"gorm.io/gorm"
)

// In-memory repository implementations with the same conditional-update
// semantics as the GORM ones. Used by service tests (including the
// concurrency tests, which need real goroutine races against real
// compare-and-set behavior) and by local development without a database.

type MemoryUserRepository struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]*models.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{nextID: 1, users: make(map[uint]*models.User)}
}

func (r *MemoryUserRepository) Create(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.ID = r.nextID
	r.nextID++
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *MemoryUserRepository) GetByID(id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryUserRepository) GetByAuthID(authID string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.AuthID == authID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *MemoryUserRepository) Update(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *MemoryUserRepository) SetProviderCustomerID(userID uint, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.ProviderCustomerID = customerID
	return nil
}

func (r *MemoryUserRepository) DeductCredits(userID uint, amount int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok || u.Credits < amount {
		return false, nil
	}
	u.Credits -= amount
	return true, nil
}

func (r *MemoryUserRepository) ApplyReset(userID uint, credits, limit int64, resetAt time.Time, prevResetAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return false, nil
	}
	switch {
	case prevResetAt == nil && u.ResetAt != nil:
		return false, nil
	case prevResetAt != nil && (u.ResetAt == nil || !u.ResetAt.Equal(*prevResetAt)):
		return false, nil
	}
	u.Credits = credits
	u.MonthlyLimit = limit
	t := resetAt
	u.ResetAt = &t
	return true, nil
}

func (r *MemoryUserRepository) GrantCredits(userID uint, amount int64, resetAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.Credits += amount
	u.MonthlyLimit += amount
	if resetAt != nil {
		t := *resetAt
		u.ResetAt = &t
	}
	return nil
}

func (r *MemoryUserRepository) ReplaceCredits(userID uint, credits, limit int64, resetAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.Credits = credits
	u.MonthlyLimit = limit
	if resetAt != nil {
		t := *resetAt
		u.ResetAt = &t
	} else {
		u.ResetAt = nil
	}
	return nil
}

type MemorySubscriptionRepository struct {
	mu     sync.Mutex
	nextID uint
	subs   map[uint]*models.Subscription // keyed by user id
}

func NewMemorySubscriptionRepository() *MemorySubscriptionRepository {
	return &MemorySubscriptionRepository{nextID: 1, subs: make(map[uint]*models.Subscription)}
}

func (r *MemorySubscriptionRepository) Upsert(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.subs[sub.UserID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.ID = r.nextID
		r.nextID++
	}
	cp := *sub
	r.subs[sub.UserID] = &cp
	return nil
}

func (r *MemorySubscriptionRepository) UpsertActivation(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.subs[sub.UserID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
		sub.CurrentPeriodStart = existing.CurrentPeriodStart
		sub.CurrentPeriodEnd = existing.CurrentPeriodEnd
	} else {
		sub.ID = r.nextID
		r.nextID++
	}
	cp := *sub
	r.subs[sub.UserID] = &cp
	return nil
}

func (r *MemorySubscriptionRepository) Save(sub *models.Subscription) error {
	return r.Upsert(sub)
}

func (r *MemorySubscriptionRepository) GetByUserID(userID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemorySubscriptionRepository) GetByProviderSubscriptionID(providerSubscriptionID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.ProviderSubscriptionID == providerSubscriptionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *MemorySubscriptionRepository) AdvancePeriod(providerSubscriptionID string, start, end time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.ProviderSubscriptionID != providerSubscriptionID {
			continue
		}
		if s.CurrentPeriodEnd != nil && !s.CurrentPeriodEnd.Before(end) {
			return false, nil
		}
		st, en := start, end
		s.Status = models.SubscriptionStatusActive
		s.CurrentPeriodStart = &st
		s.CurrentPeriodEnd = &en
		return true, nil
	}
	return false, nil
}

func (r *MemorySubscriptionRepository) MarkCancelled(providerSubscriptionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.ProviderSubscriptionID != providerSubscriptionID {
			continue
		}
		if s.Status == models.SubscriptionStatusCancelled {
			return false, nil
		}
		s.Status = models.SubscriptionStatusCancelled
		s.CancelAtPeriodEnd = false
		return true, nil
	}
	return false, nil
}

type MemoryWebhookEventRepository struct {
	mu     sync.Mutex
	nextID uint
	events map[string]*models.WebhookEvent
}

func NewMemoryWebhookEventRepository() *MemoryWebhookEventRepository {
	return &MemoryWebhookEventRepository{nextID: 1, events: make(map[string]*models.WebhookEvent)}
}

func (r *MemoryWebhookEventRepository) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.events[event.ProviderEventID]; ok {
		cp := *stored
		return false, &cp, nil
	}
	event.ID = r.nextID
	r.nextID++
	cp := *event
	r.events[event.ProviderEventID] = &cp
	out := cp
	return true, &out, nil
}

func (r *MemoryWebhookEventRepository) MarkProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, e := range r.events {
		if e.ID == id {
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}
