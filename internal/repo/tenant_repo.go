package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendra-ai/go-agent-backend/internal/domain"
)

// GetTenant fetches a tenant by ID, or ErrNotFound.
func GetTenant(ctx context.Context, db *gorm.DB, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	if err := db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTenant inserts a new tenant. Tier and status default at the DB layer
// when left empty.
func CreateTenant(ctx context.Context, db *gorm.DB, name, email string) (*domain.Tenant, error) {
	t := &domain.Tenant{
		ID:                 uuid.NewString(),
		Name:               name,
		Email:              email,
		SubscriptionTier:   domain.TierStarter,
		SubscriptionStatus: domain.SubscriptionPending,
		CreatedAt:          time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// SetSubscriptionStatus updates a tenant's subscription status, typically
// driven by the external billing webhook. Returns ErrNotFound when the
// tenant does not exist.
func SetSubscriptionStatus(ctx context.Context, db *gorm.DB, tenantID, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.Tenant{}).
		Where("id = ?", tenantID).
		Update("subscription_status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateTenantSettings replaces the free-form settings JSON blob.
func UpdateTenantSettings(ctx context.Context, db *gorm.DB, tenantID, settingsJSON string) error {
	res := db.WithContext(ctx).
		Model(&domain.Tenant{}).
		Where("id = ?", tenantID).
		Update("settings", settingsJSON)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
