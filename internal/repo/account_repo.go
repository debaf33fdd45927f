// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ChannelAccount model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When an account is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vendra-ai/go-agent-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// FindActiveAccount fetches the single active ChannelAccount for a
// phone-number ID, or ErrNotFound if none is active. The tenant association
// is preloaded so the caller can gate on subscription status without another
// query.
func FindActiveAccount(ctx context.Context, db *gorm.DB, phoneNumberID string) (*domain.ChannelAccount, error) {
	var acc domain.ChannelAccount
	err := db.WithContext(ctx).
		Preload("Tenant").
		Where("phone_number_id = ? AND status = ?", phoneNumberID, domain.AccountActive).
		Order("updated_at desc").
		First(&acc).Error
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// GetActiveAccountForTenant re-reads the active account row for a known
// (tenantID, phoneNumberID) pair, primarily so callers get the current
// encrypted token. ErrNotFound when the row is gone or no longer active.
func GetActiveAccountForTenant(ctx context.Context, db *gorm.DB, tenantID, phoneNumberID string) (*domain.ChannelAccount, error) {
	var acc domain.ChannelAccount
	err := db.WithContext(ctx).
		Preload("Tenant").
		Where("tenant_id = ? AND phone_number_id = ? AND status = ?", tenantID, phoneNumberID, domain.AccountActive).
		First(&acc).Error
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// FindAccountByTenant fetches a tenant's account row regardless of status,
// most recently updated first. Used by the provisioning flow.
func FindAccountByTenant(ctx context.Context, db *gorm.DB, tenantID string) (*domain.ChannelAccount, error) {
	var acc domain.ChannelAccount
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("updated_at desc").
		First(&acc).Error
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// FindActiveAccountByTenant fetches a tenant's active account row with the
// tenant association preloaded, or ErrNotFound when the tenant has no
// connected number. Used by outbound paths keyed on the tenant (campaigns).
func FindActiveAccountByTenant(ctx context.Context, db *gorm.DB, tenantID string) (*domain.ChannelAccount, error) {
	var acc domain.ChannelAccount
	err := db.WithContext(ctx).
		Preload("Tenant").
		Where("tenant_id = ? AND status = ?", tenantID, domain.AccountActive).
		Order("updated_at desc").
		First(&acc).Error
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// UpsertChannelAccount activates an account row for (tenantID, phoneNumberID)
// with the given encrypted token, updating the existing row when one exists
// and inserting otherwise. Any other rows claiming the same phone-number ID
// are demoted to inactive first, preserving the "at most one active account
// per phone-number ID" invariant by query-then-write (last write wins for the
// rare concurrent-onboarding race).
func UpsertChannelAccount(ctx context.Context, db *gorm.DB, tenantID, wabaID, phoneNumberID, displayNumber, tokenEnc string) (*domain.ChannelAccount, error) {
	now := time.Now().UTC()

	// Demote competing claims on the same inbound lookup key.
	if err := db.WithContext(ctx).
		Model(&domain.ChannelAccount{}).
		Where("phone_number_id = ? AND tenant_id <> ? AND status = ?", phoneNumberID, tenantID, domain.AccountActive).
		Update("status", domain.AccountInactive).Error; err != nil {
		return nil, err
	}

	var acc domain.ChannelAccount
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND phone_number_id = ?", tenantID, phoneNumberID).
		First(&acc).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"waba_id":          wabaID,
			"display_number":   displayNumber,
			"access_token_enc": tokenEnc,
			"status":           domain.AccountActive,
			"connected_at":     &now,
		}
		if err := db.WithContext(ctx).Model(&acc).Updates(updates).Error; err != nil {
			return nil, err
		}
		acc.WABAID = wabaID
		acc.DisplayNumber = displayNumber
		acc.AccessTokenEnc = tokenEnc
		acc.Status = domain.AccountActive
		acc.ConnectedAt = &now
		return &acc, nil
	case err == gorm.ErrRecordNotFound:
		acc = domain.ChannelAccount{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			WABAID:         wabaID,
			PhoneNumberID:  phoneNumberID,
			DisplayNumber:  displayNumber,
			AccessTokenEnc: tokenEnc,
			Status:         domain.AccountActive,
			ConnectedAt:    &now,
			CreatedAt:      now,
		}
		if err := db.WithContext(ctx).Create(&acc).Error; err != nil {
			return nil, err
		}
		return &acc, nil
	default:
		return nil, err
	}
}

// SetAccountStatus transitions an account's status. Returns ErrNotFound when
// the row does not exist.
func SetAccountStatus(ctx context.Context, db *gorm.DB, accountID, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.ChannelAccount{}).
		Where("id = ?", accountID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
