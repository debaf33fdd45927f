// Package domain defines the persistence models for tenants and their
// connected WhatsApp accounts. These types are mapped with GORM and form
// the core data layer of the agent backend.
package domain

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Subscription status values. Outbound sends are gated on SubscriptionActive;
// inbound processing continues regardless.
const (
	SubscriptionPending  = "pending"
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// Subscription tiers. The messaging core never branches on the tier; it is
// carried for the billing/admin domain.
const (
	TierStarter    = "starter"
	TierGrowth     = "growth"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// Tenant represents one customer of the platform. The messaging core only
// reads ID and SubscriptionStatus; everything else is owned by the
// billing/admin domain.
type Tenant struct {
	ID                 string         `json:"id"                  gorm:"type:char(36);primaryKey"`
	Name               string         `json:"name"                gorm:"type:varchar(255);not null"`
	Email              string         `json:"email"               gorm:"type:varchar(255);not null"`
	SubscriptionTier   string         `json:"subscription_tier"   gorm:"type:varchar(16);not null;default:'starter';check:subscription_tier IN ('starter','growth','pro','enterprise')"`
	SubscriptionStatus string         `json:"subscription_status" gorm:"type:varchar(16);not null;default:'pending';check:subscription_status IN ('pending','active','past_due','canceled')"`
	Settings           string         `json:"-"                   gorm:"type:text"` // free-form JSON, see TenantSettings
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `json:"-"                   gorm:"index"`
}

// TableName returns the database table name for Tenant.
func (Tenant) TableName() string { return "tenants" }

// SubscriptionIsActive reports whether outbound sends are allowed for this
// tenant.
func (t Tenant) SubscriptionIsActive() bool {
	return t.SubscriptionStatus == SubscriptionActive
}

// TenantSettings is the typed view of the free-form Tenant.Settings JSON.
// All fields are optional; absence means "fall back to the global default"
// (calendar/payments) or "unconfigured" (operator phone).
type TenantSettings struct {
	// OperatorPhone receives human-escalation messages for this tenant.
	OperatorPhone string `json:"operator_phone,omitempty"`

	// Calendar credentials (Cal.com-style). Both must be set to take
	// precedence over the global default.
	CalendarAPIKey      string `json:"calendar_api_key,omitempty"`
	CalendarEventTypeID int    `json:"calendar_event_type_id,omitempty"`

	// Payment-link credentials.
	PaymentAPIKey  string `json:"payment_api_key,omitempty"`
	PaymentPriceID string `json:"payment_price_id,omitempty"`
}

// ParseSettings decodes the Settings JSON. A missing or malformed blob
// yields the zero value; per-tenant configuration is always optional.
func (t Tenant) ParseSettings() TenantSettings {
	var s TenantSettings
	if t.Settings == "" {
		return s
	}
	_ = json.Unmarshal([]byte(t.Settings), &s)
	return s
}

// ChannelAccount status values.
const (
	AccountPending  = "pending"
	AccountActive   = "active"
	AccountInactive = "inactive"
	AccountError    = "error"
)

// ChannelAccount is a tenant's connected WhatsApp Business number. The
// PhoneNumberID is the lookup key carried by inbound webhook events and must
// resolve to at most one active row; the write path enforces that invariant
// (see repo.UpsertChannelAccount).
//
// AccessTokenEnc holds the long-lived Graph API token encrypted with the
// credential vault. The plaintext token is never persisted or logged.
type ChannelAccount struct {
	ID             string         `json:"id"               gorm:"type:char(36);primaryKey"`
	TenantID       string         `json:"tenant_id"        gorm:"type:char(36);not null;index:idx_tenant_accounts"`
	WABAID         string         `json:"waba_id"          gorm:"column:waba_id;type:varchar(64)"`
	PhoneNumberID  string         `json:"phone_number_id"  gorm:"type:varchar(64);not null;index:idx_phone_number_id"`
	DisplayNumber  string         `json:"display_number"   gorm:"type:varchar(32)"`
	AccessTokenEnc string         `json:"-"                gorm:"type:text;not null"`
	Status         string         `json:"status"           gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','active','inactive','error')"`
	ConnectedAt    *time.Time     `json:"connected_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"                gorm:"index"`

	// Tenant is the owning customer. Accounts are cascade-deleted with it.
	Tenant Tenant `json:"-" gorm:"foreignKey:TenantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChannelAccount.
func (ChannelAccount) TableName() string { return "channel_accounts" }
