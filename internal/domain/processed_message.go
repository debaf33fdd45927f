package domain

import "time"

// ProcessedMessage records an inbound WhatsApp message ID that has already
// been handled. The provider redelivers webhook events on slow or failed
// acknowledgements, so the inbound pipeline consults this table before acting.
//
// Rows expire after a TTL and are evicted lazily by the lookup query; a
// redelivery after expiry is tolerated (the agent layer is conversation-state
// driven and a late duplicate degrades to a no-op reply).
type ProcessedMessage struct {
	MessageID string    `json:"message_id" gorm:"type:varchar(128);primaryKey"`
	TenantID  string    `json:"tenant_id"  gorm:"type:char(36);not null;index"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ProcessedMessage.
func (ProcessedMessage) TableName() string { return "processed_messages" }
