package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/vendra-ai/go-agent-backend/internal/domain"
)

// SeenMessage reports whether an inbound message ID was already processed
// and is still within its dedup window. Expired rows read as unseen.
func SeenMessage(ctx context.Context, db *gorm.DB, messageID string, now time.Time) (bool, error) {
	var rec domain.ProcessedMessage
	err := db.WithContext(ctx).
		Where("message_id = ? AND expires_at > ?", messageID, now).
		First(&rec).Error
	switch {
	case err == nil:
		return true, nil
	case err == gorm.ErrRecordNotFound:
		return false, nil
	default:
		return false, err
	}
}

// MarkMessageProcessed records a handled inbound message ID for ttl.
// An existing row (redelivery racing the first handler) is refreshed
// rather than treated as a conflict.
func MarkMessageProcessed(ctx context.Context, db *gorm.DB, messageID, tenantID string, ttl time.Duration) error {
	now := time.Now().UTC()
	rec := domain.ProcessedMessage{
		MessageID: messageID,
		TenantID:  tenantID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	err := db.WithContext(ctx).Create(&rec).Error
	if err == nil {
		return nil
	}
	// Primary-key collision: refresh the window instead of failing.
	return db.WithContext(ctx).
		Model(&domain.ProcessedMessage{}).
		Where("message_id = ?", messageID).
		Update("expires_at", rec.ExpiresAt).Error
}

// PurgeExpiredMessages deletes dedup rows whose window has passed. Called
// opportunistically by the inbound service; missing a purge only costs disk.
func PurgeExpiredMessages(ctx context.Context, db *gorm.DB, now time.Time) error {
	return db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.ProcessedMessage{}).Error
}
