package repo

import (
	"context"
	"testing"
	"time"
)

func TestSeenMessage_WindowAndRefresh(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	seen, err := SeenMessage(ctx, db, "wamid.1", time.Now())
	if err != nil || seen {
		t.Fatalf("fresh id: seen=%v err=%v", seen, err)
	}

	if err := MarkMessageProcessed(ctx, db, "wamid.1", "t-1", time.Hour); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if seen, _ = SeenMessage(ctx, db, "wamid.1", time.Now()); !seen {
		t.Fatalf("expected seen inside window")
	}

	// Past the window the same id reads as unseen again.
	if seen, _ = SeenMessage(ctx, db, "wamid.1", time.Now().Add(2*time.Hour)); seen {
		t.Fatalf("expected unseen after expiry")
	}

	// Re-marking an existing id refreshes the window, not a conflict.
	if err := MarkMessageProcessed(ctx, db, "wamid.1", "t-1", 3*time.Hour); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if seen, _ = SeenMessage(ctx, db, "wamid.1", time.Now().Add(2*time.Hour)); !seen {
		t.Fatalf("expected window refreshed")
	}
}

func TestPurgeExpiredMessages(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	if err := MarkMessageProcessed(ctx, db, "wamid.old", "t-1", time.Minute); err != nil {
		t.Fatalf("mark old: %v", err)
	}
	if err := MarkMessageProcessed(ctx, db, "wamid.new", "t-1", time.Hour); err != nil {
		t.Fatalf("mark new: %v", err)
	}

	if err := PurgeExpiredMessages(ctx, db, time.Now().Add(30*time.Minute)); err != nil {
		t.Fatalf("purge: %v", err)
	}

	var count int64
	if err := db.Table("processed_messages").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("rows after purge = %d; want 1", count)
	}
}
