package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type transition struct {
	action    Action
	by        uuid.UUID
	oldStatus Status
	newStatus Status
	oldStart  time.Time
	newStart  time.Time
	reason    string
}

// record appends one history row. Zero-valued fields are stored as NULL.
func record(ctx context.Context, tx Tx, bookingID uuid.UUID, t transition, at time.Time) error {
	h := &HistoryEntry{
		BookingID: bookingID,
		Action:    t.action,
		Reason:    t.reason,
		CreatedAt: at,
	}
	if t.by != uuid.Nil {
		by := t.by
		h.PerformedBy = &by
	}
	if t.oldStatus != "" {
		s := t.oldStatus
		h.OldStatus = &s
	}
	if t.newStatus != "" {
		s := t.newStatus
		h.NewStatus = &s
	}
	if !t.oldStart.IsZero() {
		ts := t.oldStart
		h.OldStartTime = &ts
	}
	if !t.newStart.IsZero() {
		ts := t.newStart
		h.NewStartTime = &ts
	}

	if err := tx.AppendHistory(ctx, h); err != nil {
		return fmt.Errorf("append %s history: %w", t.action, err)
	}
	return nil
}
