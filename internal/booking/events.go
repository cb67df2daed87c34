package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/schedule"
)

type EventType string

const (
	EventBookingCreated     EventType = "booking.created"
	EventBookingConfirmed   EventType = "booking.confirmed"
	EventBookingCancelled   EventType = "booking.cancelled"
	EventBookingRescheduled EventType = "booking.rescheduled"
	EventBookingCompleted   EventType = "booking.completed"
)

// Event is handed to the Notifier after the producing transaction commits.
type Event struct {
	ID                uuid.UUID `json:"id"`
	Type              EventType `json:"type"`
	BookingID         uuid.UUID `json:"booking_id"`
	AppointmentTypeID uuid.UUID `json:"appointment_type_id"`
	CustomerID        uuid.UUID `json:"customer_id"`
	ProviderKind      string    `json:"provider_kind"`
	ProviderID        uuid.UUID `json:"provider_id"`
	Status            Status    `json:"status"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	Reason            string    `json:"reason,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

func newEvent(t EventType, b *Booking, reason string, at time.Time) Event {
	return Event{
		ID:                uuid.New(),
		Type:              t,
		BookingID:         b.ID,
		AppointmentTypeID: b.AppointmentTypeID,
		CustomerID:        b.CustomerID,
		ProviderKind:      string(b.Provider.Kind),
		ProviderID:        b.Provider.ID,
		Status:            b.Status,
		StartTime:         b.StartTime,
		EndTime:           b.EndTime,
		Reason:            reason,
		OccurredAt:        at,
	}
}

// Notifier delivers events best-effort. Publish must not block on delivery.
type Notifier interface {
	Publish(ev Event)
}

type noopNotifier struct{}

func (noopNotifier) Publish(Event) {}

// AvailabilityCache stores rendered availability for display reads.
//
// Get also returns the provider/day version it looked under. A caller that
// misses loads from the database and passes that version to Set, so an
// Invalidate landing in between orphans the write instead of hiding it.
type AvailabilityCache interface {
	Get(ctx context.Context, ref schedule.ProviderRef, date time.Time, typeID uuid.UUID) (data []byte, version int64, ok bool, err error)
	Set(ctx context.Context, ref schedule.ProviderRef, date time.Time, typeID uuid.UUID, version int64, data []byte) error
	Invalidate(ctx context.Context, ref schedule.ProviderRef, date time.Time) error
}
