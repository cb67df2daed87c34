package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/schedule"
)

// Reader holds the lookups shared by pooled (non-locking) reads and open
// transactions.
type Reader interface {
	schedule.Source

	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetAppointmentType(ctx context.Context, id uuid.UUID) (*AppointmentType, error)
	GetProvider(ctx context.Context, ref schedule.ProviderRef) (*Provider, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)

	// ListOverlapping returns active bookings of the provider whose interval
	// overlaps [start, end). excludeID, when not uuid.Nil, is left out.
	ListOverlapping(ctx context.Context, ref schedule.ProviderRef, start, end time.Time, excludeID uuid.UUID) ([]Booking, error)
}

// Tx is one open transaction. Lock* methods take row locks that are held
// until commit or rollback.
type Tx interface {
	Reader

	// LockAppointmentType and LockProvider take shared row locks so the
	// definitions cannot change under an in-flight booking.
	LockAppointmentType(ctx context.Context, id uuid.UUID) (*AppointmentType, error)
	LockProvider(ctx context.Context, ref schedule.ProviderRef) (*Provider, error)

	// LockProviderDay serializes capacity decisions for one provider and
	// calendar day. Unrelated provider/day pairs never contend.
	LockProviderDay(ctx context.Context, ref schedule.ProviderRef, date time.Time) error

	LockOverlapping(ctx context.Context, ref schedule.ProviderRef, start, end time.Time, excludeID uuid.UUID) ([]Booking, error)
	LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	LockPayment(ctx context.Context, bookingID uuid.UUID) (*Payment, error)

	InsertBooking(ctx context.Context, b *Booking) error
	UpdateBooking(ctx context.Context, b *Booking) error
	InsertPayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
	AppendHistory(ctx context.Context, h *HistoryEntry) error
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	Reader

	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetPayment(ctx context.Context, bookingID uuid.UUID) (*Payment, error)
	GetBookingByPaymentIntent(ctx context.Context, intentID string) (*Booking, error)
	ListHistory(ctx context.Context, bookingID uuid.UUID) ([]HistoryEntry, error)
	ListBookings(ctx context.Context, f BookingFilter) ([]Booking, error)

	// FindElapsedConfirmed returns confirmed bookings that ended at or before now.
	FindElapsedConfirmed(ctx context.Context, now time.Time, limit int) ([]Booking, error)
}
