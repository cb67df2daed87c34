package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/booking-engine/internal/schedule"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Active bookings count against capacity.
func (s Status) Active() bool {
	return s != StatusCancelled
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentSuccess  PaymentStatus = "SUCCESS"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type Role string

const (
	RoleCustomer  Role = "customer"
	RoleOrganizer Role = "organizer"
)

type User struct {
	ID       uuid.UUID
	Name     string
	Email    string
	Role     Role
	IsActive bool
}

type Provider struct {
	Ref         schedule.ProviderRef
	OrganizerID uuid.UUID
	Name        string
	IsActive    bool
}

type Question struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

type CancellationPolicy struct {
	ID                        uuid.UUID
	AllowCancellation         bool
	CancellationDeadlineHours int
	RefundPercentage          decimal.Decimal
	CancellationFee           decimal.Decimal
	NoShowPolicy              string
}

type AppointmentType struct {
	ID                       uuid.UUID
	OrganizerID              uuid.UUID
	Name                     string
	DurationMinutes          int
	MaxBookingsPerSlot       int
	BufferMinutes            int
	MinAdvanceBookingMinutes int
	MaxAdvanceBookingDays    int
	RequiresPayment          bool
	ManualConfirmation       bool
	Price                    decimal.Decimal
	Currency                 string
	Questions                []Question
	Policy                   *CancellationPolicy
	IsActive                 bool
}

func (t *AppointmentType) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

func (t *AppointmentType) Buffer() time.Duration {
	return time.Duration(t.BufferMinutes) * time.Minute
}

func (t *AppointmentType) capacity() int {
	if t.MaxBookingsPerSlot <= 0 {
		return 1
	}
	return t.MaxBookingsPerSlot
}

// initialStatus is PENDING whenever payment or organizer approval is outstanding.
func (t *AppointmentType) initialStatus() Status {
	if t.RequiresPayment || t.ManualConfirmation {
		return StatusPending
	}
	return StatusConfirmed
}

type Booking struct {
	ID                 uuid.UUID
	AppointmentTypeID  uuid.UUID
	CustomerID         uuid.UUID
	Provider           schedule.ProviderRef
	Date               time.Time
	StartTime          time.Time
	EndTime            time.Time
	Status             Status
	Capacity           int
	Answers            map[string]string
	Notes              string
	CancellationReason string
	CancelledBy        *uuid.UUID
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (b *Booking) Slot() schedule.Slot {
	return schedule.Slot{Start: b.StartTime, End: b.EndTime}
}

type Payment struct {
	ID                    uuid.UUID
	BookingID             uuid.UUID
	Amount                decimal.Decimal
	Currency              string
	Status                PaymentStatus
	IntentID              string
	ExternalTransactionID string
	RefundAmount          *decimal.Decimal
	RefundReason          string
	RefundedAt            *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Action string

const (
	ActionCreated          Action = "CREATED"
	ActionPaymentConfirmed Action = "PAYMENT_CONFIRMED"
	ActionApproved         Action = "APPROVED"
	ActionRejected         Action = "REJECTED"
	ActionCancelled        Action = "CANCELLED"
	ActionRescheduled      Action = "RESCHEDULED"
	ActionCompleted        Action = "COMPLETED"
)

// HistoryEntry is one append-only audit row.
type HistoryEntry struct {
	ID           int64
	BookingID    uuid.UUID
	Action       Action
	PerformedBy  *uuid.UUID
	OldStatus    *Status
	NewStatus    *Status
	OldStartTime *time.Time
	NewStartTime *time.Time
	Reason       string
	CreatedAt    time.Time
}

// SlotAvailability is a candidate slot annotated for display.
type SlotAvailability struct {
	schedule.Slot
	Available         bool `json:"available"`
	RemainingCapacity int  `json:"remaining_capacity"`
}

type CapacityResult struct {
	Available         bool
	RemainingCapacity int
}

type RefundResult struct {
	Booking          *Booking
	RefundAmount     decimal.Decimal
	RefundPercentage decimal.Decimal
}

// BookingFilter selects bookings for listing. Nil fields are not filtered.
type BookingFilter struct {
	CustomerID *uuid.UUID
	Provider   *schedule.ProviderRef
	Status     *Status
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}
