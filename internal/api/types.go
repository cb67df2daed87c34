package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/booking-engine/internal/booking"
)

type CheckCapacityRequest struct {
	AppointmentTypeID string `json:"appointment_type_id" validate:"required,uuid"`
	ProviderKind      string `json:"provider_kind" validate:"required,oneof=staff resource"`
	ProviderID        string `json:"provider_id" validate:"required,uuid"`
	Date              string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime         string `json:"start_time" validate:"required,datetime=15:04"`
	Capacity          int    `json:"capacity" validate:"omitempty,min=1"`
}

type CapacityResponse struct {
	Available         bool `json:"available"`
	RemainingCapacity int  `json:"remaining_capacity"`
}

type CreateBookingRequest struct {
	AppointmentTypeID string            `json:"appointment_type_id" validate:"required,uuid"`
	ProviderKind      string            `json:"provider_kind" validate:"required,oneof=staff resource"`
	ProviderID        string            `json:"provider_id" validate:"required,uuid"`
	Date              string            `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime         string            `json:"start_time" validate:"required,datetime=15:04"`
	Capacity          int               `json:"capacity" validate:"omitempty,min=1"`
	Answers           map[string]string `json:"answers"`
	Notes             string            `json:"notes" validate:"max=2000"`
}

type ConfirmPaymentRequest struct {
	TransactionID string `json:"transaction_id" validate:"required,max=255"`
}

type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type RescheduleRequest struct {
	Date         string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime    string `json:"start_time" validate:"required,datetime=15:04"`
	ProviderKind string `json:"provider_kind" validate:"omitempty,oneof=staff resource"`
	ProviderID   string `json:"provider_id" validate:"omitempty,uuid"`
	Reason       string `json:"reason" validate:"max=1000"`
}

type BookingResponse struct {
	ID                 uuid.UUID         `json:"id"`
	AppointmentTypeID  uuid.UUID         `json:"appointment_type_id"`
	CustomerID         uuid.UUID         `json:"customer_id"`
	ProviderKind       string            `json:"provider_kind"`
	ProviderID         uuid.UUID         `json:"provider_id"`
	Date               string            `json:"date"`
	StartTime          time.Time         `json:"start_time"`
	EndTime            time.Time         `json:"end_time"`
	Status             string            `json:"status"`
	Capacity           int               `json:"capacity"`
	Answers            map[string]string `json:"answers,omitempty"`
	Notes              string            `json:"notes,omitempty"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID        `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:                 b.ID,
		AppointmentTypeID:  b.AppointmentTypeID,
		CustomerID:         b.CustomerID,
		ProviderKind:       string(b.Provider.Kind),
		ProviderID:         b.Provider.ID,
		Date:               b.Date.Format(time.DateOnly),
		StartTime:          b.StartTime,
		EndTime:            b.EndTime,
		Status:             string(b.Status),
		Capacity:           b.Capacity,
		Answers:            b.Answers,
		Notes:              b.Notes,
		CancellationReason: b.CancellationReason,
		CancelledBy:        b.CancelledBy,
		CancelledAt:        b.CancelledAt,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
}

type CancelResponse struct {
	Booking          BookingResponse `json:"booking"`
	RefundAmount     decimal.Decimal `json:"refund_amount"`
	RefundPercentage decimal.Decimal `json:"refund_percentage"`
}

type PaymentResponse struct {
	ID                    uuid.UUID        `json:"id"`
	BookingID             uuid.UUID        `json:"booking_id"`
	Amount                decimal.Decimal  `json:"amount"`
	Currency              string           `json:"currency"`
	Status                string           `json:"status"`
	IntentID              string           `json:"intent_id"`
	ExternalTransactionID string           `json:"external_transaction_id,omitempty"`
	RefundAmount          *decimal.Decimal `json:"refund_amount,omitempty"`
	RefundReason          string           `json:"refund_reason,omitempty"`
	RefundedAt            *time.Time       `json:"refunded_at,omitempty"`
}

func toPaymentResponse(p *booking.Payment) PaymentResponse {
	return PaymentResponse{
		ID:                    p.ID,
		BookingID:             p.BookingID,
		Amount:                p.Amount,
		Currency:              p.Currency,
		Status:                string(p.Status),
		IntentID:              p.IntentID,
		ExternalTransactionID: p.ExternalTransactionID,
		RefundAmount:          p.RefundAmount,
		RefundReason:          p.RefundReason,
		RefundedAt:            p.RefundedAt,
	}
}

type HistoryResponse struct {
	ID           int64      `json:"id"`
	Action       string     `json:"action"`
	PerformedBy  *uuid.UUID `json:"performed_by,omitempty"`
	OldStatus    *string    `json:"old_status,omitempty"`
	NewStatus    *string    `json:"new_status,omitempty"`
	OldStartTime *time.Time `json:"old_start_time,omitempty"`
	NewStartTime *time.Time `json:"new_start_time,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func statusPtr(s *booking.Status) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func toHistoryResponse(h booking.HistoryEntry) HistoryResponse {
	return HistoryResponse{
		ID:           h.ID,
		Action:       string(h.Action),
		PerformedBy:  h.PerformedBy,
		OldStatus:    statusPtr(h.OldStatus),
		NewStatus:    statusPtr(h.NewStatus),
		OldStartTime: h.OldStartTime,
		NewStartTime: h.NewStartTime,
		Reason:       h.Reason,
		CreatedAt:    h.CreatedAt,
	}
}

type AvailabilityResponse struct {
	Date              string                     `json:"date"`
	AppointmentTypeID uuid.UUID                  `json:"appointment_type_id"`
	Slots             []booking.SlotAvailability `json:"slots"`
}
