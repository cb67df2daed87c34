package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

// RefundAmount computes amount*percentage/100 - fee, floored at zero and
// rounded to cents.
func RefundAmount(amount, percentage, fee decimal.Decimal) decimal.Decimal {
	refund := amount.Mul(percentage).Div(hundred).Sub(fee)
	if refund.IsNegative() {
		return decimal.Zero
	}
	return refund.Round(2)
}

// CanCancel applies the customer-facing policy: cancellation must be allowed
// and strictly more than the deadline must remain before start.
func CanCancel(p *CancellationPolicy, start, now time.Time) error {
	if p == nil || !p.AllowCancellation {
		return ErrCancellationNotAllowed
	}
	hoursUntil := start.Sub(now).Hours()
	if hoursUntil <= float64(p.CancellationDeadlineHours) {
		return ErrDeadlinePassed
	}
	return nil
}

type cancelMode int

const (
	byCustomer cancelMode = iota
	byOrganizer
	rejection
)

// CancelBooking cancels on behalf of the customer or the organizer. The
// organizer bypasses the policy and refunds in full.
func (s *Service) CancelBooking(ctx context.Context, bookingID, requesterID uuid.UUID, reason string) (*RefundResult, error) {
	return s.cancel(ctx, bookingID, requesterID, reason, false)
}

// RejectBooking is the organizer declining a pending booking.
func (s *Service) RejectBooking(ctx context.Context, bookingID, organizerID uuid.UUID, reason string) (*RefundResult, error) {
	return s.cancel(ctx, bookingID, organizerID, reason, true)
}

func (s *Service) cancel(ctx context.Context, bookingID, requesterID uuid.UUID, reason string, reject bool) (*RefundResult, error) {
	if requesterID == uuid.Nil {
		return nil, ErrMissingRequester
	}
	reason = strings.TrimSpace(reason)

	now := s.now()
	var result *RefundResult

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("lock booking: %w", err)
		}
		apptType, err := tx.GetAppointmentType(ctx, b.AppointmentTypeID)
		if err != nil {
			return fmt.Errorf("load appointment type: %w", err)
		}

		var mode cancelMode
		switch {
		case requesterID == apptType.OrganizerID && reject:
			mode = rejection
		case requesterID == apptType.OrganizerID:
			mode = byOrganizer
		case reject:
			return ErrNotOrganizer
		case requesterID == b.CustomerID:
			mode = byCustomer
		default:
			return ErrNotBookingParty
		}

		if b.Status.Terminal() {
			return ErrTerminal
		}
		if mode == rejection && b.Status != StatusPending {
			return ErrNotPending
		}

		percentage, fee := hundred, decimal.Zero
		if mode == byCustomer {
			if err := CanCancel(apptType.Policy, b.StartTime, now); err != nil {
				return err
			}
			percentage, fee = apptType.Policy.RefundPercentage, apptType.Policy.CancellationFee
		}

		res := &RefundResult{RefundAmount: decimal.Zero, RefundPercentage: decimal.Zero}

		p, err := tx.LockPayment(ctx, b.ID)
		switch {
		case errors.Is(err, ErrPaymentNotFound):
		case err != nil:
			return fmt.Errorf("lock payment: %w", err)
		case p.Status == PaymentSuccess:
			refund := RefundAmount(p.Amount, percentage, fee)
			p.Status = PaymentRefunded
			p.RefundAmount = &refund
			p.RefundReason = reason
			p.RefundedAt = &now
			p.UpdatedAt = now
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return fmt.Errorf("update payment: %w", err)
			}
			res.RefundAmount = refund
			res.RefundPercentage = percentage
		}

		old := b.Status
		by := requesterID
		b.Status = StatusCancelled
		b.CancelledBy = &by
		b.CancelledAt = &now
		b.CancellationReason = reason
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}

		action := ActionCancelled
		if mode == rejection {
			action = ActionRejected
		}
		if err := record(ctx, tx, b.ID, transition{
			action:    action,
			by:        requesterID,
			oldStatus: old,
			newStatus: StatusCancelled,
			reason:    reason,
		}, now); err != nil {
			return err
		}

		res.Booking = b
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	b := result.Booking
	s.logger.Info("booking cancelled",
		zap.String("booking_id", b.ID.String()),
		zap.String("cancelled_by", requesterID.String()),
		zap.Bool("rejected", reject),
		zap.String("refund", result.RefundAmount.StringFixed(2)),
	)
	s.afterCommit(ctx, newEvent(EventBookingCancelled, b, reason, now), providerDay{b.Provider, b.Date})
	return result, nil
}
