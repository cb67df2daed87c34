package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompleteBooking marks one confirmed booking as completed once it has ended.
func (s *Service) CompleteBooking(ctx context.Context, bookingID, organizerID uuid.UUID) (*Booking, error) {
	if organizerID == uuid.Nil {
		return nil, ErrMissingRequester
	}
	now := s.now()

	b, err := s.complete(ctx, bookingID, organizerID, now)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, newEvent(EventBookingCompleted, b, "", now))
	return b, nil
}

// CompleteElapsedBookings is called periodically by the completion worker.
// Each booking is completed in its own transaction; one failure does not stop
// the sweep.
func (s *Service) CompleteElapsedBookings(ctx context.Context, batchSize int) (int, error) {
	now := s.now()
	candidates, err := s.repo.FindElapsedConfirmed(ctx, now, batchSize)
	if err != nil {
		return 0, fmt.Errorf("find elapsed confirmed bookings: %w", err)
	}

	done := 0
	for _, c := range candidates {
		b, err := s.complete(ctx, c.ID, uuid.Nil, now)
		if err != nil {
			s.logger.Warn("failed to complete booking", zap.String("booking_id", c.ID.String()), zap.Error(err))
			continue
		}
		done++
		s.afterCommit(ctx, newEvent(EventBookingCompleted, b, "", now))
	}
	return done, nil
}

// complete with a nil organizerID is the system sweep and skips the
// organizer check.
func (s *Service) complete(ctx context.Context, bookingID, organizerID uuid.UUID, now time.Time) (*Booking, error) {
	var updated *Booking

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("lock booking: %w", err)
		}

		if organizerID != uuid.Nil {
			apptType, err := tx.GetAppointmentType(ctx, b.AppointmentTypeID)
			if err != nil {
				return fmt.Errorf("load appointment type: %w", err)
			}
			if apptType.OrganizerID != organizerID {
				return ErrNotOrganizer
			}
		}

		if b.Status.Terminal() {
			return ErrTerminal
		}
		if b.Status != StatusConfirmed {
			return ErrNotConfirmed
		}
		if now.Before(b.EndTime) {
			return ErrNotElapsed
		}

		b.Status = StatusCompleted
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		if err := record(ctx, tx, b.ID, transition{
			action:    ActionCompleted,
			by:        organizerID,
			oldStatus: StatusConfirmed,
			newStatus: StatusCompleted,
		}, now); err != nil {
			return err
		}

		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
