package booking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/schedule"
)

type RescheduleRequest struct {
	BookingID    uuid.UUID
	RequesterID  uuid.UUID
	NewDate      time.Time
	NewStartTime schedule.Clock
	NewProvider  *schedule.ProviderRef
	Reason       string
}

// RescheduleBooking moves a booking in place, keeping its id. The booking's
// own row is excluded from the capacity count at the target slot.
func (s *Service) RescheduleBooking(ctx context.Context, req RescheduleRequest) (*Booking, error) {
	if req.RequesterID == uuid.Nil {
		return nil, ErrMissingRequester
	}
	if !req.NewStartTime.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrValidation, schedule.ErrMalformedClock)
	}
	if req.NewProvider != nil {
		if err := req.NewProvider.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	// Unlocked read to learn which provider/day locks to take. It is
	// re-verified once the row lock is held.
	current, err := s.repo.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}

	loc := s.resolver.Location()
	newDate := schedule.DateOf(req.NewDate, loc)
	target := current.Provider
	if req.NewProvider != nil {
		target = *req.NewProvider
	}
	reason := strings.TrimSpace(req.Reason)
	now := s.now()

	var (
		updated  *Booking
		oldStart time.Time
	)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		for _, d := range lockOrder(providerDay{current.Provider, current.Date}, providerDay{target, newDate}) {
			if err := tx.LockProviderDay(ctx, d.ref, d.date); err != nil {
				return fmt.Errorf("lock provider day: %w", err)
			}
		}

		b, err := tx.LockBooking(ctx, req.BookingID)
		if err != nil {
			return fmt.Errorf("lock booking: %w", err)
		}
		if b.Provider != current.Provider || !b.Date.Equal(current.Date) {
			return ErrConcurrentChange
		}

		apptType, err := tx.LockAppointmentType(ctx, b.AppointmentTypeID)
		if err != nil {
			return fmt.Errorf("lock appointment type: %w", err)
		}
		if req.RequesterID != b.CustomerID && req.RequesterID != apptType.OrganizerID {
			return ErrNotBookingParty
		}
		if b.Status.Terminal() {
			return ErrTerminal
		}

		if target != b.Provider {
			provider, err := tx.LockProvider(ctx, target)
			if err != nil {
				return fmt.Errorf("lock provider: %w", err)
			}
			if !provider.IsActive {
				return ErrInactiveProvider
			}
			if provider.OrganizerID != apptType.OrganizerID {
				return ErrProviderNotOffered
			}
		}

		newStart := req.NewStartTime.On(newDate, loc)
		newEnd := newStart.Add(apptType.Duration())

		if err := s.withinBookingWindow(apptType, newStart, now); err != nil {
			return err
		}
		if err := s.insideWorkingWindow(ctx, tx, target, newDate, newStart, apptType); err != nil {
			return err
		}
		if err := gate(ctx, tx, apptType, target, newDate, newStart, newEnd, b.Capacity, b.ID); err != nil {
			return err
		}

		oldStatus := b.Status
		oldStart = b.StartTime

		b.Provider = target
		b.Date = newDate
		b.StartTime = newStart
		b.EndTime = newEnd
		if apptType.ManualConfirmation {
			b.Status = StatusPending
		}
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}

		if err := record(ctx, tx, b.ID, transition{
			action:    ActionRescheduled,
			by:        req.RequesterID,
			oldStatus: oldStatus,
			newStatus: b.Status,
			oldStart:  oldStart,
			newStart:  newStart,
			reason:    reason,
		}, now); err != nil {
			return err
		}

		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking rescheduled",
		zap.String("booking_id", updated.ID.String()),
		zap.Time("old_start", oldStart),
		zap.Time("new_start", updated.StartTime),
		zap.String("provider", updated.Provider.String()),
	)
	s.afterCommit(ctx, newEvent(EventBookingRescheduled, updated, reason, now),
		providerDay{current.Provider, current.Date},
		providerDay{updated.Provider, updated.Date},
	)
	return updated, nil
}

// lockOrder dedupes provider/day pairs and sorts them so that two
// transactions needing the same pair of locks always take them in the same
// order.
func lockOrder(days ...providerDay) []providerDay {
	key := func(d providerDay) string {
		return d.ref.String() + "@" + d.date.Format(time.DateOnly)
	}
	seen := make(map[string]bool, len(days))
	out := make([]providerDay, 0, len(days))
	for _, d := range days {
		if seen[key(d)] {
			continue
		}
		seen[key(d)] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}
