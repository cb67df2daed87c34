package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/schedule"
)

// seatsHeld sums the capacity held by active bookings.
func seatsHeld(existing []Booking) int {
	n := 0
	for _, b := range existing {
		if !b.Status.Active() {
			continue
		}
		if b.Capacity < 1 {
			n++
			continue
		}
		n += b.Capacity
	}
	return n
}

func evaluateCapacity(existing []Booking, maxSeats, requested int) CapacityResult {
	used := seatsHeld(existing)
	remaining := maxSeats - used
	if remaining < 0 {
		remaining = 0
	}
	return CapacityResult{
		Available:         used+requested <= maxSeats,
		RemainingCapacity: remaining,
	}
}

// padded widens a slot by the buffer on both sides, so that
// existing.start < end+buffer AND existing.end+buffer > start.
func padded(start, end time.Time, buffer time.Duration) (time.Time, time.Time) {
	return start.Add(-buffer), end.Add(buffer)
}

// overlapping filters active bookings intersecting [start, end).
func overlapping(bookings []Booking, start, end time.Time, excludeID uuid.UUID) []Booking {
	var out []Booking
	for _, b := range bookings {
		if b.ID == excludeID || !b.Status.Active() {
			continue
		}
		if b.StartTime.Before(end) && b.EndTime.After(start) {
			out = append(out, b)
		}
	}
	return out
}

func (s *Service) withinBookingWindow(t *AppointmentType, start, now time.Time) error {
	lead := start.Sub(now)
	if lead < time.Duration(t.MinAdvanceBookingMinutes)*time.Minute {
		return ErrTooEarly
	}
	if t.MaxAdvanceBookingDays > 0 && lead > time.Duration(t.MaxAdvanceBookingDays)*24*time.Hour {
		return ErrTooFarAhead
	}
	return nil
}

// ResolveAvailability lists the candidate slots of scope on date for the
// appointment type. Provider scopes are annotated with remaining capacity.
// The result is a display read: it takes no locks and may be stale.
func (s *Service) ResolveAvailability(ctx context.Context, scope schedule.Scope, date time.Time, appointmentTypeID uuid.UUID) ([]SlotAvailability, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	apptType, err := s.repo.GetAppointmentType(ctx, appointmentTypeID)
	if err != nil {
		return nil, fmt.Errorf("load appointment type: %w", err)
	}

	date = schedule.DateOf(date, s.resolver.Location())

	var slots []SlotAvailability
	if ref, ok := scope.Provider(); ok {
		slots, err = s.providerAvailability(ctx, ref, date, apptType)
	} else {
		slots, err = s.typeAvailability(ctx, scope, date, apptType)
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	visible := slots[:0]
	for _, slot := range slots {
		if s.withinBookingWindow(apptType, slot.Start, now) == nil {
			visible = append(visible, slot)
		}
	}
	return visible, nil
}

func (s *Service) typeAvailability(ctx context.Context, scope schedule.Scope, date time.Time, t *AppointmentType) ([]SlotAvailability, error) {
	raw, err := s.resolver.Resolve(ctx, s.repo, scope, date, t.Duration())
	if err != nil {
		return nil, fmt.Errorf("resolve slots: %w", err)
	}
	out := make([]SlotAvailability, 0, len(raw))
	for _, slot := range raw {
		out = append(out, SlotAvailability{Slot: slot, Available: true, RemainingCapacity: t.capacity()})
	}
	return out, nil
}

func (s *Service) providerAvailability(ctx context.Context, ref schedule.ProviderRef, date time.Time, t *AppointmentType) ([]SlotAvailability, error) {
	cached, version, hit, cacheable := s.cachedAvailability(ctx, ref, date, t.ID)
	if hit {
		return cached, nil
	}

	raw, err := s.resolver.Resolve(ctx, s.repo, schedule.ProviderScope(ref), date, t.Duration())
	if err != nil {
		return nil, fmt.Errorf("resolve slots: %w", err)
	}

	out := make([]SlotAvailability, 0, len(raw))
	if len(raw) > 0 {
		from, to := padded(raw[0].Start, raw[len(raw)-1].End, t.Buffer())
		day, err := s.repo.ListOverlapping(ctx, ref, from, to, uuid.Nil)
		if err != nil {
			return nil, fmt.Errorf("list bookings: %w", err)
		}
		for _, slot := range raw {
			start, end := padded(slot.Start, slot.End, t.Buffer())
			res := evaluateCapacity(overlapping(day, start, end, uuid.Nil), t.capacity(), 1)
			out = append(out, SlotAvailability{Slot: slot, Available: res.Available, RemainingCapacity: res.RemainingCapacity})
		}
	}

	if cacheable {
		s.storeAvailability(ctx, ref, date, t.ID, version, out)
	}
	return out, nil
}

// cachedAvailability reports a hit, or on a miss the version to store the
// fresh result under. cacheable is false when there is no cache or the version
// could not be read.
func (s *Service) cachedAvailability(ctx context.Context, ref schedule.ProviderRef, date time.Time, typeID uuid.UUID) (slots []SlotAvailability, version int64, hit, cacheable bool) {
	if s.cache == nil {
		return nil, 0, false, false
	}
	data, version, ok, err := s.cache.Get(ctx, ref, date, typeID)
	if err != nil {
		s.logger.Warn("availability cache read failed", zap.String("provider", ref.String()), zap.Error(err))
		return nil, 0, false, false
	}
	if !ok {
		return nil, version, false, true
	}
	if err := json.Unmarshal(data, &slots); err != nil {
		s.logger.Warn("availability cache entry corrupt", zap.String("provider", ref.String()), zap.Error(err))
		return nil, version, false, true
	}
	return slots, version, true, true
}

func (s *Service) storeAvailability(ctx context.Context, ref schedule.ProviderRef, date time.Time, typeID uuid.UUID, version int64, slots []SlotAvailability) {
	data, err := json.Marshal(slots)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, ref, date, typeID, version, data); err != nil {
		s.logger.Warn("availability cache write failed", zap.String("provider", ref.String()), zap.Error(err))
	}
}

// CheckCapacity reports whether requested seats fit in the slot starting at
// start on date. It takes no locks; CreateBooking re-checks under lock.
func (s *Service) CheckCapacity(ctx context.Context, ref schedule.ProviderRef, appointmentTypeID uuid.UUID, date time.Time, start schedule.Clock, requested int) (CapacityResult, error) {
	if err := ref.Validate(); err != nil {
		return CapacityResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if requested < 1 {
		return CapacityResult{}, ErrInvalidCapacity
	}

	apptType, err := s.repo.GetAppointmentType(ctx, appointmentTypeID)
	if err != nil {
		return CapacityResult{}, fmt.Errorf("load appointment type: %w", err)
	}

	slotStart := start.On(date, s.resolver.Location())
	from, to := padded(slotStart, slotStart.Add(apptType.Duration()), apptType.Buffer())

	existing, err := s.repo.ListOverlapping(ctx, ref, from, to, uuid.Nil)
	if err != nil {
		return CapacityResult{}, fmt.Errorf("list overlapping bookings: %w", err)
	}
	return evaluateCapacity(existing, apptType.capacity(), requested), nil
}

// gate is the locked half of the capacity check. It must run inside the
// transaction that will write the booking.
func gate(ctx context.Context, tx Tx, t *AppointmentType, ref schedule.ProviderRef, date, start, end time.Time, requested int, excludeID uuid.UUID) error {
	if err := tx.LockProviderDay(ctx, ref, date); err != nil {
		return fmt.Errorf("lock provider day: %w", err)
	}

	from, to := padded(start, end, t.Buffer())
	existing, err := tx.LockOverlapping(ctx, ref, from, to, excludeID)
	if err != nil {
		return fmt.Errorf("lock overlapping bookings: %w", err)
	}

	if !evaluateCapacity(existing, t.capacity(), requested).Available {
		return ErrCapacityExceeded
	}
	return nil
}
