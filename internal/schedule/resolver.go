package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by a Source when no row exists for the lookup.
var ErrNotFound = errors.New("schedule row not found")

// Source loads schedule rows. Both the pooled repository and an open
// transaction implement it.
type Source interface {
	GetWorkingHours(ctx context.Context, scope Scope, day time.Weekday) (*WorkingHours, error)
	GetException(ctx context.Context, scope Scope, date time.Time) (*Exception, error)
}

// EffectiveWindow applies exception precedence to the weekly row. ok is false
// when nothing is bookable that day.
func EffectiveWindow(wh *WorkingHours, ex *Exception) (w Window, ok bool) {
	if wh == nil || !wh.IsWorking {
		return Window{}, false
	}
	if ex != nil && !ex.IsAvailable {
		return Window{}, false
	}

	w = Window{Start: wh.StartTime, End: wh.EndTime}
	if ex != nil && ex.StartTime != nil && ex.EndTime != nil {
		w = Window{Start: *ex.StartTime, End: *ex.EndTime}
	}

	// midnight-spanning and empty windows are not supported
	if !w.Start.Valid() || !w.End.Valid() || w.End <= w.Start {
		return Window{}, false
	}
	return w, true
}

// GenerateSlots cuts the window into consecutive slots of the given length.
// A trailing remainder shorter than duration is discarded.
func GenerateSlots(date time.Time, w Window, duration time.Duration, loc *time.Location) []Slot {
	step := Clock(duration / time.Minute)
	if step <= 0 {
		return nil
	}

	var slots []Slot
	for start := w.Start; start+step <= w.End; start += step {
		slots = append(slots, Slot{
			Start: start.On(date, loc),
			End:   (start + step).On(date, loc),
		})
	}
	return slots
}

type Resolver struct {
	loc *time.Location
}

func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

func (r *Resolver) Location() *time.Location { return r.loc }

// Window loads the rows for scope and date and returns the effective window.
func (r *Resolver) Window(ctx context.Context, src Source, scope Scope, date time.Time) (Window, bool, error) {
	date = DateOf(date, r.loc)

	wh, err := src.GetWorkingHours(ctx, scope, date.Weekday())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Window{}, false, nil
		}
		return Window{}, false, fmt.Errorf("load working hours: %w", err)
	}

	ex, err := src.GetException(ctx, scope, date)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Window{}, false, fmt.Errorf("load availability exception: %w", err)
	}

	w, ok := EffectiveWindow(wh, ex)
	return w, ok, nil
}

// Resolve returns the candidate slots for scope on date, ordered by start.
func (r *Resolver) Resolve(ctx context.Context, src Source, scope Scope, date time.Time, duration time.Duration) ([]Slot, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	w, ok, err := r.Window(ctx, src, scope, date)
	if err != nil || !ok {
		return nil, err
	}
	return GenerateSlots(DateOf(date, r.loc), w, duration, r.loc), nil
}
