package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Clock is a wall-clock time of day, in minutes since midnight.
type Clock int

const minutesPerDay = 24 * 60

var ErrMalformedClock = errors.New("malformed time of day")

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedClock, s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

// ClockOf returns the wall-clock part of t in t's location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) Valid() bool { return c >= 0 && c < minutesPerDay }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the instant of this clock on date's calendar day in loc. It is
// built from wall-clock fields, so it stays correct on DST transition days.
func (c Clock) On(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, loc)
}

// DateOf truncates t to midnight of its calendar day in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// ParseDate parses "2006-01-02" as a calendar day in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, s, loc)
}

// WorkingHours is the weekly row for one scope and weekday (0 = Sunday).
type WorkingHours struct {
	Scope     Scope
	DayOfWeek time.Weekday
	IsWorking bool
	StartTime Clock
	EndTime   Clock
}

// Exception overrides WorkingHours for one scope on one date.
type Exception struct {
	Scope       Scope
	Date        time.Time
	IsAvailable bool
	StartTime   *Clock
	EndTime     *Clock
	Reason      string
}

// Window is a same-day working window [Start, End).
type Window struct {
	Start Clock
	End   Clock
}

func (w Window) Contains(start, end Clock) bool {
	return start >= w.Start && end <= w.End && start < end
}

// Slot is a half-open interval [Start, End).
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps is the half-open overlap test; touching intervals do not overlap.
func (s Slot) Overlaps(o Slot) bool {
	return s.Start.Before(o.End) && s.End.After(o.Start)
}
