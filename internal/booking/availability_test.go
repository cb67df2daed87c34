package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-engine/internal/schedule"
)

func TestEvaluateCapacity(t *testing.T) {
	active := func(seats int) Booking { return Booking{Status: StatusConfirmed, Capacity: seats} }

	tests := []struct {
		name          string
		existing      []Booking
		max           int
		requested     int
		wantAvailable bool
		wantRemaining int
	}{
		{name: "empty slot", max: 1, requested: 1, wantAvailable: true, wantRemaining: 1},
		{name: "full single slot", existing: []Booking{active(1)}, max: 1, requested: 1, wantRemaining: 0},
		{name: "group fits exactly", existing: []Booking{active(2)}, max: 4, requested: 2, wantAvailable: true, wantRemaining: 2},
		{name: "group overflows", existing: []Booking{active(2), active(1)}, max: 4, requested: 2, wantRemaining: 1},
		{
			name:          "cancelled ignored",
			existing:      []Booking{{Status: StatusCancelled, Capacity: 3}},
			max:           3,
			requested:     3,
			wantAvailable: true,
			wantRemaining: 3,
		},
		{name: "overbooked never negative", existing: []Booking{active(5)}, max: 3, requested: 1, wantRemaining: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluateCapacity(tt.existing, tt.max, tt.requested)
			assert.Equal(t, tt.wantAvailable, got.Available)
			assert.Equal(t, tt.wantRemaining, got.RemainingCapacity)
		})
	}
}

func TestResolveAvailabilityProviderScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(wednesday, "10:00")

	slots, err := f.svc.ResolveAvailability(ctx, schedule.ProviderScope(f.staff), wednesday, f.apptType.ID)
	require.NoError(t, err)
	require.Len(t, slots, 16)

	assert.Equal(t, time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC), slots[0].Start)
	assert.Equal(t, time.Date(2026, 3, 4, 17, 0, 0, 0, time.UTC), slots[15].End)

	for _, s := range slots {
		booked := s.Start.Hour() == 10 && s.Start.Minute() == 0
		assert.Equal(t, !booked, s.Available, s.Start.String())
		if booked {
			assert.Zero(t, s.RemainingCapacity)
		} else {
			assert.Equal(t, 1, s.RemainingCapacity)
		}
	}
}

func TestResolveAvailabilityUsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := schedule.ProviderScope(f.staff)

	first, err := f.svc.ResolveAvailability(ctx, scope, wednesday, f.apptType.ID)
	require.NoError(t, err)
	second, err := f.svc.ResolveAvailability(ctx, scope, wednesday, f.apptType.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, f.cache.hits)
	require.Len(t, second, len(first))
	assert.True(t, first[0].Start.Equal(second[0].Start))

	// a booking invalidates the day, so the next read sees it
	f.book(wednesday, "09:00")
	third, err := f.svc.ResolveAvailability(ctx, scope, wednesday, f.apptType.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)
	assert.False(t, third[0].Available)
}

func TestResolveAvailabilityDoesNotCacheLoadRacingABooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := schedule.ProviderScope(f.staff)

	// a booking commits between the cache miss and the database read
	f.cache.afterMiss = func() {
		f.cache.afterMiss = nil
		f.book(wednesday, "09:00")
	}
	_, err := f.svc.ResolveAvailability(ctx, scope, wednesday, f.apptType.ID)
	require.NoError(t, err)

	slots, err := f.svc.ResolveAvailability(ctx, scope, wednesday, f.apptType.ID)
	require.NoError(t, err)
	assert.Zero(t, f.cache.hits)
	assert.False(t, slots[0].Available)
}

func TestResolveAvailabilityTypeScope(t *testing.T) {
	f := newFixture(t, withCapacity(4))
	typeScope := schedule.AppointmentTypeScope(f.apptType.ID)
	f.store.addHours(typeScope, clock(t, "13:00"), clock(t, "15:00"), time.Wednesday)

	slots, err := f.svc.ResolveAvailability(context.Background(), typeScope, wednesday, f.apptType.ID)
	require.NoError(t, err)
	require.Len(t, slots, 4)
	for _, s := range slots {
		assert.True(t, s.Available)
		assert.Equal(t, 4, s.RemainingCapacity)
	}
}

func TestResolveAvailabilityHidesSlotsInsideNotice(t *testing.T) {
	f := newFixture(t)
	f.now = time.Date(2026, 3, 2, 9, 20, 0, 0, time.UTC)

	slots, err := f.svc.ResolveAvailability(context.Background(), schedule.ProviderScope(f.staff), monday, f.apptType.ID)
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC), slots[0].Start)
}

func TestResolveAvailabilityErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ResolveAvailability(ctx, schedule.Scope{}, wednesday, f.apptType.ID)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.ResolveAvailability(ctx, schedule.ProviderScope(f.staff), wednesday, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	slots, err := f.svc.ResolveAvailability(ctx, schedule.ProviderScope(f.staff), saturday, f.apptType.ID)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestCheckCapacity(t *testing.T) {
	f := newFixture(t, withCapacity(3))
	ctx := context.Background()

	req := f.request(wednesday, "10:00")
	req.Capacity = 2
	_, err := f.svc.CreateBooking(ctx, req)
	require.NoError(t, err)

	res, err := f.svc.CheckCapacity(ctx, f.staff, f.apptType.ID, wednesday, clock(t, "10:00"), 1)
	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Equal(t, 1, res.RemainingCapacity)

	res, err = f.svc.CheckCapacity(ctx, f.staff, f.apptType.ID, wednesday, clock(t, "10:00"), 2)
	require.NoError(t, err)
	assert.False(t, res.Available)

	res, err = f.svc.CheckCapacity(ctx, f.staff, f.apptType.ID, wednesday, clock(t, "10:30"), 3)
	require.NoError(t, err)
	assert.True(t, res.Available)

	_, err = f.svc.CheckCapacity(ctx, f.staff, f.apptType.ID, wednesday, clock(t, "10:00"), 0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestBookAdvertisedSlotOnDSTTransitionDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	f := newFixture(t)
	f.store.addHours(schedule.ProviderScope(f.staff), clock(t, "09:00"), clock(t, "17:00"), time.Sunday)
	f.svc = NewService(f.store, schedule.NewResolver(loc), nil,
		WithNotifier(f.notifier),
		WithCache(f.cache),
		WithClock(func() time.Time { return f.now }),
	)
	ctx := context.Background()

	// clocks go forward at 02:00 on Sunday 2026-03-08
	sunday := time.Date(2026, 3, 8, 0, 0, 0, 0, loc)
	slots, err := f.svc.ResolveAvailability(ctx, schedule.ProviderScope(f.staff), sunday, f.apptType.ID)
	require.NoError(t, err)
	require.Len(t, slots, 16)
	assert.Equal(t, "09:00", slots[0].Start.In(loc).Format("15:04"))
	assert.Equal(t, "17:00", slots[15].End.In(loc).Format("15:04"))

	last := slots[15]
	b := f.book(sunday, "16:30")
	assert.True(t, b.StartTime.Equal(last.Start), "booked %s, advertised %s", b.StartTime, last.Start)
	assert.True(t, b.EndTime.Equal(last.End))
	assert.Equal(t, "16:30", b.StartTime.In(loc).Format("15:04"))
}
