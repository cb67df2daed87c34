package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-engine/internal/schedule"
)

var (
	monday    = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	wednesday = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	saturday  = time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
)

func clock(t *testing.T, s string) schedule.Clock {
	t.Helper()
	c, err := schedule.ParseClock(s)
	require.NoError(t, err)
	return c
}

type fixture struct {
	t        *testing.T
	store    *memStore
	notifier *recordingNotifier
	cache    *memCache
	svc      *Service
	now      time.Time

	organizer uuid.UUID
	customer  uuid.UUID
	staff     schedule.ProviderRef
	apptType  AppointmentType
}

// newFixture seeds one organizer with a staff member working weekdays
// 09:00-17:00, one customer and a 30 minute appointment type. Clock starts
// on Sunday 2026-03-01 08:00 UTC.
func newFixture(t *testing.T, mutate ...func(*AppointmentType)) *fixture {
	t.Helper()

	f := &fixture{
		t:         t,
		store:     newMemStore(),
		notifier:  &recordingNotifier{},
		cache:     newMemCache(),
		now:       time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		organizer: uuid.New(),
		customer:  uuid.New(),
		staff:     schedule.Staff(uuid.New()),
	}

	f.store.addUser(User{ID: f.organizer, Name: "Org", Email: "org@example.com", Role: RoleOrganizer, IsActive: true})
	f.store.addUser(User{ID: f.customer, Name: "Cus", Email: "cus@example.com", Role: RoleCustomer, IsActive: true})
	f.store.addProvider(Provider{Ref: f.staff, OrganizerID: f.organizer, Name: "Dr. Who", IsActive: true})
	f.store.addHours(schedule.ProviderScope(f.staff), clock(t, "09:00"), clock(t, "17:00"),
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)

	f.apptType = AppointmentType{
		ID:                       uuid.New(),
		OrganizerID:              f.organizer,
		Name:                     "Consultation",
		DurationMinutes:          30,
		MaxBookingsPerSlot:       1,
		MinAdvanceBookingMinutes: 60,
		MaxAdvanceBookingDays:    30,
		Currency:                 "USD",
		IsActive:                 true,
		Policy: &CancellationPolicy{
			ID:                        uuid.New(),
			AllowCancellation:         true,
			CancellationDeadlineHours: 24,
			RefundPercentage:          decimal.NewFromInt(100),
			CancellationFee:           decimal.Zero,
		},
	}
	for _, m := range mutate {
		m(&f.apptType)
	}
	f.store.addType(f.apptType)

	f.svc = NewService(f.store, schedule.NewResolver(time.UTC), nil,
		WithNotifier(f.notifier),
		WithCache(f.cache),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) request(date time.Time, start string) CreateRequest {
	return CreateRequest{
		AppointmentTypeID: f.apptType.ID,
		Provider:          f.staff,
		Date:              date,
		StartTime:         clock(f.t, start),
		CustomerID:        f.customer,
	}
}

func (f *fixture) book(date time.Time, start string) *Booking {
	f.t.Helper()
	b, err := f.svc.CreateBooking(context.Background(), f.request(date, start))
	require.NoError(f.t, err)
	return b
}

func (f *fixture) addCustomer() uuid.UUID {
	id := uuid.New()
	f.store.addUser(User{ID: id, Name: "Other", Email: id.String() + "@example.com", Role: RoleCustomer, IsActive: true})
	return id
}

func (f *fixture) addStaff(organizer uuid.UUID) schedule.ProviderRef {
	ref := schedule.Staff(uuid.New())
	f.store.addProvider(Provider{Ref: ref, OrganizerID: organizer, Name: "Staff", IsActive: true})
	f.store.addHours(schedule.ProviderScope(ref), clock(f.t, "09:00"), clock(f.t, "17:00"),
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)
	return ref
}

func (f *fixture) actions(bookingID uuid.UUID) []Action {
	f.t.Helper()
	entries, err := f.svc.ListHistory(context.Background(), bookingID)
	require.NoError(f.t, err)
	out := make([]Action, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func withPayment(price int64) func(*AppointmentType) {
	return func(t *AppointmentType) {
		t.RequiresPayment = true
		t.Price = decimal.NewFromInt(price)
	}
}

func withManualConfirmation(t *AppointmentType) { t.ManualConfirmation = true }

func withCapacity(n int) func(*AppointmentType) {
	return func(t *AppointmentType) { t.MaxBookingsPerSlot = n }
}
