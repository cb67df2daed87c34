package booking

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/schedule"
)

type hoursKey struct {
	scope string
	day   time.Weekday
}

type exceptionKey struct {
	scope string
	date  string
}

type memData struct {
	users      map[uuid.UUID]User
	providers  map[schedule.ProviderRef]Provider
	types      map[uuid.UUID]AppointmentType
	hours      map[hoursKey]schedule.WorkingHours
	exceptions map[exceptionKey]schedule.Exception
	bookings   map[uuid.UUID]Booking
	payments   map[uuid.UUID]Payment
	history    []HistoryEntry
}

func (d *memData) clone() *memData {
	c := &memData{
		users:      make(map[uuid.UUID]User, len(d.users)),
		providers:  make(map[schedule.ProviderRef]Provider, len(d.providers)),
		types:      make(map[uuid.UUID]AppointmentType, len(d.types)),
		hours:      make(map[hoursKey]schedule.WorkingHours, len(d.hours)),
		exceptions: make(map[exceptionKey]schedule.Exception, len(d.exceptions)),
		bookings:   make(map[uuid.UUID]Booking, len(d.bookings)),
		payments:   make(map[uuid.UUID]Payment, len(d.payments)),
		history:    append([]HistoryEntry(nil), d.history...),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.providers {
		c.providers[k] = v
	}
	for k, v := range d.types {
		c.types[k] = v
	}
	for k, v := range d.hours {
		c.hours[k] = v
	}
	for k, v := range d.exceptions {
		c.exceptions[k] = v
	}
	for k, v := range d.bookings {
		c.bookings[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	return c
}

// memStore is an in-memory Repository. Committed state is copy-on-write.
// Transactions run concurrently and read the latest committed state plus their
// own writes; only LockProviderDay and LockBooking block, like the advisory
// and row locks in Postgres. Writes are applied on commit, before any lock
// held by the transaction is released.
type memStore struct {
	mu    sync.RWMutex
	data  *memData
	locks keyedLocks

	failHistory bool
	lastFilter  BookingFilter
	dayLocks    []string
}

var _ Repository = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{data: &memData{
		users:      map[uuid.UUID]User{},
		providers:  map[schedule.ProviderRef]Provider{},
		types:      map[uuid.UUID]AppointmentType{},
		hours:      map[hoursKey]schedule.WorkingHours{},
		exceptions: map[exceptionKey]schedule.Exception{},
		bookings:   map[uuid.UUID]Booking{},
		payments:   map[uuid.UUID]Payment{},
	}}
}

// Seeding helpers write straight into the committed state.

func (m *memStore) addUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.users[u.ID] = u
}

func (m *memStore) addProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.providers[p.Ref] = p
}

func (m *memStore) addType(t AppointmentType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.types[t.ID] = t
}

func (m *memStore) addHours(scope schedule.Scope, start, end schedule.Clock, days ...time.Weekday) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range days {
		m.data.hours[hoursKey{scope.String(), d}] = schedule.WorkingHours{
			Scope: scope, DayOfWeek: d, IsWorking: true, StartTime: start, EndTime: end,
		}
	}
}

func (m *memStore) addException(ex schedule.Exception) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.exceptions[exceptionKey{ex.Scope.String(), ex.Date.Format(time.DateOnly)}] = ex
}

func (m *memStore) bookingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data.bookings)
}

func (m *memStore) paymentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data.payments)
}

func (m *memStore) historyCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data.history)
}

func (m *memStore) snapshot() *memData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}

// Reader over a given state.

type memReader struct {
	d *memData
}

func (r memReader) GetWorkingHours(_ context.Context, scope schedule.Scope, day time.Weekday) (*schedule.WorkingHours, error) {
	wh, ok := r.d.hours[hoursKey{scope.String(), day}]
	if !ok {
		return nil, schedule.ErrNotFound
	}
	return &wh, nil
}

func (r memReader) GetException(_ context.Context, scope schedule.Scope, date time.Time) (*schedule.Exception, error) {
	ex, ok := r.d.exceptions[exceptionKey{scope.String(), date.Format(time.DateOnly)}]
	if !ok {
		return nil, schedule.ErrNotFound
	}
	return &ex, nil
}

func (r memReader) GetUser(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := r.d.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r memReader) GetAppointmentType(_ context.Context, id uuid.UUID) (*AppointmentType, error) {
	t, ok := r.d.types[id]
	if !ok {
		return nil, ErrAppointmentTypeNotFound
	}
	return &t, nil
}

func (r memReader) GetProvider(_ context.Context, ref schedule.ProviderRef) (*Provider, error) {
	p, ok := r.d.providers[ref]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (r memReader) GetBooking(_ context.Context, id uuid.UUID) (*Booking, error) {
	b, ok := r.d.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (r memReader) ListOverlapping(_ context.Context, ref schedule.ProviderRef, start, end time.Time, excludeID uuid.UUID) ([]Booking, error) {
	var all []Booking
	for _, b := range r.d.bookings {
		if b.Provider == ref {
			all = append(all, b)
		}
	}
	out := overlapping(all, start, end, excludeID)
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memStore) GetWorkingHours(ctx context.Context, scope schedule.Scope, day time.Weekday) (*schedule.WorkingHours, error) {
	return memReader{m.snapshot()}.GetWorkingHours(ctx, scope, day)
}

func (m *memStore) GetException(ctx context.Context, scope schedule.Scope, date time.Time) (*schedule.Exception, error) {
	return memReader{m.snapshot()}.GetException(ctx, scope, date)
}

func (m *memStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return memReader{m.snapshot()}.GetUser(ctx, id)
}

func (m *memStore) GetAppointmentType(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	return memReader{m.snapshot()}.GetAppointmentType(ctx, id)
}

func (m *memStore) GetProvider(ctx context.Context, ref schedule.ProviderRef) (*Provider, error) {
	return memReader{m.snapshot()}.GetProvider(ctx, ref)
}

func (m *memStore) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return memReader{m.snapshot()}.GetBooking(ctx, id)
}

func (m *memStore) ListOverlapping(ctx context.Context, ref schedule.ProviderRef, start, end time.Time, excludeID uuid.UUID) ([]Booking, error) {
	return memReader{m.snapshot()}.ListOverlapping(ctx, ref, start, end, excludeID)
}

func (m *memStore) GetPayment(_ context.Context, bookingID uuid.UUID) (*Payment, error) {
	p, ok := m.snapshot().payments[bookingID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

func (m *memStore) GetBookingByPaymentIntent(_ context.Context, intentID string) (*Booking, error) {
	d := m.snapshot()
	for _, p := range d.payments {
		if p.IntentID == intentID {
			b := d.bookings[p.BookingID]
			return &b, nil
		}
	}
	return nil, ErrBookingNotFound
}

func (m *memStore) ListHistory(_ context.Context, bookingID uuid.UUID) ([]HistoryEntry, error) {
	var out []HistoryEntry
	for _, h := range m.snapshot().history {
		if h.BookingID == bookingID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memStore) ListBookings(_ context.Context, f BookingFilter) ([]Booking, error) {
	m.mu.Lock()
	m.lastFilter = f
	d := m.data
	m.mu.Unlock()

	var out []Booking
	for _, b := range d.bookings {
		switch {
		case f.CustomerID != nil && b.CustomerID != *f.CustomerID:
		case f.Provider != nil && b.Provider != *f.Provider:
		case f.Status != nil && b.Status != *f.Status:
		case f.From != nil && b.StartTime.Before(*f.From):
		case f.To != nil && !b.StartTime.Before(*f.To):
		default:
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) FindElapsedConfirmed(_ context.Context, now time.Time, limit int) ([]Booking, error) {
	var out []Booking
	for _, b := range m.snapshot().bookings {
		if b.Status == StatusConfirmed && !b.EndTime.After(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		store:    m,
		bookings: map[uuid.UUID]Booking{},
		payments: map[uuid.UUID]Payment{},
		held:     map[string]*sync.Mutex{},
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	d := m.data.clone()
	for id, b := range tx.bookings {
		d.bookings[id] = b
	}
	for id, p := range tx.payments {
		d.payments[id] = p
	}
	for _, h := range tx.history {
		h.ID = int64(len(d.history) + 1)
		d.history = append(d.history, h)
	}
	m.data = d
	m.dayLocks = append(m.dayLocks, tx.dayLocks...)
	m.mu.Unlock()
	return nil
}

type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *keyedLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.m == nil {
		k.m = map[string]*sync.Mutex{}
	}
	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	return l
}

type memTx struct {
	store *memStore

	bookings map[uuid.UUID]Booking
	payments map[uuid.UUID]Payment
	history  []HistoryEntry

	held     map[string]*sync.Mutex
	dayLocks []string
}

// lock is reentrant within one transaction.
func (t *memTx) lock(key string) {
	if _, ok := t.held[key]; ok {
		return
	}
	l := t.store.locks.get(key)
	l.Lock()
	t.held[key] = l
}

func (t *memTx) release() {
	for _, l := range t.held {
		l.Unlock()
	}
}

func (t *memTx) view() memReader {
	d := t.store.snapshot().clone()
	for id, b := range t.bookings {
		d.bookings[id] = b
	}
	for id, p := range t.payments {
		d.payments[id] = p
	}
	d.history = append(d.history, t.history...)
	return memReader{d}
}

func (t *memTx) GetWorkingHours(ctx context.Context, scope schedule.Scope, day time.Weekday) (*schedule.WorkingHours, error) {
	return t.view().GetWorkingHours(ctx, scope, day)
}

func (t *memTx) GetException(ctx context.Context, scope schedule.Scope, date time.Time) (*schedule.Exception, error) {
	return t.view().GetException(ctx, scope, date)
}

func (t *memTx) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return t.view().GetUser(ctx, id)
}

func (t *memTx) GetAppointmentType(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	return t.view().GetAppointmentType(ctx, id)
}

func (t *memTx) GetProvider(ctx context.Context, ref schedule.ProviderRef) (*Provider, error) {
	return t.view().GetProvider(ctx, ref)
}

func (t *memTx) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return t.view().GetBooking(ctx, id)
}

func (t *memTx) ListOverlapping(ctx context.Context, ref schedule.ProviderRef, start, end time.Time, excludeID uuid.UUID) ([]Booking, error) {
	return t.view().ListOverlapping(ctx, ref, start, end, excludeID)
}

func (t *memTx) LockAppointmentType(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	return t.GetAppointmentType(ctx, id)
}

func (t *memTx) LockProvider(ctx context.Context, ref schedule.ProviderRef) (*Provider, error) {
	return t.GetProvider(ctx, ref)
}

func (t *memTx) LockProviderDay(_ context.Context, ref schedule.ProviderRef, date time.Time) error {
	key := ref.String() + "@" + date.Format(time.DateOnly)
	t.lock("day:" + key)
	t.dayLocks = append(t.dayLocks, key)
	return nil
}

func (t *memTx) LockOverlapping(ctx context.Context, ref schedule.ProviderRef, start, end time.Time, excludeID uuid.UUID) ([]Booking, error) {
	out, err := t.ListOverlapping(ctx, ref, start, end, excludeID)
	// widen the window between the capacity read and the insert
	runtime.Gosched()
	return out, err
}

func (t *memTx) LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	t.lock("booking:" + id.String())
	return t.GetBooking(ctx, id)
}

func (t *memTx) LockPayment(_ context.Context, bookingID uuid.UUID) (*Payment, error) {
	p, ok := t.view().d.payments[bookingID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

func (t *memTx) InsertBooking(_ context.Context, b *Booking) error {
	if _, ok := t.view().d.bookings[b.ID]; ok {
		return errors.New("duplicate booking id")
	}
	t.bookings[b.ID] = *b
	return nil
}

func (t *memTx) UpdateBooking(_ context.Context, b *Booking) error {
	if _, ok := t.view().d.bookings[b.ID]; !ok {
		return ErrBookingNotFound
	}
	t.bookings[b.ID] = *b
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, p *Payment) error {
	t.payments[p.BookingID] = *p
	return nil
}

func (t *memTx) UpdatePayment(_ context.Context, p *Payment) error {
	if _, ok := t.view().d.payments[p.BookingID]; !ok {
		return ErrPaymentNotFound
	}
	t.payments[p.BookingID] = *p
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, h *HistoryEntry) error {
	if t.store.failHistory {
		return errors.New("history write failed")
	}
	t.history = append(t.history, *h)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) types() []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

// memCache mirrors the versioned Redis cache: entries live under the day's
// version and Invalidate bumps it.
type memCache struct {
	mu          sync.Mutex
	versions    map[string]int64
	entries     map[string][]byte
	hits        int
	invalidated []string

	// afterMiss runs once a Get has missed, before the caller loads.
	afterMiss func()
}

func newMemCache() *memCache {
	return &memCache{versions: map[string]int64{}, entries: map[string][]byte{}}
}

func cacheDay(ref schedule.ProviderRef, date time.Time) string {
	return ref.String() + "@" + date.Format(time.DateOnly)
}

func cacheEntry(day string, version int64, typeID uuid.UUID) string {
	return fmt.Sprintf("%s/v%d/%s", day, version, typeID)
}

func (c *memCache) Get(_ context.Context, ref schedule.ProviderRef, date time.Time, typeID uuid.UUID) ([]byte, int64, bool, error) {
	c.mu.Lock()
	day := cacheDay(ref, date)
	v := c.versions[day]
	data, ok := c.entries[cacheEntry(day, v, typeID)]
	if ok {
		c.hits++
	}
	hook := c.afterMiss
	c.mu.Unlock()

	if !ok && hook != nil {
		hook()
	}
	return data, v, ok, nil
}

func (c *memCache) Set(_ context.Context, ref schedule.ProviderRef, date time.Time, typeID uuid.UUID, version int64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheEntry(cacheDay(ref, date), version, typeID)] = data
	return nil
}

func (c *memCache) Invalidate(_ context.Context, ref schedule.ProviderRef, date time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	day := cacheDay(ref, date)
	c.invalidated = append(c.invalidated, day)
	c.versions[day]++
	return nil
}
