package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hackgods/booking-engine/internal/schedule"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pgReader
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pgReader: pgReader{q: pool}, pool: pool}
}

type pgReader struct {
	q querier
}

type pgTx struct {
	pgReader
}

var (
	_ Repository = (*PgRepository)(nil)
	_ Tx         = (*pgTx)(nil)
)

const bookingColumns = `id, appointment_type_id, customer_id, provider_kind, provider_id, date,
	start_time, end_time, status, capacity, answers, notes,
	cancellation_reason, cancelled_by, cancelled_at, created_at, updated_at`

const appointmentTypeSelect = `
	SELECT t.id, t.organizer_id, t.name, t.duration_minutes, t.max_bookings_per_slot,
		t.buffer_minutes, t.min_advance_booking_minutes, t.max_advance_booking_days,
		t.requires_payment, t.manual_confirmation, t.price::text, t.currency, t.questions, t.is_active,
		p.id, p.allow_cancellation, p.cancellation_deadline_hours,
		p.refund_percentage::text, p.cancellation_fee::text, p.no_show_policy
	FROM appointment_types t
	LEFT JOIN cancellation_policies p ON p.id = t.cancellation_policy_id
	WHERE t.id = $1`

const paymentColumns = `id, booking_id, amount::text, currency, status, intent_id,
	external_transaction_id, refund_amount::text, refund_reason, refunded_at, created_at, updated_at`

// Helpers

// pgDate normalizes a calendar day for a DATE parameter.
func pgDate(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func clockFromPg(t pgtype.Time) schedule.Clock {
	return schedule.Clock(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func optionalClock(t pgtype.Time) *schedule.Clock {
	if !t.Valid {
		return nil
	}
	c := clockFromPg(t)
	return &c
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.Ref.Kind, &p.Ref.ID, &p.OrganizerID, &p.Name, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanAppointmentType(row pgx.Row) (*AppointmentType, error) {
	var (
		t         AppointmentType
		price     string
		questions []byte

		policyID       *uuid.UUID
		allowCancel    *bool
		deadlineHours  *int
		refundPct, fee *string
		noShow         *string
	)

	err := row.Scan(
		&t.ID,
		&t.OrganizerID,
		&t.Name,
		&t.DurationMinutes,
		&t.MaxBookingsPerSlot,
		&t.BufferMinutes,
		&t.MinAdvanceBookingMinutes,
		&t.MaxAdvanceBookingDays,
		&t.RequiresPayment,
		&t.ManualConfirmation,
		&price,
		&t.Currency,
		&questions,
		&t.IsActive,
		&policyID,
		&allowCancel,
		&deadlineHours,
		&refundPct,
		&fee,
		&noShow,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentTypeNotFound
		}
		return nil, err
	}

	if t.Price, err = parseDecimal(price); err != nil {
		return nil, err
	}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &t.Questions); err != nil {
			return nil, fmt.Errorf("decode questions: %w", err)
		}
	}

	if policyID != nil {
		p := &CancellationPolicy{
			ID:                        *policyID,
			AllowCancellation:         *allowCancel,
			CancellationDeadlineHours: *deadlineHours,
			NoShowPolicy:              *noShow,
		}
		if p.RefundPercentage, err = parseDecimal(*refundPct); err != nil {
			return nil, err
		}
		if p.CancellationFee, err = parseDecimal(*fee); err != nil {
			return nil, err
		}
		t.Policy = p
	}

	return &t, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b       Booking
		answers []byte
		reason  *string
	)

	err := row.Scan(
		&b.ID,
		&b.AppointmentTypeID,
		&b.CustomerID,
		&b.Provider.Kind,
		&b.Provider.ID,
		&b.Date,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.Capacity,
		&answers,
		&b.Notes,
		&reason,
		&b.CancelledBy,
		&b.CancelledAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &b.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	if reason != nil {
		b.CancellationReason = *reason
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p            Payment
		amount       string
		externalID   *string
		refundAmount *string
		refundReason *string
	)

	err := row.Scan(
		&p.ID,
		&p.BookingID,
		&amount,
		&p.Currency,
		&p.Status,
		&p.IntentID,
		&externalID,
		&refundAmount,
		&refundReason,
		&p.RefundedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	if p.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if externalID != nil {
		p.ExternalTransactionID = *externalID
	}
	if refundAmount != nil {
		d, err := parseDecimal(*refundAmount)
		if err != nil {
			return nil, err
		}
		p.RefundAmount = &d
	}
	if refundReason != nil {
		p.RefundReason = *refundReason
	}
	return &p, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Reads

func (r pgReader) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, email, role, is_active
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r pgReader) GetProvider(ctx context.Context, ref schedule.ProviderRef) (*Provider, error) {
	row := r.q.QueryRow(ctx, `
		SELECT kind, id, organizer_id, name, is_active
		FROM providers
		WHERE kind = $1 AND id = $2
	`, string(ref.Kind), ref.ID)
	return scanProvider(row)
}

func (r pgReader) GetAppointmentType(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	return scanAppointmentType(r.q.QueryRow(ctx, appointmentTypeSelect, id))
}

func (r pgReader) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r pgReader) GetWorkingHours(ctx context.Context, scope schedule.Scope, day time.Weekday) (*schedule.WorkingHours, error) {
	scopeType, scopeID := scope.Key()

	var (
		wh         = schedule.WorkingHours{Scope: scope, DayOfWeek: day}
		start, end pgtype.Time
	)
	err := r.q.QueryRow(ctx, `
		SELECT is_working, start_time, end_time
		FROM working_hours
		WHERE scope_type = $1 AND scope_id = $2 AND day_of_week = $3
	`, scopeType, scopeID, int(day)).Scan(&wh.IsWorking, &start, &end)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.ErrNotFound
		}
		return nil, err
	}

	wh.StartTime = clockFromPg(start)
	wh.EndTime = clockFromPg(end)
	return &wh, nil
}

func (r pgReader) GetException(ctx context.Context, scope schedule.Scope, date time.Time) (*schedule.Exception, error) {
	scopeType, scopeID := scope.Key()

	var (
		ex         = schedule.Exception{Scope: scope, Date: date}
		start, end pgtype.Time
	)
	err := r.q.QueryRow(ctx, `
		SELECT is_available, start_time, end_time, reason
		FROM availability_exceptions
		WHERE scope_type = $1 AND scope_id = $2 AND date = $3
	`, scopeType, scopeID, pgDate(date)).Scan(&ex.IsAvailable, &start, &end, &ex.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.ErrNotFound
		}
		return nil, err
	}

	ex.StartTime = optionalClock(start)
	ex.EndTime = optionalClock(end)
	return &ex, nil
}

const overlapQuery = `SELECT ` + bookingColumns + `
	FROM bookings
	WHERE provider_kind = $1 AND provider_id = $2
	  AND status <> 'CANCELLED'
	  AND start_time < $4 AND end_time > $3
	  AND id <> $5
	ORDER BY start_time`

func (r pgReader) ListOverlapping(ctx context.Context, ref schedule.ProviderRef, start, end time.Time, excludeID uuid.UUID) ([]Booking, error) {
	rows, err := r.q.Query(ctx, overlapQuery, string(ref.Kind), ref.ID, start, end, excludeID)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// Transactions

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, &pgTx{pgReader{q: tx}}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (t *pgTx) LockAppointmentType(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	return scanAppointmentType(t.q.QueryRow(ctx, appointmentTypeSelect+` FOR SHARE OF t`, id))
}

func (t *pgTx) LockProvider(ctx context.Context, ref schedule.ProviderRef) (*Provider, error) {
	row := t.q.QueryRow(ctx, `
		SELECT kind, id, organizer_id, name, is_active
		FROM providers
		WHERE kind = $1 AND id = $2
		FOR SHARE
	`, string(ref.Kind), ref.ID)
	return scanProvider(row)
}

// LockProviderDay takes a transaction-scoped advisory lock. Row locks alone
// cannot stop two inserts into an empty slot; the advisory lock can.
func (t *pgTx) LockProviderDay(ctx context.Context, ref schedule.ProviderRef, date time.Time) error {
	key := ref.String() + "@" + date.Format(time.DateOnly)
	_, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	return err
}

func (t *pgTx) LockOverlapping(ctx context.Context, ref schedule.ProviderRef, start, end time.Time, excludeID uuid.UUID) ([]Booking, error) {
	rows, err := t.q.Query(ctx, overlapQuery+` FOR UPDATE`, string(ref.Kind), ref.ID, start, end, excludeID)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (t *pgTx) LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := t.q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
	return scanBooking(row)
}

func (t *pgTx) LockPayment(ctx context.Context, bookingID uuid.UUID) (*Payment, error) {
	row := t.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1 FOR UPDATE`, bookingID)
	return scanPayment(row)
}

func (t *pgTx) InsertBooking(ctx context.Context, b *Booking) error {
	answers, err := json.Marshal(b.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	if b.Answers == nil {
		answers = []byte("{}")
	}

	_, err = t.q.Exec(ctx, `
		INSERT INTO bookings (
			id, appointment_type_id, customer_id, provider_kind, provider_id, date,
			start_time, end_time, status, capacity, answers, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		b.ID,
		b.AppointmentTypeID,
		b.CustomerID,
		string(b.Provider.Kind),
		b.Provider.ID,
		pgDate(b.Date),
		b.StartTime,
		b.EndTime,
		string(b.Status),
		b.Capacity,
		answers,
		b.Notes,
		b.CreatedAt,
		b.UpdatedAt,
	)
	return err
}

func (t *pgTx) UpdateBooking(ctx context.Context, b *Booking) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE bookings
		SET provider_kind = $2,
		    provider_id = $3,
		    date = $4,
		    start_time = $5,
		    end_time = $6,
		    status = $7,
		    cancellation_reason = $8,
		    cancelled_by = $9,
		    cancelled_at = $10,
		    updated_at = $11
		WHERE id = $1
	`,
		b.ID,
		string(b.Provider.Kind),
		b.Provider.ID,
		pgDate(b.Date),
		b.StartTime,
		b.EndTime,
		string(b.Status),
		nullableString(b.CancellationReason),
		b.CancelledBy,
		b.CancelledAt,
		b.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p *Payment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO payments (id, booking_id, amount, currency, status, intent_id, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)
	`,
		p.ID,
		p.BookingID,
		p.Amount.StringFixed(2),
		p.Currency,
		string(p.Status),
		p.IntentID,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *Payment) error {
	var refund *string
	if p.RefundAmount != nil {
		s := p.RefundAmount.StringFixed(2)
		refund = &s
	}

	tag, err := t.q.Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    external_transaction_id = $3,
		    refund_amount = $4::numeric,
		    refund_reason = $5,
		    refunded_at = $6,
		    updated_at = $7
		WHERE id = $1
	`,
		p.ID,
		string(p.Status),
		nullableString(p.ExternalTransactionID),
		refund,
		nullableString(p.RefundReason),
		p.RefundedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (t *pgTx) AppendHistory(ctx context.Context, h *HistoryEntry) error {
	return t.q.QueryRow(ctx, `
		INSERT INTO booking_history (
			booking_id, action, performed_by, old_status, new_status,
			old_start_time, new_start_time, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		h.BookingID,
		string(h.Action),
		h.PerformedBy,
		h.OldStatus,
		h.NewStatus,
		h.OldStartTime,
		h.NewStartTime,
		h.Reason,
		h.CreatedAt,
	).Scan(&h.ID)
}

// Pooled reads

func (r *PgRepository) GetPayment(ctx context.Context, bookingID uuid.UUID) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1`, bookingID)
	return scanPayment(row)
}

func (r *PgRepository) GetBookingByPaymentIntent(ctx context.Context, intentID string) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+prefixed("b.", bookingColumns)+`
		FROM bookings b
		JOIN payments p ON p.booking_id = b.id
		WHERE p.intent_id = $1
	`, intentID)
	return scanBooking(row)
}

func (r *PgRepository) ListHistory(ctx context.Context, bookingID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, booking_id, action, performed_by, old_status, new_status,
		       old_start_time, new_start_time, reason, created_at
		FROM booking_history
		WHERE booking_id = $1
		ORDER BY id
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(
			&h.ID,
			&h.BookingID,
			&h.Action,
			&h.PerformedBy,
			&h.OldStatus,
			&h.NewStatus,
			&h.OldStartTime,
			&h.NewStartTime,
			&h.Reason,
			&h.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *PgRepository) ListBookings(ctx context.Context, f BookingFilter) ([]Booking, error) {
	query, args := buildBookingQuery(f)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) FindElapsedConfirmed(ctx context.Context, now time.Time, limit int) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'CONFIRMED' AND end_time <= $1
		ORDER BY end_time
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// buildBookingQuery renders the list query. Filter values are always bound
// as parameters, never spliced into the SQL text.
func buildBookingQuery(f BookingFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.CustomerID != nil {
		add("customer_id = $%d", *f.CustomerID)
	}
	if f.Provider != nil {
		add("provider_kind = $%d", string(f.Provider.Kind))
		add("provider_id = $%d", f.Provider.ID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.From != nil {
		add("start_time >= $%d", *f.From)
	}
	if f.To != nil {
		add("start_time < $%d", *f.To)
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + bookingColumns + " FROM bookings")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	args = append(args, f.Limit, f.Offset)
	fmt.Fprintf(&sb, " ORDER BY start_time DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return sb.String(), args
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
