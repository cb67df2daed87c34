package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/schedule"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	intentPrefix     = "bk_pi_"
)

type Service struct {
	repo     Repository
	resolver *schedule.Resolver
	notifier Notifier
	cache    AvailabilityCache
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithCache(c AvailabilityCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, resolver *schedule.Resolver, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		resolver: resolver,
		notifier: noopNotifier{},
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

type CreateRequest struct {
	AppointmentTypeID uuid.UUID
	Provider          schedule.ProviderRef
	Date              time.Time
	StartTime         schedule.Clock
	Capacity          int
	CustomerID        uuid.UUID
	Answers           map[string]string
	Notes             string
}

// CreateBooking validates and commits a booking in one transaction. The
// capacity count and the insert run under the provider/day lock, so
// concurrent callers can never overfill a slot.
func (s *Service) CreateBooking(ctx context.Context, req CreateRequest) (*Booking, error) {
	if req.CustomerID == uuid.Nil {
		return nil, ErrMissingRequester
	}
	if err := req.Provider.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !req.StartTime.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrValidation, schedule.ErrMalformedClock)
	}
	if req.Capacity == 0 {
		req.Capacity = 1
	}
	if req.Capacity < 1 {
		return nil, ErrInvalidCapacity
	}

	loc := s.resolver.Location()
	date := schedule.DateOf(req.Date, loc)
	now := s.now()

	var created *Booking

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		customer, err := tx.GetUser(ctx, req.CustomerID)
		if err != nil {
			return fmt.Errorf("load customer: %w", err)
		}
		if customer.Role != RoleCustomer || !customer.IsActive {
			return ErrNotCustomer
		}

		apptType, err := tx.LockAppointmentType(ctx, req.AppointmentTypeID)
		if err != nil {
			return fmt.Errorf("lock appointment type: %w", err)
		}
		if !apptType.IsActive {
			return ErrInactiveType
		}

		provider, err := tx.LockProvider(ctx, req.Provider)
		if err != nil {
			return fmt.Errorf("lock provider: %w", err)
		}
		if !provider.IsActive {
			return ErrInactiveProvider
		}
		if provider.OrganizerID != apptType.OrganizerID {
			return ErrProviderNotOffered
		}

		start := req.StartTime.On(date, loc)
		end := start.Add(apptType.Duration())

		if err := s.withinBookingWindow(apptType, start, now); err != nil {
			return err
		}
		if err := checkAnswers(apptType.Questions, req.Answers); err != nil {
			return err
		}
		if err := s.insideWorkingWindow(ctx, tx, req.Provider, date, start, apptType); err != nil {
			return err
		}
		if err := gate(ctx, tx, apptType, req.Provider, date, start, end, req.Capacity, uuid.Nil); err != nil {
			return err
		}

		b := &Booking{
			ID:                uuid.New(),
			AppointmentTypeID: apptType.ID,
			CustomerID:        customer.ID,
			Provider:          req.Provider,
			Date:              date,
			StartTime:         start,
			EndTime:           end,
			Status:            apptType.initialStatus(),
			Capacity:          req.Capacity,
			Answers:           req.Answers,
			Notes:             strings.TrimSpace(req.Notes),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}

		if apptType.RequiresPayment {
			p := &Payment{
				ID:        uuid.New(),
				BookingID: b.ID,
				Amount:    apptType.Price.Mul(decimalFromInt(req.Capacity)),
				Currency:  apptType.Currency,
				Status:    PaymentPending,
				IntentID:  intentPrefix + uuid.NewString(),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.InsertPayment(ctx, p); err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
		}

		if err := record(ctx, tx, b.ID, transition{
			action:    ActionCreated,
			by:        customer.ID,
			newStatus: b.Status,
			newStart:  b.StartTime,
		}, now); err != nil {
			return err
		}

		created = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking created",
		zap.String("booking_id", created.ID.String()),
		zap.String("provider", created.Provider.String()),
		zap.Time("start", created.StartTime),
		zap.String("status", string(created.Status)),
	)
	s.afterCommit(ctx, newEvent(EventBookingCreated, created, "", now), providerDay{created.Provider, created.Date})

	return created, nil
}

func checkAnswers(questions []Question, answers map[string]string) error {
	var missing []string
	for _, q := range questions {
		if !q.Required {
			continue
		}
		if strings.TrimSpace(answers[q.ID]) == "" {
			missing = append(missing, q.ID)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w (%s)", ErrMissingAnswers, strings.Join(missing, ", "))
	}
	return nil
}

func (s *Service) insideWorkingWindow(ctx context.Context, tx Tx, ref schedule.ProviderRef, date, start time.Time, t *AppointmentType) error {
	w, ok, err := s.resolver.Window(ctx, tx, schedule.ProviderScope(ref), date)
	if err != nil {
		return err
	}
	from := schedule.ClockOf(start.In(s.resolver.Location()))
	if !ok || !w.Contains(from, from+schedule.Clock(t.DurationMinutes)) {
		return ErrSlotUnavailable
	}
	return nil
}

// ConfirmPayment records a successful external charge. The booking moves to
// CONFIRMED unless the type still needs organizer approval.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID uuid.UUID, transactionID string) (*Booking, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, fmt.Errorf("%w: transaction id required", ErrValidation)
	}

	now := s.now()
	var (
		updated *Booking
		changed bool
		late    bool
	)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("lock booking: %w", err)
		}
		if b.Status.Terminal() {
			if err := recordLateCharge(ctx, tx, b, transactionID, now); err != nil {
				return err
			}
			late = true
			updated = b
			return nil
		}

		p, err := tx.LockPayment(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		if p.Status != PaymentPending {
			return ErrPaymentSettled
		}

		apptType, err := tx.GetAppointmentType(ctx, b.AppointmentTypeID)
		if err != nil {
			return fmt.Errorf("load appointment type: %w", err)
		}

		p.Status = PaymentSuccess
		p.ExternalTransactionID = transactionID
		p.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		old := b.Status
		if b.Status == StatusPending && !apptType.ManualConfirmation {
			b.Status = StatusConfirmed
			b.UpdatedAt = now
			if err := tx.UpdateBooking(ctx, b); err != nil {
				return fmt.Errorf("update booking: %w", err)
			}
			changed = true
		}

		if err := record(ctx, tx, b.ID, transition{
			action:    ActionPaymentConfirmed,
			oldStatus: old,
			newStatus: b.Status,
			reason:    "transaction " + transactionID,
		}, now); err != nil {
			return err
		}

		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if late {
		s.logger.Warn("charge captured for closed booking, refund required",
			zap.String("booking_id", updated.ID.String()),
			zap.String("transaction_id", transactionID),
			zap.String("status", string(updated.Status)),
		)
		return nil, ErrChargeOnClosedBooking
	}

	s.logger.Info("payment confirmed",
		zap.String("booking_id", updated.ID.String()),
		zap.String("transaction_id", transactionID),
		zap.String("status", string(updated.Status)),
	)
	if changed {
		s.afterCommit(ctx, newEvent(EventBookingConfirmed, updated, "", now))
	}
	return updated, nil
}

// recordLateCharge keeps the external transaction of a charge that completed
// after its booking was cancelled or completed, so it can be refunded. The
// booking itself is left as is.
func recordLateCharge(ctx context.Context, tx Tx, b *Booking, transactionID string, now time.Time) error {
	p, err := tx.LockPayment(ctx, b.ID)
	if errors.Is(err, ErrPaymentNotFound) {
		return ErrTerminal
	}
	if err != nil {
		return fmt.Errorf("lock payment: %w", err)
	}
	if p.Status != PaymentPending {
		return ErrPaymentSettled
	}

	p.Status = PaymentSuccess
	p.ExternalTransactionID = transactionID
	p.UpdatedAt = now
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return record(ctx, tx, b.ID, transition{
		action:    ActionPaymentConfirmed,
		oldStatus: b.Status,
		newStatus: b.Status,
		reason:    "transaction " + transactionID + " captured after booking closed",
	}, now)
}

// ConfirmPaymentByIntent resolves the booking from the payment intent id handed
// out at creation and confirms it.
func (s *Service) ConfirmPaymentByIntent(ctx context.Context, intentID, transactionID string) (*Booking, error) {
	b, err := s.repo.GetBookingByPaymentIntent(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("find booking by payment intent: %w", err)
	}
	return s.ConfirmPayment(ctx, b.ID, transactionID)
}

// ApproveBooking is the organizer approval of a pending booking.
func (s *Service) ApproveBooking(ctx context.Context, bookingID, organizerID uuid.UUID) (*Booking, error) {
	if organizerID == uuid.Nil {
		return nil, ErrMissingRequester
	}

	now := s.now()
	var updated *Booking

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("lock booking: %w", err)
		}
		apptType, err := tx.GetAppointmentType(ctx, b.AppointmentTypeID)
		if err != nil {
			return fmt.Errorf("load appointment type: %w", err)
		}
		if apptType.OrganizerID != organizerID {
			return ErrNotOrganizer
		}
		if b.Status != StatusPending {
			return ErrNotPending
		}

		if apptType.RequiresPayment {
			p, err := tx.LockPayment(ctx, b.ID)
			if err != nil && !errors.Is(err, ErrPaymentNotFound) {
				return fmt.Errorf("lock payment: %w", err)
			}
			if p == nil || p.Status != PaymentSuccess {
				return ErrPaymentOutstanding
			}
		}

		b.Status = StatusConfirmed
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}
		if err := record(ctx, tx, b.ID, transition{
			action:    ActionApproved,
			by:        organizerID,
			oldStatus: StatusPending,
			newStatus: StatusConfirmed,
		}, now); err != nil {
			return err
		}

		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking approved", zap.String("booking_id", updated.ID.String()))
	s.afterCommit(ctx, newEvent(EventBookingConfirmed, updated, "", now))
	return updated, nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (s *Service) GetPayment(ctx context.Context, bookingID uuid.UUID) (*Payment, error) {
	p, err := s.repo.GetPayment(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (s *Service) ListHistory(ctx context.Context, bookingID uuid.UUID) ([]HistoryEntry, error) {
	if _, err := s.repo.GetBooking(ctx, bookingID); err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	entries, err := s.repo.ListHistory(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

func (s *Service) ListBookings(ctx context.Context, f BookingFilter) ([]Booking, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	bookings, err := s.repo.ListBookings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

type providerDay struct {
	ref  schedule.ProviderRef
	date time.Time
}

// afterCommit runs strictly after a successful commit. Nothing here can fail
// the operation.
func (s *Service) afterCommit(ctx context.Context, ev Event, days ...providerDay) {
	ctx = context.WithoutCancel(ctx)
	if s.cache != nil {
		for _, d := range days {
			if err := s.cache.Invalidate(ctx, d.ref, d.date); err != nil {
				s.logger.Warn("availability cache invalidation failed",
					zap.String("provider", d.ref.String()),
					zap.Time("date", d.date),
					zap.Error(err),
				)
			}
		}
	}
	s.notifier.Publish(ev)
}
