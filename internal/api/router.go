package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/booking"
	"github.com/hackgods/booking-engine/internal/schedule"
	"github.com/hackgods/booking-engine/internal/telemetry"
)

// BookingService is the part of booking.Service the HTTP layer needs.
type BookingService interface {
	ResolveAvailability(ctx context.Context, scope schedule.Scope, date time.Time, appointmentTypeID uuid.UUID) ([]booking.SlotAvailability, error)
	CheckCapacity(ctx context.Context, ref schedule.ProviderRef, appointmentTypeID uuid.UUID, date time.Time, start schedule.Clock, requested int) (booking.CapacityResult, error)

	CreateBooking(ctx context.Context, req booking.CreateRequest) (*booking.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	GetPayment(ctx context.Context, bookingID uuid.UUID) (*booking.Payment, error)
	ListBookings(ctx context.Context, f booking.BookingFilter) ([]booking.Booking, error)
	ListHistory(ctx context.Context, bookingID uuid.UUID) ([]booking.HistoryEntry, error)

	ConfirmPayment(ctx context.Context, bookingID uuid.UUID, transactionID string) (*booking.Booking, error)
	ConfirmPaymentByIntent(ctx context.Context, intentID, transactionID string) (*booking.Booking, error)
	ApproveBooking(ctx context.Context, bookingID, organizerID uuid.UUID) (*booking.Booking, error)
	RejectBooking(ctx context.Context, bookingID, organizerID uuid.UUID, reason string) (*booking.RefundResult, error)
	CancelBooking(ctx context.Context, bookingID, requesterID uuid.UUID, reason string) (*booking.RefundResult, error)
	RescheduleBooking(ctx context.Context, req booking.RescheduleRequest) (*booking.Booking, error)
	CompleteBooking(ctx context.Context, bookingID, organizerID uuid.UUID) (*booking.Booking, error)
}

var _ BookingService = (*booking.Service)(nil)

type RouterConfig struct {
	Service      BookingService
	Health       *HealthHandler
	Logger       *zap.Logger
	Location     *time.Location
	StripeSecret string

	// Metrics defaults to no-op instruments; MetricsHandler, when set, is
	// served on /metrics.
	Metrics        *telemetry.Metrics
	MetricsHandler http.Handler

	// RateLimit applies to mutating routes; the zero value disables it.
	RateLimit RateLimit
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(nil)
	}
	h := &handler{svc: cfg.Service, logger: logger, loc: loc, validate: newValidator(), metrics: metrics}
	limit := RateLimitMiddleware(cfg.RateLimit, logger)

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(MetricsMiddleware(metrics))
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Get("/availability", h.getAvailability)
	r.Post("/availability/check", h.checkCapacity)

	r.Route("/bookings", func(r chi.Router) {
		r.With(limit).Post("/", h.createBooking)
		r.Get("/", h.listBookings)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getBooking)
			r.Get("/history", h.getHistory)
			r.Get("/payment", h.getPayment)

			r.Group(func(r chi.Router) {
				r.Use(limit)
				r.Post("/confirm-payment", h.confirmPayment)
				r.Post("/approve", h.approveBooking)
				r.Post("/reject", h.rejectBooking)
				r.Post("/cancel", h.cancelBooking)
				r.Post("/reschedule", h.rescheduleBooking)
				r.Post("/complete", h.completeBooking)
			})
		})
	})

	r.Post("/webhooks/stripe", newStripeWebhook(cfg.Service, cfg.StripeSecret, logger).ServeHTTP)

	return r
}
