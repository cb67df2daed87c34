package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/booking"
	"github.com/hackgods/booking-engine/internal/schedule"
	"github.com/hackgods/booking-engine/internal/telemetry"
)

// requesterHeader carries the authenticated user id, set by the gateway in
// front of this service.
const requesterHeader = "X-User-ID"

var errBadRequester = errors.New("X-User-ID must be a valid UUID")

type handler struct {
	svc      BookingService
	logger   *zap.Logger
	loc      *time.Location
	validate *validator.Validate
	metrics  *telemetry.Metrics
}

// decode reads and validates a JSON body. It writes the error response itself
// and reports whether the handler should continue.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{
			Error:  "validation_failed",
			Fields: fieldErrors(err),
		})
		return false
	}
	return true
}

// requester returns uuid.Nil when the header is absent; the service answers
// that with Unauthenticated.
func requester(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.Header.Get(requesterHeader))
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errBadRequester
	}
	return id, nil
}

func (h *handler) bookingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handler) idAndRequester(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	who, err := requester(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_requester", err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	return id, who, true
}

// The validator has already checked layouts, so parse errors below cannot
// happen for decoded requests.

func (h *handler) parseDate(s string) time.Time {
	d, _ := schedule.ParseDate(s, h.loc)
	return d
}

func mustClock(s string) schedule.Clock {
	c, _ := schedule.ParseClock(s)
	return c
}

func (h *handler) getAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	scope, err := schedule.ParseScope(q.Get("scope_type"), q.Get("scope_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_scope", err.Error())
		return
	}
	date, err := schedule.ParseDate(q.Get("date"), h.loc)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	typeID, err := uuid.Parse(q.Get("appointment_type_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_appointment_type_id", "appointment_type_id must be a valid UUID")
		return
	}

	slots, err := h.svc.ResolveAvailability(r.Context(), scope, date, typeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if slots == nil {
		slots = []booking.SlotAvailability{}
	}

	h.respond(w, r, http.StatusOK, AvailabilityResponse{
		Date:              date.Format(time.DateOnly),
		AppointmentTypeID: typeID,
		Slots:             slots,
	})
}

func (h *handler) checkCapacity(w http.ResponseWriter, r *http.Request) {
	var req CheckCapacityRequest
	if !h.decode(w, r, &req) {
		return
	}
	ref, err := schedule.ParseProviderRef(req.ProviderKind, req.ProviderID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_provider", err.Error())
		return
	}
	if req.Capacity == 0 {
		req.Capacity = 1
	}

	res, err := h.svc.CheckCapacity(r.Context(), ref, uuid.MustParse(req.AppointmentTypeID),
		h.parseDate(req.Date), mustClock(req.StartTime), req.Capacity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, CapacityResponse{Available: res.Available, RemainingCapacity: res.RemainingCapacity})
}

func (h *handler) createBooking(w http.ResponseWriter, r *http.Request) {
	customer, err := requester(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_requester", err.Error())
		return
	}

	var req CreateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	ref, err := schedule.ParseProviderRef(req.ProviderKind, req.ProviderID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_provider", err.Error())
		return
	}

	b, err := h.svc.CreateBooking(r.Context(), booking.CreateRequest{
		AppointmentTypeID: uuid.MustParse(req.AppointmentTypeID),
		Provider:          ref,
		Date:              h.parseDate(req.Date),
		StartTime:         mustClock(req.StartTime),
		Capacity:          req.Capacity,
		CustomerID:        customer,
		Answers:           req.Answers,
		Notes:             req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respond(w, r, http.StatusCreated, toBookingResponse(b))
}

func (h *handler) listBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f booking.BookingFilter

	if v := q.Get("customer_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_customer_id", "customer_id must be a valid UUID")
			return
		}
		f.CustomerID = &id
	}
	if kind, id := q.Get("provider_kind"), q.Get("provider_id"); kind != "" || id != "" {
		ref, err := schedule.ParseProviderRef(kind, id)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_provider", err.Error())
			return
		}
		f.Provider = &ref
	}
	if v := q.Get("status"); v != "" {
		s := booking.Status(strings.ToUpper(v))
		switch s {
		case booking.StatusPending, booking.StatusConfirmed, booking.StatusCancelled, booking.StatusCompleted:
		default:
			writeError(w, r, http.StatusBadRequest, "invalid_status", "unknown status "+v)
			return
		}
		f.Status = &s
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_"+p.name, p.name+" must be RFC3339")
			return
		}
		*p.dst = &t
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_"+p.name, p.name+" must be an integer")
			return
		}
		*p.dst = n
	}

	bookings, err := h.svc.ListBookings(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := make([]BookingResponse, 0, len(bookings))
	for i := range bookings {
		resp = append(resp, toBookingResponse(&bookings[i]))
	}
	h.respond(w, r, http.StatusOK, resp)
}

func (h *handler) getBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.GetBooking(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, toBookingResponse(b))
}

func (h *handler) getHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	entries, err := h.svc.ListHistory(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]HistoryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toHistoryResponse(e))
	}
	h.respond(w, r, http.StatusOK, resp)
}

func (h *handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.GetPayment(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, toPaymentResponse(p))
}

func (h *handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	var req ConfirmPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.svc.ConfirmPayment(r.Context(), id, req.TransactionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, toBookingResponse(b))
}

func (h *handler) approveBooking(w http.ResponseWriter, r *http.Request) {
	id, who, ok := h.idAndRequester(w, r)
	if !ok {
		return
	}
	b, err := h.svc.ApproveBooking(r.Context(), id, who)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, toBookingResponse(b))
}

func (h *handler) rejectBooking(w http.ResponseWriter, r *http.Request) {
	h.cancelOrReject(w, r, h.svc.RejectBooking)
}

func (h *handler) cancelBooking(w http.ResponseWriter, r *http.Request) {
	h.cancelOrReject(w, r, h.svc.CancelBooking)
}

type cancelFunc func(ctx context.Context, bookingID, requesterID uuid.UUID, reason string) (*booking.RefundResult, error)

func (h *handler) cancelOrReject(w http.ResponseWriter, r *http.Request, fn cancelFunc) {
	id, who, ok := h.idAndRequester(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	res, err := fn(r.Context(), id, who, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, CancelResponse{
		Booking:          toBookingResponse(res.Booking),
		RefundAmount:     res.RefundAmount,
		RefundPercentage: res.RefundPercentage,
	})
}

func (h *handler) rescheduleBooking(w http.ResponseWriter, r *http.Request) {
	id, who, ok := h.idAndRequester(w, r)
	if !ok {
		return
	}
	var req RescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := booking.RescheduleRequest{
		BookingID:    id,
		RequesterID:  who,
		NewDate:      h.parseDate(req.Date),
		NewStartTime: mustClock(req.StartTime),
		Reason:       req.Reason,
	}
	if req.ProviderKind != "" || req.ProviderID != "" {
		ref, err := schedule.ParseProviderRef(req.ProviderKind, req.ProviderID)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_provider", err.Error())
			return
		}
		in.NewProvider = &ref
	}

	b, err := h.svc.RescheduleBooking(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, toBookingResponse(b))
}

func (h *handler) completeBooking(w http.ResponseWriter, r *http.Request) {
	id, who, ok := h.idAndRequester(w, r)
	if !ok {
		return
	}
	b, err := h.svc.CompleteBooking(r.Context(), id, who)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, toBookingResponse(b))
}
