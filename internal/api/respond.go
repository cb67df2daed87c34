package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/booking"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, details string) {
	writeJSON(w, r, status, ErrorResponse{Error: code, Details: details})
}

// errorStatus maps a service error kind to its HTTP status and code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, booking.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, booking.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, booking.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, booking.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, booking.ErrPolicyViolation):
		return http.StatusUnprocessableEntity, "policy_violation"
	case errors.Is(err, booking.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// operation names the matched route for outcome metrics.
func operation(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return r.Method + " " + rctx.RoutePattern()
	}
	return r.Method + " " + r.URL.Path
}

func (h *handler) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	h.metrics.RecordOutcome(r.Context(), operation(r), "ok")
	writeJSON(w, r, status, v)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	h.metrics.RecordOutcome(r.Context(), operation(r), code)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, status, code, "")
		return
	}
	writeError(w, r, status, code, err.Error())
}
