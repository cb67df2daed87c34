package booking

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by Service wraps exactly one of these or
// is an infrastructure error.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrPolicyViolation = errors.New("policy violation")
	ErrInvalidState    = errors.New("invalid state")
)

var (
	ErrBookingNotFound         = fmt.Errorf("booking %w", ErrNotFound)
	ErrAppointmentTypeNotFound = fmt.Errorf("appointment type %w", ErrNotFound)
	ErrProviderNotFound        = fmt.Errorf("provider %w", ErrNotFound)
	ErrUserNotFound            = fmt.Errorf("user %w", ErrNotFound)
	ErrPaymentNotFound         = fmt.Errorf("payment %w", ErrNotFound)

	ErrMissingRequester = fmt.Errorf("%w: requester required", ErrUnauthenticated)

	ErrInactiveProvider   = fmt.Errorf("%w: provider is inactive", ErrForbidden)
	ErrInactiveType       = fmt.Errorf("%w: appointment type is inactive", ErrForbidden)
	ErrNotCustomer        = fmt.Errorf("%w: only active customers can book", ErrForbidden)
	ErrNotBookingParty    = fmt.Errorf("%w: requester is not a party to this booking", ErrForbidden)
	ErrNotOrganizer       = fmt.Errorf("%w: requester is not the organizer", ErrForbidden)
	ErrProviderNotOffered = fmt.Errorf("%w: provider does not belong to the organizer", ErrForbidden)

	ErrTooEarly        = fmt.Errorf("%w: start time is inside the minimum notice period", ErrValidation)
	ErrTooFarAhead     = fmt.Errorf("%w: start time is beyond the advance booking window", ErrValidation)
	ErrMissingAnswers  = fmt.Errorf("%w: required questions are unanswered", ErrValidation)
	ErrInvalidCapacity = fmt.Errorf("%w: capacity must be at least 1", ErrValidation)

	ErrCapacityExceeded = fmt.Errorf("%w: slot capacity exceeded", ErrConflict)
	ErrSlotUnavailable  = fmt.Errorf("%w: requested time is outside working hours", ErrConflict)
	ErrPaymentSettled   = fmt.Errorf("%w: payment already confirmed", ErrConflict)
	ErrConcurrentChange = fmt.Errorf("%w: booking changed concurrently, retry", ErrConflict)

	ErrCancellationNotAllowed = fmt.Errorf("%w: cancellation is not allowed for this service", ErrPolicyViolation)
	ErrDeadlinePassed         = fmt.Errorf("%w: cancellation deadline has passed", ErrPolicyViolation)

	ErrTerminal           = fmt.Errorf("%w: booking is cancelled or completed", ErrInvalidState)
	ErrNotPending         = fmt.Errorf("%w: booking is not pending", ErrInvalidState)
	ErrNotConfirmed       = fmt.Errorf("%w: booking is not confirmed", ErrInvalidState)
	ErrNotElapsed         = fmt.Errorf("%w: booking has not ended yet", ErrInvalidState)
	ErrPaymentOutstanding = fmt.Errorf("%w: payment has not succeeded", ErrInvalidState)

	// ErrChargeOnClosedBooking reports a charge that was recorded against a
	// cancelled or completed booking and still needs a refund.
	ErrChargeOnClosedBooking = fmt.Errorf("%w: charge captured for a closed booking", ErrInvalidState)
)
