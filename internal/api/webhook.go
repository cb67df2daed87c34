package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/booking"
)

const (
	maxWebhookBody = 1 << 20

	// intentMetadataKey links a Stripe PaymentIntent back to the intent id
	// recorded on the pending payment.
	intentMetadataKey = "booking_intent_id"
)

// stripeWebhook confirms payments reported by Stripe. Signature verification
// is its only authentication.
type stripeWebhook struct {
	svc    BookingService
	secret string
	logger *zap.Logger
}

func newStripeWebhook(svc BookingService, secret string, logger *zap.Logger) *stripeWebhook {
	return &stripeWebhook{svc: svc, secret: strings.TrimSpace(secret), logger: logger}
}

func (s *stripeWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.secret == "" {
		writeError(w, r, http.StatusServiceUnavailable, "webhook_not_configured", "")
		return
	}
	sig := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		writeError(w, r, http.StatusBadRequest, "missing_signature", "Stripe-Signature header is required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_body", "")
		return
	}

	evt, err := webhook.ConstructEventWithOptions(body, sig, s.secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_signature", "")
		return
	}

	log := s.logger.With(
		zap.String("provider_event_id", evt.ID),
		zap.String("event_type", string(evt.Type)),
	)

	if evt.Type != "payment_intent.succeeded" {
		log.Debug("stripe event ignored")
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		log.Warn("invalid payment intent payload", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "invalid_payload", "")
		return
	}

	intentID := strings.TrimSpace(pi.Metadata[intentMetadataKey])
	if intentID == "" {
		intentID = pi.ID
	}
	txnID := pi.ID
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		txnID = pi.LatestCharge.ID
	}

	_, err = s.svc.ConfirmPaymentByIntent(r.Context(), intentID, txnID)
	switch {
	case err == nil:
		log.Info("payment confirmed from stripe", zap.String("intent_id", intentID))
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, booking.ErrPaymentSettled):
		log.Info("stripe event duplicate ignored", zap.String("intent_id", intentID))
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "duplicate"})
	case errors.Is(err, booking.ErrChargeOnClosedBooking):
		log.Warn("stripe charge recorded for closed booking, refund required",
			zap.String("intent_id", intentID), zap.String("transaction_id", txnID))
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "refund_required"})
	case errors.Is(err, booking.ErrNotFound):
		// Not one of ours; acknowledging stops Stripe retrying.
		log.Warn("stripe payment for unknown intent", zap.String("intent_id", intentID))
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "unknown_intent"})
	default:
		status, code := errorStatus(err)
		log.Error("stripe payment confirmation failed", zap.String("intent_id", intentID), zap.Error(err))
		writeError(w, r, status, code, "")
	}
}
