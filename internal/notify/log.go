package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/booking"
)

// LogSender writes events to the log. It is used when no broker is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, ev booking.Event) error {
	s.logger.Info("booking event",
		zap.String("event_id", ev.ID.String()),
		zap.String("type", string(ev.Type)),
		zap.String("booking_id", ev.BookingID.String()),
		zap.String("customer_id", ev.CustomerID.String()),
		zap.String("status", string(ev.Status)),
		zap.Time("start", ev.StartTime),
	)
	return nil
}
