package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/booking"
)

const sendTimeout = 5 * time.Second

// Sender delivers one event to an external channel.
type Sender interface {
	Send(ctx context.Context, ev booking.Event) error
}

// Dispatcher is a bounded worker pool in front of a Sender. Publish never
// blocks the caller: when the queue is full the event is dropped and logged.
type Dispatcher struct {
	sender  Sender
	logger  *zap.Logger
	workers int
	queue   chan booking.Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ booking.Notifier = (*Dispatcher)(nil)

func NewDispatcher(sender Sender, logger *zap.Logger, workers, buffer int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sender:  sender,
		logger:  logger,
		workers: workers,
		queue:   make(chan booking.Event, buffer),
	}
}

// Start launches the workers. They exit once Close has been called and the
// queue is drained.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(context.WithoutCancel(ctx))
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for ev := range d.queue {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := d.sender.Send(sendCtx, ev)
		cancel()
		if err != nil {
			d.logger.Warn("notification delivery failed",
				zap.String("event_id", ev.ID.String()),
				zap.String("type", string(ev.Type)),
				zap.String("booking_id", ev.BookingID.String()),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) Publish(ev booking.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("notification dropped after shutdown", zap.String("type", string(ev.Type)))
		return
	}

	select {
	case d.queue <- ev:
	default:
		d.logger.Warn("notification queue full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.String("booking_id", ev.BookingID.String()),
		)
	}
}

// Close stops accepting events and waits for queued ones to be sent, or for
// ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
