package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hackgods/booking-engine/internal/booking"
)

type fakeSender struct {
	mu     sync.Mutex
	events []booking.Event
	block  chan struct{}
	err    error
}

func (f *fakeSender) Send(_ context.Context, ev booking.Event) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func event(t booking.EventType) booking.Event {
	return booking.Event{ID: uuid.New(), Type: t, BookingID: uuid.New(), OccurredAt: time.Now()}
}

func TestDispatcherDeliversQueuedEvents(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, nil, 3, 16)
	d.Start(context.Background())

	for i := 0; i < 10; i++ {
		d.Publish(event(booking.EventBookingCreated))
	}
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 10, sender.count())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sender := &fakeSender{block: make(chan struct{})}
	d := NewDispatcher(sender, zap.New(core), 1, 1)
	d.Start(context.Background())

	// one event in flight, one queued, the rest dropped
	d.Publish(event(booking.EventBookingCreated))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, 5*time.Millisecond)
	d.Publish(event(booking.EventBookingCreated))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Publish(event(booking.EventBookingCancelled))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	close(sender.block)
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 2, sender.count())
	assert.Equal(t, 5, logs.FilterMessage("notification queue full, dropping event").Len())
}

func TestDispatcherLogsSendFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := NewDispatcher(&fakeSender{err: errors.New("broker down")}, zap.New(core), 1, 4)
	d.Start(context.Background())

	d.Publish(event(booking.EventBookingCompleted))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 1, logs.FilterMessage("notification delivery failed").Len())
}

func TestDispatcherPublishAfterClose(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, nil, 1, 4)
	d.Start(context.Background())
	require.NoError(t, d.Close(context.Background()))

	assert.NotPanics(t, func() { d.Publish(event(booking.EventBookingCreated)) })
	assert.Zero(t, sender.count())
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSender(t *testing.T) {
	w := &fakeWriter{}
	s := &KafkaSender{writer: w}
	ev := event(booking.EventBookingRescheduled)

	require.NoError(t, s.Send(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, ev.BookingID.String(), string(msg.Key))

	var decoded booking.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, booking.EventBookingRescheduled, decoded.Type)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "booking.rescheduled", headers["event_type"])
	assert.Equal(t, ev.ID.String(), headers["event_id"])

	w.err = errors.New("leader not available")
	assert.Error(t, s.Send(context.Background(), ev))
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	assert.Error(t, ReadyCheck(nil)(context.Background()))
}
