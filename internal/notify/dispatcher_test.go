package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/notify"
)

type scriptedSink struct {
	errs  []error
	calls int
}

func (s *scriptedSink) Send(context.Context, int64, string) error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

// A zero backoff fires the mock clock's timer immediately, so retry tests
// run without real sleeps.
func newTestDispatcher(sink *scriptedSink, backoff time.Duration) *notify.Dispatcher {
	clk := clock.NewMock(time.Date(2026, time.August, 25, 10, 0, 0, 0, time.UTC))
	return notify.NewDispatcher(sink, clk, 3, time.Second, backoff)
}

func TestDeliverSucceedsFirstAttempt(t *testing.T) {
	sink := &scriptedSink{}
	d := newTestDispatcher(sink, 0)

	if err := d.Deliver(context.Background(), 1, "hi"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if sink.calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", sink.calls)
	}
}

func TestDeliverRetriesTransientErrors(t *testing.T) {
	sink := &scriptedSink{errs: []error{
		errors.New("timeout"),
		errors.New("rate limited"),
	}}
	d := newTestDispatcher(sink, 0)

	if err := d.Deliver(context.Background(), 1, "hi"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if sink.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", sink.calls)
	}
}

func TestDeliverStopsAfterAttemptsExhausted(t *testing.T) {
	sink := &scriptedSink{errs: []error{
		errors.New("down"),
		errors.New("down"),
		errors.New("down"),
		errors.New("down"),
	}}
	d := newTestDispatcher(sink, 0)

	err := d.Deliver(context.Background(), 1, "hi")
	if err == nil {
		t.Fatal("expected an error after exhausted retries")
	}
	if sink.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", sink.calls)
	}
}

func TestDeliverDoesNotRetryPermanentErrors(t *testing.T) {
	sink := &scriptedSink{errs: []error{
		notify.Permanent(errors.New("unknown recipient")),
	}}
	d := newTestDispatcher(sink, 0)

	err := d.Deliver(context.Background(), 1, "hi")
	if !notify.IsPermanent(err) {
		t.Fatalf("expected a permanent error, got %v", err)
	}
	if sink.calls != 1 {
		t.Fatalf("permanent error was retried: %d attempts", sink.calls)
	}
}

func TestDeliverHonoursContextCancellation(t *testing.T) {
	sink := &scriptedSink{errs: []error{errors.New("down"), errors.New("down")}}
	// The mock clock never reaches the backoff deadline, so only the
	// cancellation can release the dispatcher.
	d := newTestDispatcher(sink, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := d.Deliver(ctx, 1, "hi")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sink.calls != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", sink.calls)
	}
}
