// Package notify delivers due reminders to the external notification sink
// with a bounded retry policy.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/clock"
)

// Sink is the external notification transport.
type Sink interface {
	Send(ctx context.Context, owner int64, text string) error
}

// PermanentError marks a sink failure that retrying cannot fix, e.g. an
// unknown recipient or a rejected payload.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the dispatcher gives up immediately.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// Dispatcher invokes the sink with a per-attempt timeout, retrying transient
// failures with exponential backoff up to a fixed attempt count.
type Dispatcher struct {
	sink     Sink
	clk      clock.Clock
	attempts int
	timeout  time.Duration
	backoff  time.Duration
}

func NewDispatcher(sink Sink, clk clock.Clock, attempts int, timeout, backoff time.Duration) *Dispatcher {
	if attempts < 1 {
		attempts = 1
	}
	return &Dispatcher{sink: sink, clk: clk, attempts: attempts, timeout: timeout, backoff: backoff}
}

// Deliver sends one notification. It returns nil on success, the wrapped
// PermanentError on a non-retryable rejection, and the last transient error
// once attempts are exhausted.
func (d *Dispatcher) Deliver(ctx context.Context, owner int64, text string) error {
	var lastErr error
	delay := d.backoff
	for attempt := 1; attempt <= d.attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := d.sink.Send(attemptCtx, owner, text)
		cancel()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		lastErr = err
		if attempt == d.attempts {
			break
		}
		timer := d.clk.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}
		delay *= 2
	}
	return fmt.Errorf("delivery failed after %d attempts: %w", d.attempts, lastErr)
}
