// Package clock abstracts the time source so the scheduler can be driven by a
// deterministic mock in tests and by the wall clock in production.
package clock

import "time"

// Timer matches the subset of time.Timer the scheduler relies on.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// New returns the wall clock.
func New() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time        { return r.t.C }
func (r *realTimer) Stop() bool                 { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }
