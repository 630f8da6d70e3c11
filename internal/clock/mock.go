package clock

import (
	"sync"
	"time"
)

// Mock is a Clock whose time only moves when the test calls Advance or Set.
// Timers created from it fire synchronously during the call that moves time
// past their deadline.
type Mock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*mockTimer
}

func NewMock(now time.Time) *Mock {
	return &Mock{now: now}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Mock) NewTimer(d time.Duration) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &mockTimer{
		clock:    m,
		ch:       make(chan time.Time, 1),
		deadline: m.now.Add(d),
	}
	m.timers = append(m.timers, t)
	if d <= 0 {
		t.fire(m.now)
	}
	return t
}

// Advance moves the clock forward and fires every timer whose deadline has
// been reached.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	m.fireDue()
}

// Set jumps the clock to an absolute instant. It never moves time backwards.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.After(m.now) {
		m.now = t
	}
	m.fireDue()
}

func (m *Mock) fireDue() {
	for _, t := range m.timers {
		if !t.stopped && !t.fired && !t.deadline.After(m.now) {
			t.fire(m.now)
		}
	}
}

type mockTimer struct {
	clock    *Mock
	ch       chan time.Time
	deadline time.Time
	stopped  bool
	fired    bool
}

func (t *mockTimer) C() <-chan time.Time { return t.ch }

func (t *mockTimer) fire(now time.Time) {
	t.fired = true
	select {
	case t.ch <- now:
	default:
	}
}

func (t *mockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (t *mockTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = false
	t.fired = false
	t.deadline = t.clock.now.Add(d)
	if d <= 0 {
		t.fire(t.clock.now)
	}
	return active
}
