// Package scheduler arms pending reminders on a time-ordered index and fires
// each exactly once when its deadline is reached. A single coordinator loop
// owns the index; it sleeps until the earliest deadline or until a mutation
// wakes it. Firing removes the entry first, re-fetches the canonical record
// from the store, and discards the fire when the record was cancelled or
// edited in the meantime.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/models"
	"remindbot/internal/schedule"
)

// Store is the narrow view of the repository the scheduler needs at fire time.
type Store interface {
	GetReminder(ctx context.Context, id string) (*models.Reminder, error)
	UpdateReminder(ctx context.Context, rem *models.Reminder) error
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
}

// Dispatcher hands a due reminder to the notification sink.
type Dispatcher interface {
	Deliver(ctx context.Context, owner int64, text string) error
}

type entry struct {
	id     string
	fireAt time.Time
	index  int // heap position, maintained by fireHeap
}

type fireHeap []*entry

func (h fireHeap) Len() int           { return len(h) }
func (h fireHeap) Less(i, j int) bool { return h[i].fireAt.Before(h[j].fireAt) }
func (h fireHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }

func (h *fireHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *fireHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	clk        clock.Clock

	// retryDelay paces store retries at fire time; probeDelay re-arms an
	// occurrence whose record could not be read at all, so a store outage
	// never silences a reminder for good.
	storeRetries int
	retryDelay   time.Duration
	probeDelay   time.Duration

	mu      sync.Mutex
	heap    fireHeap
	byID    map[string]*entry
	stopped bool

	wakeCh chan struct{}
	wg     sync.WaitGroup
}

func New(store Store, dispatcher Dispatcher, clk clock.Clock) *Scheduler {
	return &Scheduler{
		store:        store,
		dispatcher:   dispatcher,
		clk:          clk,
		storeRetries: 3,
		retryDelay:   2 * time.Second,
		probeDelay:   time.Minute,
		byID:         make(map[string]*entry),
		wakeCh:       make(chan struct{}, 1),
	}
}

// Arm registers (or replaces) the timer entry for a reminder. A pending
// reminder has at most one entry, so arming an armed id reschedules it.
func (s *Scheduler) Arm(id string, fireAt time.Time) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return models.ErrSchedulerStopped
	}
	if e, ok := s.byID[id]; ok {
		e.fireAt = fireAt
		heap.Fix(&s.heap, e.index)
	} else {
		e := &entry{id: id, fireAt: fireAt}
		heap.Push(&s.heap, e)
		s.byID[id] = e
	}
	s.mu.Unlock()
	s.wake()
	return nil
}

// Disarm removes the entry for a reminder. An absent id is success, which
// makes cancel idempotent.
func (s *Scheduler) Disarm(id string) {
	s.mu.Lock()
	if e, ok := s.byID[id]; ok {
		heap.Remove(&s.heap, e.index)
		delete(s.byID, id)
	}
	s.mu.Unlock()
	s.wake()
}

// NextFire reports the armed deadline for an id, if any.
func (s *Scheduler) NextFire(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return time.Time{}, false
	}
	return e.fireAt, true
}

// ArmedIDs returns the ids currently registered, in no particular order.
func (s *Scheduler) ArmedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run is the coordinator loop. It blocks until ctx is cancelled, then waits
// for in-flight deliveries to finish.
func (s *Scheduler) Run(ctx context.Context) {
	log.Println("scheduler started")
	for {
		s.fireDue(ctx)

		wait, any := s.untilNext()
		if !any {
			select {
			case <-ctx.Done():
				s.shutdown()
				return
			case <-s.wakeCh:
			}
			continue
		}

		timer := s.clk.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.shutdown()
			return
		case <-s.wakeCh:
			timer.Stop()
		case <-timer.C():
		}
	}
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.wg.Wait()
	log.Println("scheduler stopped")
}

func (s *Scheduler) untilNext() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return 0, false
	}
	return s.heap[0].fireAt.Sub(s.clk.Now()), true
}

// fireDue pops every entry whose deadline has passed and dispatches each on
// its own goroutine, so one slow delivery cannot delay the next deadline.
// Entries leave the index before dispatch, which rules out a double fire even
// when delivery is slow.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.clk.Now()

	s.mu.Lock()
	var due []*entry
	for len(s.heap) > 0 && !s.heap[0].fireAt.After(now) {
		e := heap.Pop(&s.heap).(*entry)
		delete(s.byID, e.id)
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			s.fire(ctx, e)
		}(e)
	}
}

func (s *Scheduler) fire(ctx context.Context, e *entry) {
	rem, err := s.fetchWithRetry(ctx, e.id)
	if errors.Is(err, models.ErrNotFound) {
		// Arming an id with no record violates the armed-set invariant.
		log.Printf("reminder %s: armed but not in store, dropping", e.id)
		return
	}
	if err != nil {
		// The record is unreachable, so the rule is unknown here. Re-probe
		// the same occurrence later instead of dropping it; the re-fetch
		// check still suppresses it if it turns out cancelled.
		log.Printf("reminder %s: store unreachable at fire time: %v", e.id, err)
		if armErr := s.Arm(e.id, s.clk.Now().Add(s.probeDelay)); armErr != nil {
			log.Printf("reminder %s: re-arm after store failure: %v", e.id, armErr)
		}
		return
	}

	// The armed entry may be stale: edited, cancelled or already handled
	// between arming and waking. The store record is authoritative.
	if rem.State != models.StatePending {
		log.Printf("reminder %s: skipping fire, state is %s", e.id, rem.State)
		return
	}
	// A record whose occurrence moved past the entry's deadline was edited
	// after arming; the edit re-armed its own entry, so this one is stale.
	// An occurrence at or before the deadline is due (the entry may sit
	// later than the record after a suspension or a store-outage re-probe).
	if rem.NextFire == nil || rem.NextFire.After(e.fireAt) {
		log.Printf("reminder %s: skipping stale fire at %s", e.id, e.fireAt)
		return
	}

	action := models.ActionTriggered
	if err := s.dispatcher.Deliver(ctx, rem.Owner, rem.Text); err != nil {
		// A permanent rejection (or exhausted retries) is a fact about this
		// occurrence, not a scheduler fault: record it and move on.
		log.Printf("reminder %s: delivery failed: %v", e.id, err)
		action = models.ActionMissed
	}

	now := s.clk.Now()
	if err := s.store.AppendHistory(ctx, &models.HistoryEntry{
		ReminderID: rem.ID,
		Owner:      rem.Owner,
		Action:     action,
		CreatedAt:  now,
	}); err != nil {
		log.Printf("reminder %s: record %s: %v", e.id, action, err)
	}

	s.finishFire(ctx, rem, e.fireAt, now)
}

// finishFire writes the post-fire state and re-arms recurring rules for their
// next natural occurrence.
func (s *Scheduler) finishFire(ctx context.Context, rem *models.Reminder, firedAt, now time.Time) {
	rem.LastTriggeredAt = &now
	if rem.SnoozedUntil != nil && !rem.SnoozedUntil.After(firedAt) {
		rem.SnoozedUntil = nil
	}

	if !rem.Rule.IsRecurring() {
		rem.State = models.StateFired
		rem.NextFire = nil
		if err := s.updateWithRetry(ctx, rem); err != nil {
			log.Printf("reminder %s: mark fired: %v", rem.ID, err)
		}
		return
	}

	next, err := schedule.EffectiveNext(rem, now)
	if err != nil {
		log.Printf("reminder %s: recompute next occurrence: %v", rem.ID, err)
		return
	}
	rem.NextFire = &next
	if err := s.updateWithRetry(ctx, rem); err != nil {
		// Keep the in-memory arm even when the write fails: recovery
		// recomputes from the rule, so the cached value healing late is
		// harmless, while dropping the arm would silence the reminder.
		log.Printf("reminder %s: persist next fire: %v", rem.ID, err)
	}
	if err := s.Arm(rem.ID, next); err != nil {
		log.Printf("reminder %s: re-arm: %v", rem.ID, err)
	}
}

func (s *Scheduler) fetchWithRetry(ctx context.Context, id string) (*models.Reminder, error) {
	var rem *models.Reminder
	err := s.withRetry(ctx, func() error {
		var err error
		rem, err = s.store.GetReminder(ctx, id)
		return err
	})
	return rem, err
}

func (s *Scheduler) updateWithRetry(ctx context.Context, rem *models.Reminder) error {
	return s.withRetry(ctx, func() error {
		return s.store.UpdateReminder(ctx, rem)
	})
}

func (s *Scheduler) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil || errors.Is(err, models.ErrNotFound) || attempt == s.storeRetries {
			return err
		}
		timer := s.clk.NewTimer(s.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}
	}
}
