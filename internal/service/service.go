// Package service is the inbound command surface of the reminder engine. It
// validates commands, owns the create/edit/cancel/snooze lifecycle against
// the store, and keeps the scheduler's armed set in step with every mutation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/clock"
	"remindbot/internal/database"
	"remindbot/internal/models"
	"remindbot/internal/schedule"
	"remindbot/internal/scheduler"
)

// MaxTextLen bounds reminder text; the transport rejects longer payloads.
const MaxTextLen = 3000

type Service struct {
	store database.Store
	sched *scheduler.Scheduler
	clk   clock.Clock

	// Store calls on the command path retry transient failures before the
	// error reaches the caller, the same policy the scheduler applies at
	// fire time.
	storeRetries int
	retryDelay   time.Duration
}

func New(store database.Store, sched *scheduler.Scheduler, clk clock.Clock) *Service {
	return &Service{
		store:        store,
		sched:        sched,
		clk:          clk,
		storeRetries: 3,
		retryDelay:   2 * time.Second,
	}
}

func (s *Service) withRetry(ctx context.Context, op func() error) error {
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

// Create validates the rule, assigns an id, computes the initial fire instant
// and arms the scheduler. A one-shot time at or before now rolls forward by
// exactly one day: "14:05" requested at 14:10 means tomorrow 14:05.
func (s *Service) Create(ctx context.Context, owner int64, text string, rule models.Rule) (*models.Reminder, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}
	if err := schedule.Validate(rule); err != nil {
		return nil, err
	}
	now := s.clk.Now()
	if rule.Kind == models.RuleOnce && !rule.At.After(now) {
		rule.At = rule.At.Add(24 * time.Hour)
	}
	next, err := schedule.Next(rule, now)
	if err != nil {
		return nil, err
	}

	rem := &models.Reminder{
		ID:       uuid.NewString(),
		Owner:    owner,
		Text:     text,
		Rule:     rule,
		State:    models.StatePending,
		NextFire: &next,
	}
	if err := s.withRetry(ctx, func() error { return s.store.CreateReminder(ctx, rem) }); err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	if err := s.sched.Arm(rem.ID, next); err != nil {
		return nil, err
	}
	return rem, nil
}

// Edit replaces the text and/or rule of a pending reminder. The caller
// supplies the full desired value for each field it changes. The scheduler
// entry is replaced in the same operation, so no stale timer survives an
// edit. A rule change drops any snooze override.
func (s *Service) Edit(ctx context.Context, id string, owner int64, text *string, rule *models.Rule) (*models.Reminder, error) {
	rem, err := s.getEditable(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	if text != nil {
		if err := validateText(*text); err != nil {
			return nil, err
		}
		rem.Text = *text
	}
	if rule != nil {
		if err := schedule.Validate(*rule); err != nil {
			return nil, err
		}
		newRule := *rule
		if newRule.Kind == models.RuleOnce && !newRule.At.After(now) {
			newRule.At = newRule.At.Add(24 * time.Hour)
		}
		rem.Rule = newRule
		rem.SnoozedUntil = nil
	}

	next, err := schedule.EffectiveNext(rem, now)
	if err != nil {
		return nil, err
	}
	rem.NextFire = &next
	if err := s.withRetry(ctx, func() error { return s.store.UpdateReminder(ctx, rem) }); err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}
	if err := s.sched.Arm(rem.ID, next); err != nil {
		return nil, err
	}
	return rem, nil
}

// Cancel soft-deletes the reminder and disarms it. Disarm of an id that is
// not armed is a no-op, so cancelling twice succeeds.
func (s *Service) Cancel(ctx context.Context, id string, owner int64) error {
	if err := s.withRetry(ctx, func() error { return s.store.CancelReminder(ctx, id, owner) }); err != nil {
		return err
	}
	s.sched.Disarm(id)
	return nil
}

// List returns the owner's reminders, soonest first.
func (s *Service) List(ctx context.Context, owner int64) ([]*models.Reminder, error) {
	return s.store.ListByOwner(ctx, owner)
}

// Acknowledge records the owner's verdict on a delivered reminder.
func (s *Service) Acknowledge(ctx context.Context, id string, owner int64, outcome models.Action) error {
	if outcome != models.ActionDone && outcome != models.ActionMissed {
		return fmt.Errorf("%w: %q", models.ErrInvalidAction, outcome)
	}
	rem, err := s.getOwned(ctx, id, owner)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, func() error {
		return s.store.AppendHistory(ctx, &models.HistoryEntry{
			ReminderID: rem.ID,
			Owner:      owner,
			Action:     outcome,
			CreatedAt:  s.clk.Now(),
		})
	})
}

// Snooze defers the next occurrence by the given number of minutes without
// touching the stored rule: the override is the upcoming fire instant pushed
// back, never an extra earlier fire. Snoozing again pushes the already
// deferred instant further. Firing the override clears it, after which a
// recurring rule resumes its natural cadence.
func (s *Service) Snooze(ctx context.Context, id string, owner int64, minutes int) (*models.Reminder, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("%w: snooze minutes must be positive", models.ErrInvalidSchedule)
	}
	rem, err := s.getEditable(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	base, err := schedule.EffectiveNext(rem, now)
	if err != nil {
		return nil, err
	}
	until := base.Add(time.Duration(minutes) * time.Minute)
	rem.SnoozedUntil = &until
	next, err := schedule.EffectiveNext(rem, now)
	if err != nil {
		return nil, err
	}
	rem.NextFire = &next
	if err := s.withRetry(ctx, func() error { return s.store.UpdateReminder(ctx, rem) }); err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}
	if err := s.sched.Arm(rem.ID, next); err != nil {
		return nil, err
	}
	if err := s.store.AppendHistory(ctx, &models.HistoryEntry{
		ReminderID: rem.ID,
		Owner:      owner,
		Action:     models.ActionSnoozed,
		CreatedAt:  now,
	}); err != nil {
		log.Printf("reminder %s: record snooze: %v", rem.ID, err)
	}
	return rem, nil
}

// History returns the owner's ledger entries, oldest first.
func (s *Service) History(ctx context.Context, owner int64) ([]*models.HistoryEntry, error) {
	return s.store.ListHistory(ctx, owner)
}

// Restore re-arms every pending reminder after a restart. Fire instants are
// recomputed from the rules rather than trusted from the cached column, so
// clock drift and downtime go through the same resolver as live scheduling:
// recurring rules skip to their next natural occurrence, while a one-shot
// whose instant passed during downtime comes back due immediately.
func (s *Service) Restore(ctx context.Context) error {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending reminders: %w", err)
	}
	now := s.clk.Now()
	for _, rem := range pending {
		next, err := schedule.EffectiveNext(rem, now)
		if err != nil {
			log.Printf("reminder %s: unschedulable on recovery: %v", rem.ID, err)
			continue
		}
		if rem.NextFire == nil || !rem.NextFire.Equal(next) {
			rem.NextFire = &next
			if err := s.withRetry(ctx, func() error { return s.store.UpdateReminder(ctx, rem) }); err != nil {
				return fmt.Errorf("refresh next fire for %s: %w", rem.ID, err)
			}
		}
		if err := s.sched.Arm(rem.ID, next); err != nil {
			return err
		}
	}
	log.Printf("recovery armed %d pending reminders", len(pending))
	return nil
}

func (s *Service) getOwned(ctx context.Context, id string, owner int64) (*models.Reminder, error) {
	var rem *models.Reminder
	err := s.withRetry(ctx, func() error {
		var err error
		rem, err = s.store.GetOwnedReminder(ctx, id, owner)
		return err
	})
	return rem, err
}

func (s *Service) getEditable(ctx context.Context, id string, owner int64) (*models.Reminder, error) {
	rem, err := s.getOwned(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	switch rem.State {
	case models.StateCancelled:
		return nil, models.ErrNotFound
	case models.StateFired:
		return nil, models.ErrAlreadyFired
	}
	return rem, nil
}

func validateText(text string) error {
	if text == "" {
		return fmt.Errorf("%w: empty reminder text", models.ErrInvalidSchedule)
	}
	if len(text) > MaxTextLen {
		return models.ErrTextTooLong
	}
	return nil
}
