package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/database"
	"remindbot/internal/models"
	"remindbot/internal/scheduler"
	"remindbot/internal/service"
)

// 2026-08-25 is a Tuesday; the clock starts at 14:00.
var twoPM = time.Date(2026, time.August, 25, 14, 0, 0, 0, time.UTC)

type fixture struct {
	store *database.SQLite
	sched *scheduler.Scheduler
	clk   *clock.Mock
	svc   *service.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "remind.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clk := clock.NewMock(twoPM)
	sched := scheduler.New(store, nopDispatcher{}, clk)
	return &fixture{
		store: store,
		sched: sched,
		clk:   clk,
		svc:   service.New(store, sched, clk),
	}
}

type nopDispatcher struct{}

func (nopDispatcher) Deliver(context.Context, int64, string) error { return nil }

func at(hour, min int) time.Time {
	return time.Date(2026, time.August, 25, hour, min, 0, 0, time.UTC)
}

func TestCreateOnceAheadOfNowFiresToday(t *testing.T) {
	f := newFixture(t)

	rem, err := f.svc.Create(context.Background(), 1, "call mum",
		models.Rule{Kind: models.RuleOnce, At: at(14, 5)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !rem.NextFire.Equal(at(14, 5)) {
		t.Fatalf("expected today 14:05, got %s", rem.NextFire)
	}
	if next, armed := f.sched.NextFire(rem.ID); !armed || !next.Equal(at(14, 5)) {
		t.Fatalf("expected armed at 14:05, got %s (armed=%v)", next, armed)
	}
}

func TestCreateOncePastTimeRollsToTomorrow(t *testing.T) {
	f := newFixture(t)
	f.clk.Set(at(14, 10))

	rem, err := f.svc.Create(context.Background(), 1, "call mum",
		models.Rule{Kind: models.RuleOnce, At: at(14, 5)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := at(14, 5).AddDate(0, 0, 1)
	if !rem.NextFire.Equal(want) {
		t.Fatalf("expected tomorrow 14:05 (%s), got %s", want, rem.NextFire)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, 1, "gym",
		models.Rule{Kind: models.RuleWeekly, At: at(18, 0)})
	if !errors.Is(err, models.ErrInvalidSchedule) {
		t.Fatalf("empty weekday set: expected ErrInvalidSchedule, got %v", err)
	}

	_, err = f.svc.Create(ctx, 1, "",
		models.Rule{Kind: models.RuleOnce, At: at(18, 0)})
	if !errors.Is(err, models.ErrInvalidSchedule) {
		t.Fatalf("empty text: expected ErrInvalidSchedule, got %v", err)
	}

	_, err = f.svc.Create(ctx, 1, strings.Repeat("x", service.MaxTextLen+1),
		models.Rule{Kind: models.RuleOnce, At: at(18, 0)})
	if !errors.Is(err, models.ErrTextTooLong) {
		t.Fatalf("oversized text: expected ErrTextTooLong, got %v", err)
	}

	if ids := f.sched.ArmedIDs(); len(ids) != 0 {
		t.Fatalf("rejected creates left armed entries: %v", ids)
	}
}

func TestEditMovesTimeWithoutOrphanTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rem, err := f.svc.Create(ctx, 1, "standup",
		models.Rule{Kind: models.RuleOnce, At: at(15, 0)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	newRule := models.Rule{Kind: models.RuleOnce, At: at(16, 0)}
	edited, err := f.svc.Edit(ctx, rem.ID, 1, nil, &newRule)
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if !edited.NextFire.Equal(at(16, 0)) {
		t.Fatalf("expected 16:00, got %s", edited.NextFire)
	}

	ids := f.sched.ArmedIDs()
	if len(ids) != 1 || ids[0] != rem.ID {
		t.Fatalf("expected exactly one armed entry for %s, got %v", rem.ID, ids)
	}
	if next, _ := f.sched.NextFire(rem.ID); !next.Equal(at(16, 0)) {
		t.Fatalf("armed at %s, want 16:00", next)
	}

	got, err := f.store.GetReminder(ctx, rem.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.NextFire.Equal(at(16, 0)) {
		t.Fatalf("store kept stale next fire %s", got.NextFire)
	}
}

func TestEditTextKeepsSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rem, err := f.svc.Create(ctx, 1, "standup",
		models.Rule{Kind: models.RuleDaily, At: at(9, 30)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := *rem.NextFire

	text := "daily standup"
	edited, err := f.svc.Edit(ctx, rem.ID, 1, &text, nil)
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Text != text {
		t.Fatalf("text not updated: %q", edited.Text)
	}
	if !edited.NextFire.Equal(before) {
		t.Fatalf("text edit moved the schedule: %s != %s", edited.NextFire, before)
	}
}

func TestEditScopesOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rem, err := f.svc.Create(ctx, 1, "standup",
		models.Rule{Kind: models.RuleOnce, At: at(15, 0)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	text := "hijacked"
	if _, err := f.svc.Edit(ctx, rem.ID, 99, &text, nil); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("foreign edit: expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Edit(ctx, "missing", 1, &text, nil); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown id: expected ErrNotFound, got %v", err)
	}
}

func TestCancelDisarmsAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rem, err := f.svc.Create(ctx, 1, "dentist",
		models.Rule{Kind: models.RuleOnce, At: at(15, 0)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := f.svc.Cancel(ctx, rem.ID, 1); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, armed := f.sched.NextFire(rem.ID); armed {
		t.Fatal("cancelled reminder still armed")
	}
	if err := f.svc.Cancel(ctx, rem.ID, 1); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if err := f.svc.Cancel(ctx, "missing", 1); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown id: expected ErrNotFound, got %v", err)
	}
}

func TestAcknowledgeWritesLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rem, err := f.svc.Create(ctx, 1, "meds",
		models.Rule{Kind: models.RuleDaily, At: at(8, 0)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := f.svc.Acknowledge(ctx, rem.ID, 1, models.ActionDone); err != nil {
		t.Fatalf("Acknowledge done: %v", err)
	}
	if err := f.svc.Acknowledge(ctx, rem.ID, 1, models.ActionMissed); err != nil {
		t.Fatalf("Acknowledge missed: %v", err)
	}
	if err := f.svc.Acknowledge(ctx, rem.ID, 1, models.ActionTriggered); !errors.Is(err, models.ErrInvalidAction) {
		t.Fatalf("triggered as acknowledgment: expected ErrInvalidAction, got %v", err)
	}
	if err := f.svc.Acknowledge(ctx, "missing", 1, models.ActionDone); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown id: expected ErrNotFound, got %v", err)
	}

	entries, err := f.svc.History(ctx, 1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}
	if entries[0].Action != models.ActionDone || entries[1].Action != models.ActionMissed {
		t.Fatalf("unexpected ledger order: %s, %s", entries[0].Action, entries[1].Action)
	}
}

func TestSnoozeDefersWithoutTouchingRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rem, err := f.svc.Create(ctx, 1, "meds",
		models.Rule{Kind: models.RuleDaily, At: at(18, 0)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	snoozed, err := f.svc.Snooze(ctx, rem.ID, 1, 30)
	if err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	want := at(18, 30)
	if !snoozed.NextFire.Equal(want) {
		t.Fatalf("expected deferred fire %s, got %s", want, snoozed.NextFire)
	}
	if snoozed.Rule.Kind != models.RuleDaily || !snoozed.Rule.At.Equal(at(18, 0)) {
		t.Fatalf("snooze mutated the rule: %+v", snoozed.Rule)
	}
	if next, _ := f.sched.NextFire(rem.ID); !next.Equal(want) {
		t.Fatalf("armed at %s, want %s", next, want)
	}

	// A second snooze pushes the already deferred instant further out.
	again, err := f.svc.Snooze(ctx, rem.ID, 1, 15)
	if err != nil {
		t.Fatalf("second Snooze: %v", err)
	}
	if !again.NextFire.Equal(at(18, 45)) {
		t.Fatalf("expected stacked deferral 18:45, got %s", again.NextFire)
	}

	entries, err := f.svc.History(ctx, 1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 2 || entries[0].Action != models.ActionSnoozed {
		t.Fatalf("expected snoozed ledger entries, got %+v", entries)
	}
}

func TestSnoozeNeverAdvancesPendingFire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// One-shot at 18:00, snoozed at 14:00: the fire must move to 18:30, not
	// to 14:30, or the scheduled occurrence would be lost.
	rem, err := f.svc.Create(ctx, 1, "dentist",
		models.Rule{Kind: models.RuleOnce, At: at(18, 0)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	snoozed, err := f.svc.Snooze(ctx, rem.ID, 1, 30)
	if err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	want := at(18, 30)
	if !snoozed.NextFire.Equal(want) {
		t.Fatalf("expected deferred fire %s, got %s", want, snoozed.NextFire)
	}
	if snoozed.NextFire.Before(at(18, 0)) {
		t.Fatalf("snooze moved the fire earlier than scheduled: %s", snoozed.NextFire)
	}
	if next, armed := f.sched.NextFire(rem.ID); !armed || !next.Equal(want) {
		t.Fatalf("armed at %s (armed=%v), want %s", next, armed, want)
	}
}

func TestSnoozeRejectsTerminalAndBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rem, err := f.svc.Create(ctx, 1, "one-off",
		models.Rule{Kind: models.RuleOnce, At: at(15, 0)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.svc.Snooze(ctx, rem.ID, 1, 0); !errors.Is(err, models.ErrInvalidSchedule) {
		t.Fatalf("zero minutes: expected ErrInvalidSchedule, got %v", err)
	}

	fired, err := f.store.GetReminder(ctx, rem.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	fired.State = models.StateFired
	fired.NextFire = nil
	if err := f.store.UpdateReminder(ctx, fired); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := f.svc.Snooze(ctx, rem.ID, 1, 10); !errors.Is(err, models.ErrAlreadyFired) {
		t.Fatalf("fired one-shot: expected ErrAlreadyFired, got %v", err)
	}
	if _, err := f.svc.Snooze(ctx, "missing", 1, 10); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown id: expected ErrNotFound, got %v", err)
	}
}

func TestRestoreArmsExactlyThePendingSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var pendingIDs []string
	for _, text := range []string{"a", "b", "c"} {
		rem, err := f.svc.Create(ctx, 1, text,
			models.Rule{Kind: models.RuleDaily, At: at(18, 0)})
		if err != nil {
			t.Fatalf("Create %s: %v", text, err)
		}
		pendingIDs = append(pendingIDs, rem.ID)
	}
	cancelled, err := f.svc.Create(ctx, 1, "gone",
		models.Rule{Kind: models.RuleOnce, At: at(18, 0)})
	if err != nil {
		t.Fatalf("Create cancelled: %v", err)
	}
	if err := f.svc.Cancel(ctx, cancelled.ID, 1); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// A fresh scheduler stands in for the restarted process.
	restarted := scheduler.New(f.store, nopDispatcher{}, f.clk)
	svc := service.New(f.store, restarted, f.clk)
	if err := svc.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	armed := restarted.ArmedIDs()
	if len(armed) != len(pendingIDs) {
		t.Fatalf("expected %d armed, got %d", len(pendingIDs), len(armed))
	}
	armedSet := make(map[string]bool, len(armed))
	for _, id := range armed {
		armedSet[id] = true
	}
	for _, id := range pendingIDs {
		if !armedSet[id] {
			t.Fatalf("pending reminder %s not re-armed", id)
		}
	}
	if armedSet[cancelled.ID] {
		t.Fatal("cancelled reminder re-armed")
	}

	// Restoring again replaces entries instead of duplicating them.
	if err := svc.Restore(ctx); err != nil {
		t.Fatalf("second Restore: %v", err)
	}
	if got := len(restarted.ArmedIDs()); got != len(pendingIDs) {
		t.Fatalf("restore is not idempotent: %d armed", got)
	}
}

func TestRestoreRecomputesInsteadOfTrustingCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rem, err := f.svc.Create(ctx, 1, "meds",
		models.Rule{Kind: models.RuleDaily, At: at(18, 0)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Simulate two days of downtime: the cached next fire is long past.
	f.clk.Set(twoPM.AddDate(0, 0, 2))
	restarted := scheduler.New(f.store, nopDispatcher{}, f.clk)
	svc := service.New(f.store, restarted, f.clk)
	if err := svc.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	want := at(18, 0).AddDate(0, 0, 2)
	if next, armed := restarted.NextFire(rem.ID); !armed || !next.Equal(want) {
		t.Fatalf("expected skip to next natural occurrence %s, got %s (armed=%v)", want, next, armed)
	}
	got, err := f.store.GetReminder(ctx, rem.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.NextFire == nil || !got.NextFire.Equal(want) {
		t.Fatalf("recomputed next fire not persisted: %v", got.NextFire)
	}
}

func TestRestoreKeepsOverdueOneShotDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rem, err := f.svc.Create(ctx, 1, "one-off",
		models.Rule{Kind: models.RuleOnce, At: at(15, 0)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The instant passed while the process was down; the reminder comes back
	// immediately due instead of vanishing.
	f.clk.Set(at(20, 0))
	restarted := scheduler.New(f.store, nopDispatcher{}, f.clk)
	svc := service.New(f.store, restarted, f.clk)
	if err := svc.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	next, armed := restarted.NextFire(rem.ID)
	if !armed || !next.Equal(at(15, 0)) {
		t.Fatalf("expected overdue arm at 15:00, got %s (armed=%v)", next, armed)
	}
}
