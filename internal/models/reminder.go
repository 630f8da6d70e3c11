package models

import "time"

// State is the lifecycle state of a reminder.
type State string

const (
	StatePending   State = "pending"
	StateFired     State = "fired"
	StateCancelled State = "cancelled"
)

// RuleKind discriminates the schedule rule variants.
type RuleKind string

const (
	RuleOnce   RuleKind = "once"
	RuleDaily  RuleKind = "daily"
	RuleWeekly RuleKind = "weekly"
)

// Rule describes when a reminder fires. Exactly one variant is
// active at a time, selected by Kind:
//
//   - RuleOnce fires a single time at At.
//   - RuleDaily fires every day at the time-of-day of At.
//   - RuleWeekly fires on each weekday in Days at the time-of-day of At.
//
// At doubles as the one-shot instant and as the time-of-day anchor for
// recurring rules, the same way dtstart anchors an RRULE.
type Rule struct {
	Kind RuleKind       `json:"kind"`
	At   time.Time      `json:"at"`
	Days []time.Weekday `json:"days,omitempty"`
}

// IsRecurring returns true for rules that re-arm after firing.
func (r Rule) IsRecurring() bool {
	return r.Kind != RuleOnce
}

type Reminder struct {
	ID              string     `json:"id"`
	Owner           int64      `json:"owner"`
	Text            string     `json:"text"`
	Rule            Rule       `json:"rule"`
	State           State      `json:"state"`
	NextFire        *time.Time `json:"next_fire"`     // cached; recomputed on rule change and after each firing
	SnoozedUntil    *time.Time `json:"snoozed_until"` // one-shot override, never mutates Rule
	CreatedAt       time.Time  `json:"created_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at"`
}
