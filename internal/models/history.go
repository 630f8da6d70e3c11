package models

import "time"

// Action is the kind of fact recorded in the history ledger.
type Action string

const (
	ActionTriggered Action = "triggered"
	ActionDone      Action = "done"
	ActionMissed    Action = "missed"
	ActionSnoozed   Action = "snoozed"
)

// HistoryEntry is an immutable ledger fact. Entries are only ever appended:
// the dispatcher writes "triggered" (or "missed" when delivery permanently
// fails), acknowledgment writes "done"/"missed", snooze writes "snoozed".
type HistoryEntry struct {
	ID         int64     `json:"id"`
	ReminderID string    `json:"reminder_id"`
	Owner      int64     `json:"owner"`
	Action     Action    `json:"action"`
	CreatedAt  time.Time `json:"created_at"`
}
