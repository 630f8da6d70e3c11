package models

import "errors"

// Caller-facing error taxonomy. Every error returned across the command
// boundary is (or wraps) one of these, so the presentation layer can render a
// precise message instead of a generic failure.
var (
	// ErrInvalidSchedule rejects a malformed time or day rule, e.g. a weekly
	// rule with an empty weekday set.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrTextTooLong rejects reminder text above the transport bound.
	ErrTextTooLong = errors.New("reminder text too long")

	// ErrNotFound covers both an unknown id and an id not owned by the caller.
	ErrNotFound = errors.New("reminder not found")

	// ErrAlreadyFired rejects operations on a terminal one-shot reminder.
	ErrAlreadyFired = errors.New("reminder already fired")

	// ErrInvalidAction rejects an acknowledgment outcome that is not done or
	// missed.
	ErrInvalidAction = errors.New("invalid acknowledgment action")

	// ErrSchedulerStopped means the coordinator is not running. Fatal at
	// process level, not recoverable per call.
	ErrSchedulerStopped = errors.New("scheduler stopped")
)
