// Package database persists reminders and the append-only history ledger.
// Two backends implement the same Store contract: Postgres over pgx for
// shared deployments and embedded SQLite for single-binary ones. The backend
// is picked from the DATABASE_URI scheme.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/models"
)

// Store is the durable repository contract. It exclusively owns the canonical
// reminder records; the scheduler holds only (id, fire time) pairs and comes
// back through GetReminder at fire time.
type Store interface {
	// CreateReminder inserts a new reminder and fills in CreatedAt.
	CreateReminder(ctx context.Context, rem *models.Reminder) error

	// GetReminder fetches by id regardless of owner. Used by the scheduler's
	// fire-time re-fetch. Returns models.ErrNotFound if absent.
	GetReminder(ctx context.Context, id string) (*models.Reminder, error)

	// GetOwnedReminder fetches by id scoped to an owner. Returns
	// models.ErrNotFound when the id is unknown or owned by someone else.
	GetOwnedReminder(ctx context.Context, id string, owner int64) (*models.Reminder, error)

	// ListByOwner returns the owner's non-cancelled reminders ordered by next
	// fire time, reminders without one last.
	ListByOwner(ctx context.Context, owner int64) ([]*models.Reminder, error)

	// ListPending returns every pending reminder. Recovery re-arms from this.
	ListPending(ctx context.Context) ([]*models.Reminder, error)

	// UpdateReminder writes all mutable fields of an existing reminder.
	UpdateReminder(ctx context.Context, rem *models.Reminder) error

	// CancelReminder soft-deletes: state becomes cancelled, the row stays for
	// ledger integrity. Returns models.ErrNotFound when not owned or absent.
	CancelReminder(ctx context.Context, id string, owner int64) error

	// AppendHistory adds an immutable ledger entry.
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error

	// ListHistory returns the owner's ledger entries, timestamp ascending.
	ListHistory(ctx context.Context, owner int64) ([]*models.HistoryEntry, error)

	Close() error
}

// Open connects to the backend named by the URI and applies migrations.
// postgres:// and postgresql:// select the pgx backend; anything else is
// treated as a SQLite database path.
func Open(ctx context.Context, uri string) (Store, error) {
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return OpenPostgres(ctx, uri)
	case uri == "":
		return nil, fmt.Errorf("database uri is empty")
	default:
		return OpenSQLite(ctx, strings.TrimPrefix(uri, "sqlite://"))
	}
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
