package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/models"
	"remindbot/internal/schedule"
)

// SQLite is the embedded Store for single-binary deployments and tests.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reminders (
	id TEXT PRIMARY KEY,
	owner INTEGER NOT NULL,
	text TEXT NOT NULL,
	rule TEXT NOT NULL DEFAULT '',
	fire_at TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'pending' CHECK(state IN ('pending','fired','cancelled')),
	next_fire TEXT,
	snoozed_until TEXT,
	created_at TEXT NOT NULL,
	last_triggered_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_reminders_owner ON reminders(owner);
CREATE INDEX IF NOT EXISTS idx_reminders_pending ON reminders(state, next_fire);

CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reminder_id TEXT NOT NULL REFERENCES reminders(id),
	owner INTEGER NOT NULL,
	action TEXT NOT NULL CHECK(action IN ('triggered','done','missed','snoozed')),
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_owner ON history(owner, created_at);
`

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) CreateReminder(ctx context.Context, rem *models.Reminder) error {
	if rem.CreatedAt.IsZero() {
		rem.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, owner, text, rule, fire_at, state, next_fire, snoozed_until, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rem.ID, rem.Owner, rem.Text, schedule.Encode(rem.Rule), ts(rem.Rule.At),
		rem.State, nullTS(rem.NextFire), nullTS(rem.SnoozedUntil), ts(rem.CreatedAt))
	return err
}

func (s *SQLite) GetReminder(ctx context.Context, id string) (*models.Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	return scanSQLiteReminder(row)
}

func (s *SQLite) GetOwnedReminder(ctx context.Context, id string, owner int64) (*models.Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ? AND owner = ?`, id, owner)
	return scanSQLiteReminder(row)
}

func (s *SQLite) ListByOwner(ctx context.Context, owner int64) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE owner = ? AND state != 'cancelled'
		 ORDER BY next_fire IS NULL, next_fire ASC, created_at ASC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSQLiteReminders(rows)
}

func (s *SQLite) ListPending(ctx context.Context) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE state = 'pending' ORDER BY next_fire IS NULL, next_fire ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSQLiteReminders(rows)
}

func (s *SQLite) UpdateReminder(ctx context.Context, rem *models.Reminder) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders
		 SET text = ?, rule = ?, fire_at = ?, state = ?, next_fire = ?,
		     snoozed_until = ?, last_triggered_at = ?
		 WHERE id = ?`,
		rem.Text, schedule.Encode(rem.Rule), ts(rem.Rule.At), rem.State,
		nullTS(rem.NextFire), nullTS(rem.SnoozedUntil), nullTS(rem.LastTriggeredAt), rem.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *SQLite) CancelReminder(ctx context.Context, id string, owner int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET state = 'cancelled', next_fire = NULL, snoozed_until = NULL
		 WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *SQLite) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO history (reminder_id, owner, action, created_at) VALUES (?, ?, ?, ?)`,
		entry.ReminderID, entry.Owner, entry.Action, ts(entry.CreatedAt))
	if err != nil {
		return err
	}
	entry.ID, err = res.LastInsertId()
	return err
}

func (s *SQLite) ListHistory(ctx context.Context, owner int64) ([]*models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reminder_id, owner, action, created_at
		 FROM history WHERE owner = ? ORDER BY created_at ASC, id ASC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		e := &models.HistoryEntry{}
		var created string
		if err := rows.Scan(&e.ID, &e.ReminderID, &e.Owner, &e.Action, &created); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTS(created); err != nil {
			return nil, fmt.Errorf("history %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanSQLiteReminder(row *sql.Row) (*models.Reminder, error) {
	rem := &models.Reminder{}
	var ruleStr, fireAt, created string
	var nextFire, snoozed, lastTriggered sql.NullString
	err := row.Scan(&rem.ID, &rem.Owner, &rem.Text, &ruleStr, &fireAt, &rem.State,
		&nextFire, &snoozed, &created, &lastTriggered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return buildSQLiteReminder(rem, ruleStr, fireAt, created, nextFire, snoozed, lastTriggered)
}

func collectSQLiteReminders(rows *sql.Rows) ([]*models.Reminder, error) {
	var reminders []*models.Reminder
	for rows.Next() {
		rem := &models.Reminder{}
		var ruleStr, fireAt, created string
		var nextFire, snoozed, lastTriggered sql.NullString
		if err := rows.Scan(&rem.ID, &rem.Owner, &rem.Text, &ruleStr, &fireAt, &rem.State,
			&nextFire, &snoozed, &created, &lastTriggered); err != nil {
			return nil, err
		}
		rem, err := buildSQLiteReminder(rem, ruleStr, fireAt, created, nextFire, snoozed, lastTriggered)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, rem)
	}
	return reminders, rows.Err()
}

func buildSQLiteReminder(rem *models.Reminder, ruleStr, fireAt, created string, nextFire, snoozed, lastTriggered sql.NullString) (*models.Reminder, error) {
	at, err := parseTS(fireAt)
	if err != nil {
		return nil, fmt.Errorf("reminder %s fire_at: %w", rem.ID, err)
	}
	if rem.Rule, err = schedule.Decode(ruleStr, at); err != nil {
		return nil, fmt.Errorf("reminder %s: %w", rem.ID, err)
	}
	if rem.CreatedAt, err = parseTS(created); err != nil {
		return nil, fmt.Errorf("reminder %s created_at: %w", rem.ID, err)
	}
	if rem.NextFire, err = optTS(nextFire); err != nil {
		return nil, fmt.Errorf("reminder %s next_fire: %w", rem.ID, err)
	}
	if rem.SnoozedUntil, err = optTS(snoozed); err != nil {
		return nil, fmt.Errorf("reminder %s snoozed_until: %w", rem.ID, err)
	}
	if rem.LastTriggeredAt, err = optTS(lastTriggered); err != nil {
		return nil, fmt.Errorf("reminder %s last_triggered_at: %w", rem.ID, err)
	}
	return rem, nil
}

func nullTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func optTS(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTS(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
