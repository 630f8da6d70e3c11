package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"remindbot/internal/models"
	"remindbot/internal/schedule"
)

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, uri string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

const reminderColumns = `id, owner, text, rule, fire_at, state, next_fire, snoozed_until, created_at, last_triggered_at`

func (p *Postgres) CreateReminder(ctx context.Context, rem *models.Reminder) error {
	return p.pool.QueryRow(ctx,
		`INSERT INTO reminders (id, owner, text, rule, fire_at, state, next_fire, snoozed_until)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		rem.ID, rem.Owner, rem.Text, schedule.Encode(rem.Rule), rem.Rule.At,
		rem.State, rem.NextFire, rem.SnoozedUntil,
	).Scan(&rem.CreatedAt)
}

func (p *Postgres) GetReminder(ctx context.Context, id string) (*models.Reminder, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id)
	return scanPGReminder(row)
}

func (p *Postgres) GetOwnedReminder(ctx context.Context, id string, owner int64) (*models.Reminder, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = $1 AND owner = $2`, id, owner)
	return scanPGReminder(row)
}

func (p *Postgres) ListByOwner(ctx context.Context, owner int64) ([]*models.Reminder, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE owner = $1 AND state != 'cancelled'
		 ORDER BY next_fire ASC NULLS LAST, created_at ASC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPGReminders(rows)
}

func (p *Postgres) ListPending(ctx context.Context) ([]*models.Reminder, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE state = 'pending' ORDER BY next_fire ASC NULLS LAST`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPGReminders(rows)
}

func (p *Postgres) UpdateReminder(ctx context.Context, rem *models.Reminder) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE reminders
		 SET text = $1, rule = $2, fire_at = $3, state = $4, next_fire = $5,
		     snoozed_until = $6, last_triggered_at = $7
		 WHERE id = $8`,
		rem.Text, schedule.Encode(rem.Rule), rem.Rule.At, rem.State,
		rem.NextFire, rem.SnoozedUntil, rem.LastTriggeredAt, rem.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (p *Postgres) CancelReminder(ctx context.Context, id string, owner int64) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE reminders SET state = 'cancelled', next_fire = NULL, snoozed_until = NULL
		 WHERE id = $1 AND owner = $2`, id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	return p.pool.QueryRow(ctx,
		`INSERT INTO history (reminder_id, owner, action, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		entry.ReminderID, entry.Owner, entry.Action, entry.CreatedAt,
	).Scan(&entry.ID)
}

func (p *Postgres) ListHistory(ctx context.Context, owner int64) ([]*models.HistoryEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, reminder_id, owner, action, created_at
		 FROM history WHERE owner = $1 ORDER BY created_at ASC, id ASC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		e := &models.HistoryEntry{}
		if err := rows.Scan(&e.ID, &e.ReminderID, &e.Owner, &e.Action, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanPGReminder(row pgRow) (*models.Reminder, error) {
	rem := &models.Reminder{}
	var ruleStr string
	var fireAt time.Time
	err := row.Scan(&rem.ID, &rem.Owner, &rem.Text, &ruleStr, &fireAt, &rem.State,
		&rem.NextFire, &rem.SnoozedUntil, &rem.CreatedAt, &rem.LastTriggeredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rem.Rule, err = schedule.Decode(ruleStr, fireAt)
	if err != nil {
		return nil, fmt.Errorf("reminder %s: %w", rem.ID, err)
	}
	return rem, nil
}

func collectPGReminders(rows pgx.Rows) ([]*models.Reminder, error) {
	var reminders []*models.Reminder
	for rows.Next() {
		rem, err := scanPGReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, rem)
	}
	return reminders, rows.Err()
}
