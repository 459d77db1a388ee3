package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const journalLogPrefix = "db:journal"

const defaultRecentLimit = 50

// Journal records registry changes in the service_events table.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a new Journal with the given connection pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Ping checks database connectivity.
func (j *Journal) Ping(ctx context.Context) error {
	if err := j.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%s - ping failed: %w", journalLogPrefix, err)
	}
	return nil
}

// Record inserts an entry. An empty ID is replaced with a new UUID and a zero
// OccurredAt with the current time.
func (j *Journal) Record(ctx context.Context, entry JournalEntry) (*JournalEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	if entry.Methods == nil {
		entry.Methods = []string{}
	}

	slog.Debug(fmt.Sprintf("%s - Record action=%s service=%s", journalLogPrefix, entry.Action, entry.ServiceID))

	_, err := j.pool.Exec(ctx,
		`INSERT INTO service_events (id, action, service_id, version, module, methods, services, host, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.Action, entry.ServiceID, entry.Version, entry.Module,
		entry.Methods, entry.Services, entry.Host, entry.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("%s - insert failed: %w", journalLogPrefix, err)
	}
	return &entry, nil
}

// Recent returns the newest entries first.
func (j *Journal) Recent(ctx context.Context, params RecentParams) ([]JournalEntry, error) {
	limit := params.Limit
	if limit < 1 {
		limit = defaultRecentLimit
	}

	query := `SELECT id, action, service_id, version, module, methods, services, host, occurred_at
	          FROM service_events`
	args := []interface{}{}
	if params.ServiceID != "" {
		query += ` WHERE service_id = $1`
		args = append(args, params.ServiceID)
	}
	query += fmt.Sprintf(` ORDER BY occurred_at DESC, id LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - query failed: %w", journalLogPrefix, err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		e, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - rows failed: %w", journalLogPrefix, err)
	}
	return out, nil
}

// Clear truncates the journal. The schema is preserved.
func (j *Journal) Clear(ctx context.Context) error {
	slog.Info(fmt.Sprintf("%s - Clearing service_events", journalLogPrefix))
	if _, err := j.pool.Exec(ctx, `TRUNCATE TABLE service_events`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", journalLogPrefix, err)
	}
	return nil
}

func scanJournalEntry(row pgx.Row) (*JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.Action, &e.ServiceID, &e.Version, &e.Module,
		&e.Methods, &e.Services, &e.Host, &e.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("%s - scan failed: %w", journalLogPrefix, err)
	}
	return &e, nil
}
