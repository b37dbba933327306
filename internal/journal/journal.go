// Package journal keeps the history of executed commands in SQLite.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"robotcontrol/internal/clock"
)

// MaxRecent is the largest number of entries Recent returns.
const MaxRecent = 1000

// Entry is one executed command.
type Entry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Robot     string    `json:"robot"`
	Raw       string    `json:"raw"`
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
}

// Journal wraps the SQLite database connection.
type Journal struct {
	db    *sql.DB
	clock clock.Clock
}

// Open opens (or creates) the journal database at path.
func Open(path string, clk clock.Clock) (*Journal, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db, clock: clk}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores e, filling in ID and CreatedAt, and returns the stored entry.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.clock.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO commands (id, created_at, robot, raw, action, success, message) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt.Format(time.RFC3339Nano), e.Robot, e.Raw, e.Action, e.Success, e.Message)
	if err != nil {
		return e, fmt.Errorf("record command: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first. limit is capped at
// MaxRecent.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > MaxRecent {
		limit = MaxRecent
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, created_at, robot, raw, action, success, message FROM commands ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &created, &e.Robot, &e.Raw, &e.Action, &e.Success, &e.Message); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at of command %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands`).Scan(&n)
	return n, err
}

// Prune deletes everything but the newest keep entries and returns how many
// rows were removed.
func (j *Journal) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM commands WHERE seq NOT IN (SELECT seq FROM commands ORDER BY seq DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune commands: %w", err)
	}
	return res.RowsAffected()
}
