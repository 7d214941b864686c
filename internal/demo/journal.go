package demo

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Journal is a local, per-process append-only log of buffer events, kept
// purely for crash-recovery inspection after a demo run -- it is never
// part of the replicated SYNC state, so every process's journal reflects
// only the events it personally observed.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (creating if necessary) a sqlite-backed journal at
// path. Use ":memory:" for a throwaway journal.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("demo: open journal %s: %w", path, err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	value TEXT NOT NULL,
	recorded_at TEXT NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("demo: create journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) record(kind, value string) {
	_, _ = j.db.Exec(
		`INSERT INTO events (kind, value, recorded_at) VALUES (?, ?, ?)`,
		kind, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
}

// RecordProduce appends a "produce" event.
func (j *Journal) RecordProduce(value string) { j.record("produce", value) }

// RecordConsume appends a "consume" event.
func (j *Journal) RecordConsume(value string) { j.record("consume", value) }

// Event is a single journaled occurrence.
type Event struct {
	Kind       string
	Value      string
	RecordedAt string
}

// Events returns every recorded event in insertion order.
func (j *Journal) Events() ([]Event, error) {
	rows, err := j.db.Query(`SELECT kind, value, recorded_at FROM events ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("demo: query journal events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Kind, &e.Value, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("demo: scan journal event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
