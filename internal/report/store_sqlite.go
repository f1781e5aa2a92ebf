package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go driver: no cgo toolchain needed in this exercise

	"github.com/rizsotto/intercept/internal/event"
)

// SQLiteStore implements EventStore on top of a single-table SQLite
// database, append-only, one row per event frame stored as JSON. Chosen
// over mattn/go-sqlite3 specifically because modernc.org/sqlite is a pure
// Go reimplementation and requires no cgo or C compiler.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) a SQLite database at path
// and ensures its schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store %s: %w", path, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	reporter_id INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize event store schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

var _ EventStore = (*SQLiteStore)(nil)

// Append inserts ev as a single row, serialized as JSON in payload.
func (s *SQLiteStore) Append(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (reporter_id, kind, payload) VALUES (?, ?, ?)`,
		uint64(ev.ReporterID), string(ev.Kind), string(payload))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// All returns every stored event ordered by insertion sequence.
func (s *SQLiteStore) All(ctx context.Context) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM events ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stored event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
