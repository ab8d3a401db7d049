// Package eventlog persists coordination events to a SQLite database at the
// project root. The orchestrator, watchdog, and sync process write rows;
// "tide status" and tide-dash read them. The log is strictly observability:
// core correctness never depends on it, so every write site is best-effort.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// SchemaDDL defines the events table. Execute with db.Exec(SchemaDDL);
// idempotent.
const SchemaDDL = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    agent TEXT,
    wave INTEGER,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS events_type_idx ON events(type);
CREATE INDEX IF NOT EXISTS events_wave_idx ON events(wave);
`

// Logger is the write side of the event log.
type Logger struct {
	db *sql.DB
}

// Open opens (creating if needed) the event log database at dbPath with WAL
// journaling, and ensures the schema exists.
func Open(dbPath string) (*Logger, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if _, err := db.Exec(SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init event log schema: %w", err)
	}
	return &Logger{db: db}, nil
}

// Close releases the database connection. Safe to call on a nil Logger.
func (l *Logger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record inserts one event row. A nil Logger discards the event, so callers
// can run without a log wired at all.
func (l *Logger) Record(ctx context.Context, evType, agent string, wave int, payload string) error {
	if l == nil || l.db == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events (type, agent, wave, payload) VALUES (?, ?, ?, ?)`,
		evType, agent, wave, payload)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}
