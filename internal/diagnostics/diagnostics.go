// Package diagnostics is an append-only sqlite log of desync events and
// save-state transfer outcomes, for post-mortem debugging of a netplay
// session. It is a purely operational concern: nothing in
// internal/session depends on it being present.
package diagnostics

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Log wraps a sqlite database recording desync and transfer events.
// Every row it writes is tagged with runID, a fresh UUID generated
// once per process, so a post-mortem reader can tell which daemon
// invocation produced a given event without relying on recorded_at
// alone.
type Log struct {
	db    *sql.DB
	runID string
}

// Open opens (creating if absent) the sqlite database at dsn and
// applies any pending migrations.
func Open(dsn string) (*Log, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: open %s: %w", dsn, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("diagnostics: set WAL mode: %w", err)
	}
	l := &Log{db: db, runID: uuid.NewString()}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("diagnostics: migrate: %w", err)
	}
	return l, nil
}

// RunID returns the UUID tagging every row this Log writes.
func (l *Log) RunID() string { return l.runID }

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) migrate() error {
	if _, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := l.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		tx, err := l.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// RecordDesync appends one save-hash mismatch observation.
func (l *Log) RecordDesync(frame int64, port int, ourHash, theirHash int64) error {
	_, err := l.db.Exec(
		"INSERT INTO desync_events (run_id, frame, port, our_hash, their_hash) VALUES (?, ?, ?, ?, ?)",
		l.runID, frame, port, ourHash, theirHash,
	)
	if err != nil {
		return fmt.Errorf("diagnostics: record desync: %w", err)
	}
	return nil
}

// RecordSaveStateTransfer appends one save-state transfer outcome
// (outcome is typically "ok", "timeout", or "integrity_failure").
func (l *Log) RecordSaveStateTransfer(peerID uint64, frame int64, fragmentCount int, outcome, detail string) error {
	var detailArg any
	if detail != "" {
		detailArg = detail
	}
	_, err := l.db.Exec(
		"INSERT INTO savestate_transfers (run_id, peer_id, frame, fragment_count, outcome, detail) VALUES (?, ?, ?, ?, ?, ?)",
		l.runID, peerID, frame, fragmentCount, outcome, detailArg,
	)
	if err != nil {
		return fmt.Errorf("diagnostics: record save-state transfer: %w", err)
	}
	return nil
}

// DesyncEvent is one recorded row from RecordDesync.
type DesyncEvent struct {
	ID        int64
	RunID     string
	Frame     int64
	Port      int
	OurHash   int64
	TheirHash int64
}

// RecentDesyncs returns the most recent desync events, newest first.
func (l *Log) RecentDesyncs(limit int) ([]DesyncEvent, error) {
	rows, err := l.db.Query(
		"SELECT id, run_id, frame, port, our_hash, their_hash FROM desync_events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: recent desyncs: %w", err)
	}
	defer rows.Close()

	var out []DesyncEvent
	for rows.Next() {
		var e DesyncEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.Frame, &e.Port, &e.OurHash, &e.TheirHash); err != nil {
			return nil, fmt.Errorf("diagnostics: scan desync event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
