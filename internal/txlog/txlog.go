// Package txlog provides a SQLite-backed sink for the propagation
// manager's transaction log.
//
// The sink is strictly write-behind: the in-memory log is authoritative
// and the manager swallows sink errors after logging them, so audit
// durability never fails a propagation.
package txlog

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/veriton/trustgraph/internal/propagation"
)

//go:embed schema.sql
var schemaSQL string

// Store is a durable transaction-log sink. It implements
// propagation.LogSink.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes one log entry. Timestamps are stored as RFC 3339 text so
// the table is readable with plain sqlite3 tooling.
func (s *Store) Append(entry propagation.LogEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO transaction_log (transaction_id, event, timestamp, message)
		VALUES (?, ?, ?, ?)
	`,
		entry.TransactionID,
		string(entry.Event),
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.Message,
	)
	if err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// Entries reads back the full log in append order. Used by the CLI and by
// tests; the engine itself never reads from the sink.
func (s *Store) Entries() ([]propagation.LogEntry, error) {
	rows, err := s.db.Query(`
		SELECT transaction_id, event, timestamp, message
		FROM transaction_log ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("read log entries: %w", err)
	}
	defer rows.Close()

	var entries []propagation.LogEntry
	for rows.Next() {
		var entry propagation.LogEntry
		var event, ts string
		if err := rows.Scan(&entry.TransactionID, &event, &ts, &entry.Message); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entry.Event = propagation.LogEvent(event)
		entry.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse log timestamp: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}
