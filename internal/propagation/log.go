package propagation

import "time"

// LogEvent names a transaction-log transition.
type LogEvent string

const (
	LogCreated        LogEvent = "created"
	LogCompleted      LogEvent = "completed"
	LogFailed         LogEvent = "failed"
	LogRolledBack     LogEvent = "rolled_back"
	LogRollbackFailed LogEvent = "rollback_failed"
)

// LogEntry is one append-only audit record. Entries carry wall-clock
// timestamps: the log exists for humans and external audit sinks, not for
// ordering decisions inside the engine.
type LogEntry struct {
	TransactionID string    `json:"transaction_id"`
	Event         LogEvent  `json:"event"`
	Timestamp     time.Time `json:"timestamp"`
	Message       string    `json:"message,omitempty"`
}

// LogSink receives transaction log entries as they are appended. The
// in-memory log is authoritative; a sink is a write-behind copy (for
// example the SQLite sink in package txlog). Sink errors are logged and
// swallowed - audit durability never fails a propagation.
type LogSink interface {
	Append(entry LogEntry) error
}
