// ABOUTME: SQLite-backed audit log of settled approval decisions using modernc.org/sqlite.
// ABOUTME: Write-behind only; pending state never touches disk.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// AuditEntry records one settled approval decision.
type AuditEntry struct {
	ID        string
	RequestID string
	SessionID string
	Category  string
	ToolName  string
	Outcome   string // decision kind wire name
	Detail    string // reply text or deny reason
	Latency   time.Duration
	CreatedAt time.Time
}

// AuditLog persists settled decisions for later inspection. A nil *AuditLog
// is valid and records nothing, so the gateway can run without a database.
type AuditLog struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenAuditLog opens (creating if needed) the audit database at path.
// Parent directories are created; ":memory:" is accepted for tests.
func OpenAuditLog(path string, logger *slog.Logger) (*AuditLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	a := &AuditLog{db: db, logger: logger.With("component", "audit")}
	if err := a.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *AuditLog) createSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS decisions (
			id         TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			category   TEXT NOT NULL,
			tool_name  TEXT NOT NULL DEFAULT '',
			outcome    TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id, created_at);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Record appends a settled decision. Generates ID and CreatedAt if unset.
// Safe to call on a nil AuditLog.
func (a *AuditLog) Record(ctx context.Context, e *AuditEntry) error {
	if a == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO decisions (id, request_id, session_id, category, tool_name, outcome, detail, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, e.SessionID, e.Category, e.ToolName, e.Outcome, e.Detail,
		e.Latency.Milliseconds(), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording decision: %w", err)
	}
	return nil
}

// ListRecent returns the most recent entries, newest first. The limit is
// clamped to [1, 1000] with a default of 50.
func (a *AuditLog) ListRecent(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if a == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT id, request_id, session_id, category, tool_name, outcome, detail, latency_ms, created_at
		 FROM decisions ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing decisions: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var latencyMS int64
		if err := rows.Scan(&e.ID, &e.RequestID, &e.SessionID, &e.Category, &e.ToolName,
			&e.Outcome, &e.Detail, &latencyMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database. Safe on nil.
func (a *AuditLog) Close() error {
	if a == nil {
		return nil
	}
	return a.db.Close()
}
