// Package archive keeps a cross-session history of iteration attempts in
// SQLite. The durable session record holds only the current session; the
// archive answers "what happened across runs" for status reporting and the
// dashboard. Archive writes are best-effort: failures are logged by callers
// and never abort the loop.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"agentloop/pkg/logx"
	"agentloop/pkg/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	branch TEXT NOT NULL,
	start_commit TEXT NOT NULL,
	total_cost_usd REAL NOT NULL DEFAULT 0.0,
	outcome TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS attempts (
	session_id TEXT NOT NULL REFERENCES sessions(id),
	iteration INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMP NOT NULL,
	duration_seconds REAL NOT NULL,
	success INTEGER NOT NULL,
	status TEXT NOT NULL,
	backlog_complete INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0.0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, iteration, retry_count)
);

CREATE INDEX IF NOT EXISTS idx_attempts_session ON attempts(session_id);
`

// Store is the SQLite-backed attempt archive. Single writer; SQLite WAL
// mode with a busy timeout covers the occasional concurrent reader.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// SessionSummary is one row of the cross-session report.
type SessionSummary struct {
	ID           string
	StartedAt    time.Time
	Branch       string
	Outcome      string
	Attempts     int
	TotalCostUSD float64
}

// Open opens (creating if needed) the archive at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping archive: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer
	db.SetMaxIdleConns(1)

	return &Store{db: db, logger: logx.NewLogger("archive")}, nil
}

// RecordSession upserts the session row, refreshing cost and outcome.
func (s *Store) RecordSession(ctx context.Context, sess *session.Session, outcome string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, branch, start_commit, total_cost_usd, outcome)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET total_cost_usd = excluded.total_cost_usd, outcome = excluded.outcome`,
		sess.ID, sess.StartedAt, sess.Branch, sess.StartCommit, sess.TotalCostUSD, outcome)
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// RecordAttempt stores one attempt. Retried attempts share an iteration
// number and are distinguished by retry count.
func (s *Store) RecordAttempt(ctx context.Context, sessionID string, rec *session.IterationRecord, retryCount int) error {
	var inputTokens, outputTokens int64
	if rec.Usage != nil {
		inputTokens = rec.Usage.InputTokens
		outputTokens = rec.Usage.OutputTokens
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO attempts
		(session_id, iteration, retry_count, started_at, duration_seconds, success, status,
		 backlog_complete, cost_usd, input_tokens, output_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, rec.Iteration, retryCount, rec.StartedAt, rec.DurationSeconds,
		rec.Success, rec.Status, rec.BacklogComplete, rec.CostUSD(), inputTokens, outputTokens)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// Summaries returns per-session aggregates, most recent first.
func (s *Store) Summaries(ctx context.Context, limit int) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.started_at, s.branch, s.outcome, s.total_cost_usd,
		       (SELECT COUNT(*) FROM attempts a WHERE a.session_id = s.id)
		FROM sessions s
		ORDER BY s.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session summaries: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.StartedAt, &sum.Branch, &sum.Outcome, &sum.TotalCostUSD, &sum.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading session summaries: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
