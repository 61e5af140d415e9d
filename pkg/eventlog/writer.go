// Package eventlog records iteration lifecycle events to daily rotated
// JSONL files for the dashboard collaborator and post-mortem reading.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event kinds.
const (
	KindAttemptStarted  = "attempt_started"
	KindAttemptFinished = "attempt_finished"
	KindDecision        = "decision"
	KindCheckpoint      = "checkpoint"
	KindRunFinished     = "run_finished"
)

// Event is one JSONL line.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	Kind       string    `json:"kind"`
	SessionID  string    `json:"session_id"`
	Iteration  int       `json:"iteration,omitempty"`
	RetryCount int       `json:"retry_count,omitempty"`
	Status     string    `json:"status,omitempty"`
	Decision   string    `json:"decision,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CostUSD    float64   `json:"cost_usd,omitempty"`
}

// Writer appends events to events-YYYY-MM-DD.jsonl in logDir, rotating when
// the date changes.
type Writer struct {
	logDir      string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	w := &Writer{logDir: logDir}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize event log: %w", err)
	}
	return w, nil
}

// Write appends one event. The timestamp is stamped here if unset.
func (w *Writer) Write(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate event log: %w", err)
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if _, err := w.currentFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func (w *Writer) rotateIfNeeded() error {
	newDate := time.Now().UTC().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == newDate {
		return nil
	}

	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close event log: %w", err)
		}
	}

	name := filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", newDate))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log %s: %w", name, err)
	}
	w.currentFile = file
	w.currentDate = newDate
	return nil
}

// Close releases the current log file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}
