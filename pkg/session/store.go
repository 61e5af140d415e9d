package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"agentloop/pkg/config"
	"agentloop/pkg/logx"
)

// Store persists the session record as a single JSON document under
// .agentloop/ in the repository. Reads are tolerant: any missing or corrupt
// record reads as "no session" so a damaged file never blocks a fresh start.
type Store struct {
	repoRoot string
	logger   *logx.Logger
}

// Resumed is the result of a checkpoint resume: the rehydrated session and
// the iteration the loop should run next.
type Resumed struct {
	Session         *Session
	ResumeIteration int
}

func NewStore(repoRoot string) *Store {
	return &Store{
		repoRoot: repoRoot,
		logger:   logx.NewLogger("session"),
	}
}

func (st *Store) path() string {
	return filepath.Join(st.repoRoot, config.ConfigDir, config.SessionFilename)
}

// Create starts a fresh session on the given branch with the given commit.
func (st *Store) Create(branch, startCommit string) *Session {
	return NewSession(branch, startCommit)
}

// Load reads the durable record. Returns (nil, nil) when the record is
// absent, unparseable, or missing a required field. Availability wins over
// strict consistency here: a corrupt record must not block starting fresh.
func (st *Store) Load() (*Session, error) {
	data, err := os.ReadFile(st.path())
	if err != nil {
		if !os.IsNotExist(err) {
			st.logger.Warn("session record unreadable, treating as absent: %v", err)
		}
		return nil, nil
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		st.logger.Warn("session record corrupt, treating as absent: %v", err)
		return nil, nil
	}
	if !s.valid() {
		st.logger.Warn("session record missing required fields, treating as absent")
		return nil, nil
	}
	return &s, nil
}

// Save atomically replaces the durable record with the given session.
func (st *Store) Save(s *Session) error {
	dir := filepath.Dir(st.path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Write-then-rename keeps the record whole under interruption.
	tmp, err := os.CreateTemp(dir, config.SessionFilename+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmpName, st.path()); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace session record: %w", err)
	}
	return nil
}

// AppendIterationResult returns a new session with the record appended and
// the running cost incremented. The input session is not mutated.
func AppendIterationResult(s *Session, rec IterationRecord) *Session {
	next := *s
	next.Iterations = make([]IterationRecord, len(s.Iterations), len(s.Iterations)+1)
	copy(next.Iterations, s.Iterations)
	next.Iterations = append(next.Iterations, rec)
	next.TotalCostUSD += rec.CostUSD()
	return &next
}

// SaveCheckpoint records iterationNumber as the last completed unit of work
// and persists the whole record. The commit falls back to UnknownCommit when
// the version-control collaborator cannot supply one.
func (st *Store) SaveCheckpoint(s *Session, iterationNumber int, commit string) error {
	if commit == "" {
		commit = UnknownCommit
	}
	s.Checkpoint = &Checkpoint{
		Iteration: iterationNumber,
		Commit:    commit,
		Timestamp: time.Now().UTC(),
	}
	return st.Save(s)
}

// Clear removes the durable record if one exists.
func (st *Store) Clear() error {
	if err := os.Remove(st.path()); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to clear session record: %w", err)
	}
	st.logger.Info("session record cleared")
	return nil
}

// ResumeFromCheckpoint rehydrates the stored session and computes the next
// iteration to run. Returns nil when there is no session or no checkpoint.
func (st *Store) ResumeFromCheckpoint() (*Resumed, error) {
	s, err := st.Load()
	if err != nil || s == nil || s.Checkpoint == nil {
		return nil, err
	}
	return &Resumed{
		Session:         s,
		ResumeIteration: s.Checkpoint.Iteration + 1,
	}, nil
}
