// Package session provides the durable session record and checkpoint store.
// One JSON document per repository holds the full session; it is replaced
// wholesale on every save so a reader never observes a partial write.
package session

import (
	"time"

	"github.com/google/uuid"
)

// UnknownCommit is recorded when the version-control collaborator cannot
// supply a commit hash. Resumption still works; only provenance is lost.
const UnknownCommit = "unknown"

// Status values for an iteration attempt.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Usage captures token and cost accounting reported by the agent backend.
type Usage struct {
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	TotalCostUSD        float64 `json:"total_cost_usd"`
	CacheReadTokens     int64   `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int64   `json:"cache_creation_tokens,omitempty"`
}

// IterationRecord is the bookkeeping for one bounded agent invocation.
// Iteration numbers are 1-based and contiguous within a session; a retried
// attempt reuses its number.
type IterationRecord struct {
	Iteration         int       `json:"iteration"`
	StartedAt         time.Time `json:"started_at"`
	CompletedAt       time.Time `json:"completed_at"`
	DurationSeconds   float64   `json:"duration_seconds"`
	Success           bool      `json:"success"`
	Output            string    `json:"output"`
	Status            string    `json:"status"`
	Usage             *Usage    `json:"usage,omitempty"`
	BacklogComplete   bool      `json:"backlog_complete"`
	CostLimitExceeded bool      `json:"cost_limit_exceeded,omitempty"`
	CostLimitReason   string    `json:"cost_limit_reason,omitempty"`
}

// CostUSD returns the attempt's cost, zero when usage was not reported.
func (r *IterationRecord) CostUSD() float64 {
	if r.Usage == nil {
		return 0
	}
	return r.Usage.TotalCostUSD
}

// Checkpoint marks the last fully completed unit of work. It only ever
// points at an iteration recorded with Success=true.
type Checkpoint struct {
	Iteration int       `json:"iteration"`
	Commit    string    `json:"commit"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the full record of one continuous (possibly resumed) run.
type Session struct {
	ID           string            `json:"id"`
	StartedAt    time.Time         `json:"started_at"`
	StartCommit  string            `json:"start_commit"`
	Branch       string            `json:"branch"`
	Iterations   []IterationRecord `json:"iterations"`
	TotalCostUSD float64           `json:"total_cost_usd"`
	Checkpoint   *Checkpoint       `json:"checkpoint,omitempty"`
}

// NewSession creates a fresh session bound to the given branch and commit.
func NewSession(branch, startCommit string) *Session {
	if startCommit == "" {
		startCommit = UnknownCommit
	}
	return &Session{
		ID:          uuid.New().String(),
		StartedAt:   time.Now().UTC(),
		StartCommit: startCommit,
		Branch:      branch,
		Iterations:  []IterationRecord{},
	}
}

// valid reports whether a loaded record carries every required field.
// Anything less is treated as "no session" by the store.
func (s *Session) valid() bool {
	return s.ID != "" && !s.StartedAt.IsZero() && s.StartCommit != "" &&
		s.Branch != "" && s.Iterations != nil
}

// LastIteration returns the highest recorded iteration number, 0 when empty.
func (s *Session) LastIteration() int {
	if len(s.Iterations) == 0 {
		return 0
	}
	return s.Iterations[len(s.Iterations)-1].Iteration
}
