package loop

import (
	"agentloop/pkg/backlog"
	"agentloop/pkg/session"
)

// Snapshot is an immutable view of the loop's state, delivered to observers
// after every state change. Observers must not retain or mutate Session.
type Snapshot struct {
	Phase           Phase
	Iteration       int
	TotalIterations int
	RetryCount      int
	Status          string
	Session         *session.Session
	Backlog         backlog.Stats
}

// Observer receives state change notifications. Implementations must be
// fast and non-blocking; the loop calls them synchronously.
type Observer interface {
	OnStateChange(Snapshot)
}

// CommandKind names an external control command.
type CommandKind string

const (
	// CommandSetIterations adjusts the effective iteration total mid-run.
	CommandSetIterations CommandKind = "set_iterations"
	// CommandPause finishes the in-flight attempt, then stops with a
	// checkpoint so the run can be resumed later.
	CommandPause CommandKind = "pause"
	// CommandStop ends the run at the next decision point.
	CommandStop CommandKind = "stop"
)

// Command is an external control request. Commands are honored only at
// decision points between attempts, never mid-attempt.
type Command struct {
	Kind       CommandKind
	Iterations int
}
