// Package loop composes the adapter, controller, policy, store, and hook
// dispatcher into the run-until-stop control flow. The loop is single-flight:
// exactly one agent invocation is outstanding per session, and the session
// record is owned exclusively by the loop for the run's duration.
package loop

import "agentloop/pkg/session"

// Phase is the loop's state machine position.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhaseRetrying Phase = "retrying"

	// Terminal phases.
	PhaseCompleted        Phase = "completed"
	PhaseCostLimited      Phase = "cost_limited"
	PhaseRetriesExhausted Phase = "retries_exhausted"
	PhaseCancelled        Phase = "cancelled"
	PhasePaused           Phase = "paused"
	PhaseFailed           Phase = "failed"
)

// Terminal reports whether the phase ends the run.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseIdle, PhaseRunning, PhaseRetrying:
		return false
	default:
		return true
	}
}

// RunResult summarizes a finished run.
type RunResult struct {
	Phase         Phase
	Reason        string
	Session       *session.Session
	IterationsRun int
	// PersistenceCompromised is set when a durable-store write failed: the
	// run continued in memory, but resumability is no longer guaranteed.
	PersistenceCompromised bool
}
