// Package policy decides what the loop does after each iteration attempt.
// Decide is a pure function over the attempt record, the configured limits,
// cumulative session spend, and the retry count; it touches no other state.
package policy

import (
	"fmt"

	"agentloop/pkg/config"
	"agentloop/pkg/session"
)

// Kind enumerates the possible decisions.
type Kind string

const (
	// StopCostLimitIteration stops because one iteration exceeded its cost ceiling.
	StopCostLimitIteration Kind = "stop_cost_limit_iteration"
	// StopCostLimitSession stops because cumulative spend exceeded the session ceiling.
	StopCostLimitSession Kind = "stop_cost_limit_session"
	// StopBacklogComplete stops because the agent emitted the completion sentinel.
	StopBacklogComplete Kind = "stop_backlog_complete"
	// StopIterationLimit stops because the configured iteration total was reached.
	StopIterationLimit Kind = "stop_iteration_limit"
	// Retry reruns the same iteration number after a failed attempt.
	Retry Kind = "retry_same_iteration"
	// StopRetriesExhausted stops after a failed attempt with no retries left.
	StopRetriesExhausted Kind = "stop_retries_exhausted"
	// Continue advances to the next iteration.
	Continue Kind = "continue"
)

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Kind   Kind
	Reason string

	// NextIteration and NextRetryCount are meaningful for Retry and Continue.
	NextIteration  int
	NextRetryCount int
}

// Terminal reports whether the decision ends the run.
func (d Decision) Terminal() bool {
	return d.Kind != Retry && d.Kind != Continue
}

// Decide maps one completed attempt to a decision. Rules are evaluated in
// strict order, first match wins: cost protection dominates everything,
// including an otherwise successful "backlog complete" iteration; completion
// is trusted over the numeric iteration cap since finishing early is
// desirable; retries are bounded so a systematically failing task cannot
// loop forever. Zero-valued ceilings disable the corresponding check.
//
// Cancelled attempts never reach this function; the loop ends the run
// directly, exempting cancellation from retry and cost accounting.
func Decide(rec *session.IterationRecord, cfg *config.Config, totalIterations int, priorSessionCost float64, retryCount int) Decision {
	cost := rec.CostUSD()

	if cfg.MaxCostPerIteration > 0 && cost > cfg.MaxCostPerIteration {
		return Decision{
			Kind: StopCostLimitIteration,
			Reason: fmt.Sprintf("iteration %d cost $%.4f exceeds per-iteration limit $%.4f",
				rec.Iteration, cost, cfg.MaxCostPerIteration),
		}
	}

	if cfg.MaxCostPerSession > 0 && priorSessionCost+cost > cfg.MaxCostPerSession {
		return Decision{
			Kind: StopCostLimitSession,
			Reason: fmt.Sprintf("session cost $%.4f exceeds session limit $%.4f",
				priorSessionCost+cost, cfg.MaxCostPerSession),
		}
	}

	if rec.BacklogComplete {
		return Decision{
			Kind:   StopBacklogComplete,
			Reason: fmt.Sprintf("backlog complete after iteration %d", rec.Iteration),
		}
	}

	if rec.Iteration >= totalIterations {
		return Decision{
			Kind:   StopIterationLimit,
			Reason: fmt.Sprintf("reached configured total of %d iterations", totalIterations),
		}
	}

	if !rec.Success {
		if retryCount < cfg.MaxRetries {
			return Decision{
				Kind: Retry,
				Reason: fmt.Sprintf("iteration %d failed, retry %d of %d",
					rec.Iteration, retryCount+1, cfg.MaxRetries),
				NextIteration:  rec.Iteration,
				NextRetryCount: retryCount + 1,
			}
		}
		return Decision{
			Kind: StopRetriesExhausted,
			Reason: fmt.Sprintf("iteration %d failed after %d retries",
				rec.Iteration, retryCount),
		}
	}

	return Decision{
		Kind:           Continue,
		Reason:         fmt.Sprintf("iteration %d succeeded", rec.Iteration),
		NextIteration:  rec.Iteration + 1,
		NextRetryCount: 0,
	}
}
