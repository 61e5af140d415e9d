// Package agent wraps one bounded invocation of the external coding agent.
// The adapter never lets an error escape its boundary: every failure mode,
// including cancellation, is encoded in the InvokeResult.
package agent

import (
	"context"
	"strings"
	"sync"

	"agentloop/pkg/session"
)

// CompletionSentinel is the exact marker the agent must emit when the
// backlog is fully done. Detection is a substring test over the full
// concatenated output of an iteration.
const CompletionSentinel = "BACKLOG_COMPLETE"

// InvokeRequest carries the assembled context for one agent invocation.
type InvokeRequest struct {
	// Prompt is the combined backlog + progress + instruction text.
	Prompt string
	// ContinuationToken chains agent context from a prior invocation.
	// Opaque: stored and forwarded, never parsed.
	ContinuationToken string
}

// InvokeResult is the structured outcome of one invocation.
type InvokeResult struct {
	Success           bool
	Output            string
	BacklogComplete   bool
	Usage             *session.Usage
	ContinuationToken string
	// Status is one of session.StatusCompleted/StatusFailed/StatusCancelled.
	Status string
	// Error describes the failure for failed invocations.
	Error string
}

// Invoker runs one agent invocation. Implementations must honor ctx
// cancellation by returning a cancelled (not failed) result.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) *InvokeResult
}

// Observer receives incremental output during an invocation.
type Observer interface {
	// OnText receives raw agent text chunks as they stream in.
	OnText(chunk string)
	// OnStatus receives short human-readable activity descriptions.
	OnStatus(status string)
}

// emitter fans out to registered observers and de-duplicates status
// strings within one invocation.
type emitter struct {
	observers []Observer
	mu        sync.Mutex
	seen      map[string]bool
}

func newEmitter(observers []Observer) *emitter {
	return &emitter{
		observers: observers,
		seen:      make(map[string]bool),
	}
}

func (e *emitter) text(chunk string) {
	if chunk == "" {
		return
	}
	for _, o := range e.observers {
		o.OnText(chunk)
	}
}

func (e *emitter) status(status string) {
	if status == "" {
		return
	}
	e.mu.Lock()
	if e.seen[status] {
		e.mu.Unlock()
		return
	}
	e.seen[status] = true
	e.mu.Unlock()

	for _, o := range e.observers {
		o.OnStatus(status)
	}
}

// containsSentinel applies the exact-match substring test for backlog
// completion over an iteration's full concatenated output.
func containsSentinel(output string) bool {
	return strings.Contains(output, CompletionSentinel)
}

// cancelledResult classifies a context-cancelled invocation. Cancellation is
// distinguishable from failure so the loop can exempt it from retry and cost
// accounting.
func cancelledResult(partial string) *InvokeResult {
	return &InvokeResult{
		Success: false,
		Output:  partial,
		Status:  session.StatusCancelled,
		Error:   "invocation cancelled",
	}
}

func failedResult(partial, errDesc string) *InvokeResult {
	return &InvokeResult{
		Success: false,
		Output:  partial,
		Status:  session.StatusFailed,
		Error:   errDesc,
	}
}
