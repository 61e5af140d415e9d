// Package iteration assembles the context for one agent invocation, runs it,
// and classifies the outcome into an IterationRecord.
package iteration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agentloop/pkg/agent"
	"agentloop/pkg/config"
	"agentloop/pkg/logx"
	"agentloop/pkg/session"
)

// ErrBacklogMissing is returned when the backlog file does not exist.
// There is nothing to act on, so this is a hard, non-retryable failure.
var ErrBacklogMissing = errors.New("backlog file missing")

// instruction is the fixed directive appended to every prompt. It binds the
// agent to the progress-log and completion-sentinel contract the engine
// depends on.
const instruction = `Work on the next actionable item from the backlog above.

Rules:
1. Pick exactly one unchecked item and complete it fully.
2. Mark the item done in the backlog file and append a dated entry to the progress log describing what you did.
3. When, and only when, every backlog item is complete, output the exact marker ` + agent.CompletionSentinel + ` on its own line.`

// Controller runs one iteration at a time against the configured invoker.
type Controller struct {
	repoRoot string
	cfg      *config.Config
	invoker  agent.Invoker
	tokens   *agent.TokenCounter
	logger   *logx.Logger
}

func NewController(repoRoot string, cfg *config.Config, invoker agent.Invoker) *Controller {
	// Token counting is advisory; run without it if the codec fails.
	tokens, err := agent.NewTokenCounter()
	if err != nil {
		tokens = nil
	}
	return &Controller{
		repoRoot: repoRoot,
		cfg:      cfg,
		invoker:  invoker,
		tokens:   tokens,
		logger:   logx.NewLogger("iteration"),
	}
}

// Run executes iteration number n. It delegates to the invoker exactly once
// and measures wall-clock duration end to end, failure paths included.
// The returned continuation token chains agent context into the next call.
// The only error it returns is ErrBacklogMissing; every agent failure mode
// is encoded in the record.
func (c *Controller) Run(ctx context.Context, n int, continuationToken string) (*session.IterationRecord, string, error) {
	prompt, err := c.buildPrompt()
	if err != nil {
		return nil, "", err
	}

	if c.tokens != nil {
		c.logger.Debug("iteration %d prompt is roughly %d tokens", n, c.tokens.CountTokens(prompt))
	}

	started := time.Now().UTC()
	res := c.invoker.Invoke(ctx, agent.InvokeRequest{
		Prompt:            prompt,
		ContinuationToken: continuationToken,
	})
	completed := time.Now().UTC()

	rec := &session.IterationRecord{
		Iteration:       n,
		StartedAt:       started,
		CompletedAt:     completed,
		DurationSeconds: completed.Sub(started).Seconds(),
		Success:         res.Success,
		Output:          res.Output,
		Status:          res.Status,
		Usage:           res.Usage,
		BacklogComplete: res.BacklogComplete,
	}
	if res.Error != "" {
		c.logger.Warn("iteration %d %s: %s", n, res.Status, res.Error)
	}

	token := res.ContinuationToken
	if token == "" {
		token = continuationToken
	}
	return rec, token, nil
}

// buildPrompt combines the backlog, the progress log (tolerated as empty
// when absent), and the fixed instruction.
func (c *Controller) buildPrompt() (string, error) {
	backlogPath := filepath.Join(c.repoRoot, c.cfg.BacklogFile)
	backlogContent, err := os.ReadFile(backlogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrBacklogMissing, backlogPath)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrBacklogMissing, backlogPath, err)
	}

	progressContent, err := os.ReadFile(filepath.Join(c.repoRoot, c.cfg.ProgressLog))
	if err != nil {
		progressContent = nil // absent progress log reads as empty
	}

	var b strings.Builder
	b.WriteString("# Backlog (")
	b.WriteString(c.cfg.BacklogFile)
	b.WriteString(")\n\n")
	b.Write(backlogContent)
	b.WriteString("\n\n# Progress log (")
	b.WriteString(c.cfg.ProgressLog)
	b.WriteString(")\n\n")
	if len(progressContent) > 0 {
		b.Write(progressContent)
	} else {
		b.WriteString("(empty)\n")
	}
	b.WriteString("\n\n# Instructions\n\n")
	b.WriteString(instruction)
	return b.String(), nil
}
