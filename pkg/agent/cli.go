package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"agentloop/pkg/config"
	"agentloop/pkg/logx"
	"agentloop/pkg/session"
)

// CLIInvoker drives the claude CLI in headless mode and parses its
// stream-json event stream. The CLI session id doubles as the continuation
// token: passing it back via --resume keeps the agent's context across
// iterations.
type CLIInvoker struct {
	binary   string
	model    string
	repoRoot string
	obs      []Observer
	logger   *logx.Logger
}

// streamEvent is one line of claude CLI stream-json output. Only the fields
// the adapter consumes are declared; everything else is ignored.
type streamEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	Message   *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
			Name string `json:"name"`
		} `json:"content"`
	} `json:"message"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	Usage        *struct {
		InputTokens         int64 `json:"input_tokens"`
		OutputTokens        int64 `json:"output_tokens"`
		CacheReadTokens     int64 `json:"cache_read_input_tokens"`
		CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
	} `json:"usage"`
}

func NewCLIInvoker(cfg *config.Config, observers ...Observer) *CLIInvoker {
	return &CLIInvoker{
		binary: "claude",
		model:  cfg.Model,
		obs:    observers,
		logger: logx.NewLogger("agent-cli"),
	}
}

// WithRepoRoot sets the working directory for spawned agent processes.
func (c *CLIInvoker) WithRepoRoot(root string) *CLIInvoker {
	c.repoRoot = root
	return c
}

// Invoke runs one headless agent turn. Never returns an error: failures and
// cancellation are classified in the result.
func (c *CLIInvoker) Invoke(ctx context.Context, req InvokeRequest) *InvokeResult {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	if req.ContinuationToken != "" {
		args = append(args, "--resume", req.ContinuationToken)
	}

	cmd := exec.CommandContext(ctx, c.binary, args...)
	if c.repoRoot != "" {
		cmd.Dir = c.repoRoot
	}
	cmd.Stdin = strings.NewReader(req.Prompt)

	// The agent forks its own tool subprocesses, which inherit our stdout
	// pipe. Killing only the direct child would leave them holding the pipe
	// open and the read loop blocked until the whole tree exits, so cancel
	// takes down the entire process group. WaitDelay force-closes the pipe
	// in case something detached from the group survives.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failedResult("", fmt.Sprintf("stdout pipe: %v", err))
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return failedResult("", fmt.Sprintf("start agent: %v", err))
	}

	em := newEmitter(c.obs)
	em.status("agent started")

	var output strings.Builder
	result := &InvokeResult{Status: session.StatusFailed}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 256*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			c.logger.Debug("unparseable stream line: %s", line)
			continue
		}
		c.consume(&ev, em, &output, result)
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		em.status("agent cancelled")
		return cancelledResult(output.String())
	}

	result.Output = output.String()
	result.BacklogComplete = containsSentinel(result.Output)

	// Failures keep whatever usage the agent managed to report; a failed
	// attempt still spends money and must count against the cost ceilings.
	if waitErr != nil {
		result.Error = fmt.Sprintf("agent exited: %v: %s", waitErr, strings.TrimSpace(stderr.String()))
		return result
	}
	if scanErr != nil {
		result.Error = fmt.Sprintf("read agent output: %v", scanErr)
		return result
	}
	if result.Error != "" {
		return result
	}

	result.Success = true
	result.Status = session.StatusCompleted
	em.status("agent finished")
	return result
}

// consume folds one stream event into the accumulating result.
func (c *CLIInvoker) consume(ev *streamEvent, em *emitter, output *strings.Builder, result *InvokeResult) {
	switch ev.Type {
	case "system":
		if ev.Subtype == "init" && ev.SessionID != "" {
			result.ContinuationToken = ev.SessionID
		}
	case "assistant":
		if ev.Message == nil {
			return
		}
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "text":
				output.WriteString(block.Text)
				em.text(block.Text)
			case "tool_use":
				em.status(fmt.Sprintf("running %s", block.Name))
			}
		}
	case "result":
		if ev.SessionID != "" {
			result.ContinuationToken = ev.SessionID
		}
		if ev.Usage != nil {
			result.Usage = &session.Usage{
				InputTokens:         ev.Usage.InputTokens,
				OutputTokens:        ev.Usage.OutputTokens,
				TotalCostUSD:        ev.TotalCostUSD,
				CacheReadTokens:     ev.Usage.CacheReadTokens,
				CacheCreationTokens: ev.Usage.CacheCreationTokens,
			}
		} else if ev.TotalCostUSD > 0 {
			result.Usage = &session.Usage{TotalCostUSD: ev.TotalCostUSD}
		}
		if ev.IsError {
			result.Error = fmt.Sprintf("agent reported error: %s", ev.Result)
		}
	}
}
