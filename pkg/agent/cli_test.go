package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentloop/pkg/config"
	"agentloop/pkg/session"
)

// fakeAgent writes a script that mimics the claude CLI stream-json protocol.
func fakeAgent(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-claude")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

type recordingObserver struct {
	texts    []string
	statuses []string
}

func (r *recordingObserver) OnText(chunk string)    { r.texts = append(r.texts, chunk) }
func (r *recordingObserver) OnStatus(status string) { r.statuses = append(r.statuses, status) }

func newTestCLIInvoker(t *testing.T, script string, observers ...Observer) *CLIInvoker {
	t.Helper()
	cfg := config.Defaults()
	inv := NewCLIInvoker(&cfg, observers...)
	inv.binary = script
	return inv
}

func TestCLIInvokeSuccess(t *testing.T) {
	script := fakeAgent(t, `
cat >/dev/null
echo '{"type":"system","subtype":"init","session_id":"sess-1"}'
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"}]}}'
echo '{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit"}]}}'
echo '{"type":"result","subtype":"success","session_id":"sess-1","total_cost_usd":0.42,"usage":{"input_tokens":1200,"output_tokens":340,"cache_read_input_tokens":50}}'
`)
	obs := &recordingObserver{}
	inv := newTestCLIInvoker(t, script, obs)

	res := inv.Invoke(context.Background(), InvokeRequest{Prompt: "do the work"})

	assert.True(t, res.Success)
	assert.Equal(t, session.StatusCompleted, res.Status)
	assert.Equal(t, "working on it", res.Output)
	assert.Equal(t, "sess-1", res.ContinuationToken)
	assert.False(t, res.BacklogComplete)
	require.NotNil(t, res.Usage)
	assert.Equal(t, int64(1200), res.Usage.InputTokens)
	assert.Equal(t, int64(340), res.Usage.OutputTokens)
	assert.Equal(t, int64(50), res.Usage.CacheReadTokens)
	assert.InDelta(t, 0.42, res.Usage.TotalCostUSD, 1e-9)

	assert.Contains(t, obs.texts, "working on it")
	assert.Contains(t, obs.statuses, "running Edit")
}

func TestCLIInvokeDetectsSentinel(t *testing.T) {
	script := fakeAgent(t, `
cat >/dev/null
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"all done. BACKLOG_COMPLETE"}]}}'
echo '{"type":"result","subtype":"success","total_cost_usd":0.1}'
`)
	inv := newTestCLIInvoker(t, script)

	res := inv.Invoke(context.Background(), InvokeRequest{Prompt: "finish"})
	assert.True(t, res.Success)
	assert.True(t, res.BacklogComplete)
}

func TestCLIInvokeAgentError(t *testing.T) {
	script := fakeAgent(t, `
cat >/dev/null
echo '{"type":"result","subtype":"error_during_execution","is_error":true,"result":"context overflow"}'
`)
	inv := newTestCLIInvoker(t, script)

	res := inv.Invoke(context.Background(), InvokeRequest{Prompt: "work"})
	assert.False(t, res.Success)
	assert.Equal(t, session.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "context overflow")
}

func TestCLIInvokeNonzeroExit(t *testing.T) {
	script := fakeAgent(t, `
cat >/dev/null
echo "boom" >&2
exit 3
`)
	inv := newTestCLIInvoker(t, script)

	res := inv.Invoke(context.Background(), InvokeRequest{Prompt: "work"})
	assert.False(t, res.Success)
	assert.Equal(t, session.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "boom")
}

func TestCLIInvokeMissingBinary(t *testing.T) {
	cfg := config.Defaults()
	inv := NewCLIInvoker(&cfg)
	inv.binary = filepath.Join(t.TempDir(), "does-not-exist")

	res := inv.Invoke(context.Background(), InvokeRequest{Prompt: "work"})
	assert.False(t, res.Success)
	assert.Equal(t, session.StatusFailed, res.Status)
}

func TestCLIInvokeCancellation(t *testing.T) {
	script := fakeAgent(t, `
cat >/dev/null
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"partial"}]}}'
sleep 30
`)
	inv := newTestCLIInvoker(t, script)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := inv.Invoke(ctx, InvokeRequest{Prompt: "work"})

	assert.Less(t, time.Since(start), 10*time.Second, "cancellation must not wait for the agent")
	assert.False(t, res.Success)
	assert.Equal(t, session.StatusCancelled, res.Status, "cancelled is distinguishable from failed")
	assert.Contains(t, res.Output, "partial")
}

func TestCLIInvokeCancellationKillsSpawnedProcesses(t *testing.T) {
	// The agent's tool subprocesses inherit the stdout pipe. If cancellation
	// only kills the direct child, the backgrounded grandchild keeps the pipe
	// open and the read loop blocks for its full lifetime.
	script := fakeAgent(t, `
cat >/dev/null
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"spawning"}]}}'
sh -c 'sleep 60' &
wait
`)
	inv := newTestCLIInvoker(t, script)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := inv.Invoke(ctx, InvokeRequest{Prompt: "work"})

	assert.Less(t, time.Since(start), 10*time.Second, "cancel must take down the whole process group")
	assert.Equal(t, session.StatusCancelled, res.Status)
}

func TestCLIInvokePassesResumeToken(t *testing.T) {
	script := fakeAgent(t, `
cat >/dev/null
found=no
for arg in "$@"; do
  if [ "$prev" = "--resume" ]; then found="$arg"; fi
  prev="$arg"
done
echo "{\"type\":\"assistant\",\"message\":{\"content\":[{\"type\":\"text\",\"text\":\"resume=$found\"}]}}"
echo '{"type":"result","subtype":"success"}'
`)
	inv := newTestCLIInvoker(t, script)

	res := inv.Invoke(context.Background(), InvokeRequest{Prompt: "work", ContinuationToken: "tok-9"})
	require.True(t, res.Success)
	assert.Equal(t, "resume=tok-9", res.Output)
}

func TestEmitterDeduplicatesStatuses(t *testing.T) {
	obs := &recordingObserver{}
	em := newEmitter([]Observer{obs})

	em.status("running Edit")
	em.status("running Edit")
	em.status("running Bash")
	em.status("")

	assert.Equal(t, []string{"running Edit", "running Bash"}, obs.statuses)
}

func TestTokenCounter(t *testing.T) {
	tc, err := NewTokenCounter()
	require.NoError(t, err)

	count := tc.CountTokens("the quick brown fox jumps over the lazy dog")
	assert.Greater(t, count, 0)
	assert.Less(t, count, 20)

	var nilCounter *TokenCounter
	assert.Equal(t, 2, nilCounter.CountTokens("12345678"), "nil counter falls back to chars/4")
}

func TestContainsSentinelExactMatch(t *testing.T) {
	assert.True(t, containsSentinel("prefix BACKLOG_COMPLETE suffix"))
	assert.False(t, containsSentinel("backlog_complete"), "sentinel match is exact")
	assert.False(t, containsSentinel(""))
}
