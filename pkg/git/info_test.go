package git

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentloop/pkg/session"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
		{"commit", "--allow-empty", "-q", "-m", "initial"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run(), "git %v", args)
	}
	return dir
}

func TestHeadCommitAndBranch(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := initRepo(t)
	g := NewInfo(dir)

	commit := g.HeadCommit(context.Background())
	assert.Len(t, commit, 40, "full hash expected")
	assert.NotEqual(t, session.UnknownCommit, commit)

	branch := g.CurrentBranch(context.Background())
	assert.NotEmpty(t, branch)
	assert.NotEqual(t, session.UnknownCommit, branch)
}

func TestDegradesToUnknownOutsideRepo(t *testing.T) {
	g := NewInfo(t.TempDir())
	assert.Equal(t, session.UnknownCommit, g.HeadCommit(context.Background()))
	assert.Equal(t, session.UnknownCommit, g.CurrentBranch(context.Background()))
}
