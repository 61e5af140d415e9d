// Package git supplies commit and branch identity for session records and
// checkpoints. Failures degrade to a sentinel rather than aborting: losing
// provenance is acceptable, losing the run is not.
package git

import (
	"context"
	"os/exec"
	"strings"

	"agentloop/pkg/logx"
	"agentloop/pkg/session"
)

// Info reads repository identity from the git CLI.
type Info struct {
	repoRoot string
	logger   *logx.Logger
}

// Collaborator is the narrow surface the engine consumes.
type Collaborator interface {
	HeadCommit(ctx context.Context) string
	CurrentBranch(ctx context.Context) string
}

func NewInfo(repoRoot string) *Info {
	return &Info{
		repoRoot: repoRoot,
		logger:   logx.NewLogger("git"),
	}
}

// HeadCommit returns the current HEAD hash, or the "unknown" sentinel when
// git is unavailable or the directory is not a repository.
func (g *Info) HeadCommit(ctx context.Context) string {
	out, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		g.logger.Warn("head commit unavailable: %v", err)
		return session.UnknownCommit
	}
	return out
}

// CurrentBranch returns the checked-out branch name, or the "unknown"
// sentinel on detached HEAD or any git failure.
func (g *Info) CurrentBranch(ctx context.Context) string {
	out, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		g.logger.Warn("branch unavailable: %v", err)
		return session.UnknownCommit
	}
	if out == "HEAD" { // detached
		return session.UnknownCommit
	}
	return out
}

func (g *Info) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoRoot
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
