// Package worktree manages per-agent git worktrees and the sync checkpoint
// that merges contributor branches into the shared trunk. Merge conflicts
// are never auto-resolved: the merge is aborted and an escalation record is
// published for a human.
package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GitRunner abstracts git command execution for testability.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (stdout string, stderr string, err error)
}

// ExecGitRunner is the production GitRunner backed by the git CLI.
type ExecGitRunner struct{}

// Run executes git in dir and returns stdout and stderr separately.
func (ExecGitRunner) Run(ctx context.Context, dir string, args ...string) (string, string, error) {
	fullArgs := append([]string{"-C", dir}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), stderr.String(),
			fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return stdout.String(), stderr.String(), nil
}
