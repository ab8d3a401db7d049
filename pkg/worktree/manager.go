package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"tide/pkg/signal"
)

// BranchPrefix is prepended to an agent name to form its branch.
const BranchPrefix = "agent/"

var agentNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// Manager creates and removes per-agent worktrees. Each worktree is bound
// 1:1 to an agent and lives at {root}/worktrees/{agent} on branch
// agent/{agent}.
type Manager struct {
	root   string // project root holding the worktrees/ directory
	repo   string // trunk checkout the worktrees are added from
	trunk  string
	runner GitRunner
}

// NewManager returns a Manager backed by real git commands.
func NewManager(root, repo, trunk string, runner GitRunner) *Manager {
	return &Manager{root: root, repo: repo, trunk: trunk, runner: runner}
}

// PathFor returns the worktree directory for agent.
func (m *Manager) PathFor(agent string) string {
	return filepath.Join(m.root, signal.WorktreesDir, agent)
}

// BranchFor returns the branch name for agent.
func BranchFor(agent string) string {
	return BranchPrefix + agent
}

// Create adds a worktree for agent branched off trunk. Creating a worktree
// that already exists is not an error — the existing binding is kept, so
// the operation is safe to re-run after a partial failure.
func (m *Manager) Create(ctx context.Context, agent string) (path, branch string, err error) {
	// Agent names reach filepath operations; reject anything that could
	// escape the worktrees directory.
	if !agentNamePattern.MatchString(agent) {
		return "", "", fmt.Errorf("invalid agent name %q", agent)
	}

	path = m.PathFor(agent)
	branch = BranchFor(agent)

	if _, statErr := os.Stat(path); statErr == nil {
		return path, branch, nil
	}

	_, stderr, err := m.runner.Run(ctx, m.repo,
		"worktree", "add", path, "-b", branch, m.trunk)
	if err != nil {
		return "", "", fmt.Errorf("worktree add for %s: %w (%s)", agent, err, stderr)
	}
	return path, branch, nil
}

// Remove deletes agent's worktree.
func (m *Manager) Remove(ctx context.Context, agent string) error {
	_, stderr, err := m.runner.Run(ctx, m.repo,
		"worktree", "remove", m.PathFor(agent), "--force")
	if err != nil {
		return fmt.Errorf("worktree remove for %s: %w (%s)", agent, err, stderr)
	}
	return nil
}

// Prune cleans up worktree state left by a previous crash: git's internal
// bookkeeping first, then any orphaned directories. Always returns nil —
// failed cleanup must not block startup.
func (m *Manager) Prune(ctx context.Context, keep map[string]bool) error {
	_, _, _ = m.runner.Run(ctx, m.repo, "worktree", "prune")

	dir := filepath.Join(m.root, signal.WorktreesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil //nolint:nilerr // missing dir is expected, not an error
	}
	for _, entry := range entries {
		if !entry.IsDir() || keep[entry.Name()] {
			continue
		}
		_ = os.RemoveAll(filepath.Join(dir, entry.Name()))
	}
	return nil
}
