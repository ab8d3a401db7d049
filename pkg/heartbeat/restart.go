package heartbeat

import (
	"context"
	"fmt"

	"tide/pkg/config"
)

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// TmuxRestarter restarts a stuck agent by respawning its tmux pane with the
// agent's configured command.
type TmuxRestarter struct {
	Runner CommandRunner
}

// Restart respawns the agent's pane. Missing roster fields are a
// configuration gap, reported rather than silently skipped, so an operator
// who enabled auto_restart learns why nothing happened.
func (t *TmuxRestarter) Restart(ctx context.Context, agent config.Agent) error {
	if agent.RestartTarget == "" || agent.RestartCommand == "" {
		return fmt.Errorf("agent %s has no restart target/command configured", agent.Name)
	}
	_, err := t.Runner.Run(ctx, "tmux", "respawn-pane", "-k",
		"-t", agent.RestartTarget, agent.RestartCommand)
	if err != nil {
		return fmt.Errorf("respawn pane %s for %s: %w", agent.RestartTarget, agent.Name, err)
	}
	return nil
}
