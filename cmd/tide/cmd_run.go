package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sigbus "tide/pkg/signal"
	"tide/pkg/wave"
	"tide/pkg/worktree"

	"github.com/spf13/cobra"
)

// newRunCmd creates the "tide run" subcommand.
func newRunCmd() *cobra.Command {
	var (
		repo        string
		tmuxSession string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the wave pipeline to completion",
		Long:  "Runs the gate orchestrator and the heartbeat watchdog until every wave\nis deployed or escalated, the kill switch engages, or the process is\ninterrupted. Filesystem change notification is the fast path; a poll pass\nruns at least once per poll interval regardless.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(tmuxSession)
			if err != nil {
				return err
			}
			defer rt.Close()
			return runPipeline(cmd, rt, repo)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", ".", "trunk checkout the contributor branches merge into")
	cmd.Flags().StringVar(&tmuxSession, "tmux-session", "", "tmux session to deliver notifications to")
	return cmd
}

func runPipeline(cmd *cobra.Command, rt *runtime, repo string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newStartupLog(cmd.OutOrStdout())
	start := time.Now()

	manager := worktree.NewManager(rt.paths.Root, repo, rt.settings.Trunk, &worktree.ExecGitRunner{})
	for _, agent := range rt.roster.Contributors() {
		if _, _, err := manager.Create(ctx, agent); err != nil {
			return configError(fmt.Errorf("worktree for %s: %w", agent, err))
		}
	}
	if rt.roster.QAAgent != "" {
		if _, _, err := manager.Create(ctx, rt.roster.QAAgent); err != nil {
			return configError(fmt.Errorf("worktree for %s: %w", rt.roster.QAAgent, err))
		}
	}
	log.StepTimed(fmt.Sprintf("%d worktrees ready", len(rt.roster.Contributors())+1), time.Since(start))

	syncer := worktree.NewSyncer(&worktree.ExecGitRunner{}, rt.bus, manager, worktree.SyncConfig{
		Repo:         repo,
		Trunk:        rt.settings.Trunk,
		Contributors: rt.roster.Contributors(),
		QAAgent:      rt.roster.QAAgent,
		Gate:         wave.GateDevelop,
	}, rt.events)

	orch := wave.NewOrchestrator(rt.bus, rt.roster, rt.orchestratorConfig(), syncer, rt.notifier, rt.events)
	watchdog := newWatchdog(rt)
	log.Step(fmt.Sprintf("driving %d waves, poll every %s", rt.settings.Waves, rt.settings.PollInterval()))

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			done <- err
			cancel()
		})
	}

	// The orchestrator ticks from the shared reconcile function: fsnotify
	// events drive it promptly, the poll interval guarantees progress.
	reconcile := func() {
		finished, err := orch.Tick(loopCtx)
		switch {
		case errors.Is(err, sigbus.ErrHalted):
			finish(sigbus.ErrHalted)
		case err != nil:
			finish(err)
		case finished:
			finish(nil)
		}
	}

	go sigbus.Watch(loopCtx, rt.paths.Root, rt.settings.PollInterval(), reconcile)
	go func() {
		if err := watchdog.Run(loopCtx, rt.settings.PollInterval()); err != nil && !errors.Is(err, context.Canceled) {
			finish(err)
		}
	}()
	reconcile()

	select {
	case err := <-done:
		if errors.Is(err, sigbus.ErrHalted) {
			fmt.Fprintln(cmd.OutOrStdout(), "kill switch engaged, halting")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "all waves terminal")
		return nil
	case <-ctx.Done():
		return nil
	}
}
