package main

import (
	"errors"
	"fmt"

	"tide/pkg/wave"
	"tide/pkg/worktree"

	"github.com/spf13/cobra"
)

// newSyncCmd creates the "tide sync" subcommand.
func newSyncCmd() *cobra.Command {
	var (
		waveID int
		repo   string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the worktree sync checkpoint for a wave",
		Long:  "Commits outstanding changes in every contributor worktree, merges the\ncontributor branches into trunk in roster order, and resets the QA\nworktree. A merge conflict aborts the merge and escalates.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime("")
			if err != nil {
				return err
			}
			defer rt.Close()

			manager := worktree.NewManager(rt.paths.Root, repo, rt.settings.Trunk, &worktree.ExecGitRunner{})
			syncer := worktree.NewSyncer(&worktree.ExecGitRunner{}, rt.bus, manager, worktree.SyncConfig{
				Repo:         repo,
				Trunk:        rt.settings.Trunk,
				Contributors: rt.roster.Contributors(),
				QAAgent:      rt.roster.QAAgent,
				Gate:         wave.GateDevelop,
			}, rt.events)

			if err := syncer.Sync(cmd.Context(), waveID); err != nil {
				var conflict *worktree.ConflictError
				if errors.As(err, &conflict) {
					fmt.Fprintf(cmd.OutOrStdout(), "merge conflict merging %s into %s:\n", conflict.SourceBranch, conflict.TargetBranch)
					for _, f := range conflict.Files {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", f)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "escalation published for wave %d; resolve and 'tide ack --wave %d'\n", waveID, waveID)
					return unhealthyError()
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wave %d synced to %s\n", waveID, rt.settings.Trunk)
			return nil
		},
	}

	cmd.Flags().IntVar(&waveID, "wave", 1, "wave to sync")
	cmd.Flags().StringVar(&repo, "repo", ".", "trunk checkout the contributor branches merge into")
	return cmd
}
