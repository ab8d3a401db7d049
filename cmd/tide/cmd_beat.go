package main

import (
	"fmt"

	"tide/pkg/heartbeat"

	"github.com/spf13/cobra"
)

// newBeatCmd creates the "tide beat" subcommand, the liveness hook agent
// wrappers call on a steady interval. The watchdog never beats on an
// agent's behalf.
func newBeatCmd() *cobra.Command {
	var (
		status string
		task   string
		gate   string
	)

	cmd := &cobra.Command{
		Use:   "beat <agent>",
		Short: "Record a heartbeat for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return configError(err)
			}
			if err := heartbeat.Beat(paths.Root, args[0], status, task, gate); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "beat recorded for %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "working", "agent status")
	cmd.Flags().StringVar(&task, "task", "", "current task description")
	cmd.Flags().StringVar(&gate, "gate", "", "current gate name")
	return cmd
}
