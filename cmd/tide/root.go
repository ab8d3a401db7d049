package main

import (
	"fmt"

	"tide/internal/appversion"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root tide command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tide",
		Short:         "Wave pipeline coordinator for agent fleets",
		Long:          "tide coordinates a fleet of coding agents through a gated release pipeline.\nAll state lives as signal files under the project root; tide processes share\nnothing but the filesystem.",
		Version:       fmt.Sprintf("tide %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newInitCmd(),
		newRunCmd(),
		newWatchdogCmd(),
		newSyncCmd(),
		newBeatCmd(),
		newSignalCmd(),
		newStatusCmd(),
		newStopCmd(),
		newResumeCmd(),
		newAckCmd(),
		newLogsCmd(),
	)

	return cmd
}
