package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newResumeCmd creates the "tide resume" subcommand.
func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Clear the kill switch",
		Long:  "Removes the EMERGENCY-STOP record so coordination loops resume on their\nnext start. Escalations published at stop time remain until acknowledged.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime("")
			if err != nil {
				return err
			}
			defer rt.Close()

			if !rt.bus.Halted() {
				fmt.Fprintln(cmd.OutOrStdout(), "kill switch is not engaged")
				return nil
			}
			if err := rt.bus.Resume(); err != nil {
				return err
			}
			_ = rt.events.Record(cmd.Context(), "kill_switch_cleared", "", 0, "")
			fmt.Fprintln(cmd.OutOrStdout(), "kill switch cleared")
			return nil
		},
	}
}
