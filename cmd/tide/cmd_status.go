package main

import (
	"fmt"
	"time"

	"tide/pkg/wave"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the "tide status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show wave and agent state",
		Long:  "Re-derives every wave's status from the signal files on disk and runs\none watchdog classification pass.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime("")
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			if rt.bus.Halted() {
				fmt.Fprintln(out, "KILL SWITCH ENGAGED (EMERGENCY-STOP present)")
			}

			for id := 1; id <= rt.settings.Waves; id++ {
				st, err := wave.StatusFromDisk(rt.bus, id, wave.GateDevelop, wave.GateMerge)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "wave %d: %s\n", id, st)

				esc, err := rt.bus.ActiveEscalation(id)
				if err != nil {
					return err
				}
				if esc != nil {
					age := rt.bus.EscalationAge(id, time.Now()).Truncate(time.Second)
					fmt.Fprintf(out, "  escalation [%s] %s (active %s)\n", esc.Reason, esc.Summary, age)
					for _, f := range esc.ConflictingFiles {
						fmt.Fprintf(out, "    conflict: %s\n", f)
					}
				}
			}

			report, err := newWatchdog(rt).Check(cmd.Context())
			if err != nil {
				return err
			}
			for _, a := range report.Agents {
				fmt.Fprintf(out, "agent %-16s %s\n", a.Agent, a.Health)
			}
			return nil
		},
	}
}
