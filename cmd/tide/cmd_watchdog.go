package main

import (
	"fmt"

	"tide/pkg/heartbeat"

	"github.com/spf13/cobra"
)

// newWatchdogCmd creates the "tide watchdog" subcommand.
func newWatchdogCmd() *cobra.Command {
	var (
		once        bool
		tmuxSession string
	)

	cmd := &cobra.Command{
		Use:   "watchdog",
		Short: "Monitor agent liveness",
		Long:  "Classifies every roster agent from its heartbeat age and signals.\nWith --once, runs a single pass and exits 0 (all healthy), 1 (unhealthy\nor escalated), or 2 (cannot run the check).",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(tmuxSession)
			if err != nil {
				return err
			}
			defer rt.Close()

			wd := newWatchdog(rt)
			if !once {
				return wd.Run(cmd.Context(), rt.settings.PollInterval())
			}

			report, err := wd.Check(cmd.Context())
			if err != nil {
				return configError(err)
			}
			for _, a := range report.Agents {
				line := fmt.Sprintf("%-16s %s", a.Agent, a.Health)
				if a.HasBeat {
					line += fmt.Sprintf("  (beat %ds ago", int(a.HeartbeatAge.Seconds()))
					if a.Task != "" {
						line += ", " + a.Task
					}
					line += ")"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}

			escalated := false
			for id := 1; id <= rt.settings.Waves; id++ {
				esc, err := rt.bus.ActiveEscalation(id)
				if err != nil {
					return err
				}
				if esc != nil {
					escalated = true
					fmt.Fprintf(cmd.OutOrStdout(), "wave %d ESCALATED: %s (%s)\n", id, esc.Summary, esc.Reason)
				}
			}

			if !report.AllHealthy() || escalated {
				return unhealthyError()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit with a health code")
	cmd.Flags().StringVar(&tmuxSession, "tmux-session", "", "tmux session to deliver alerts to")
	return cmd
}

// newWatchdog wires a watchdog from the shared runtime.
func newWatchdog(rt *runtime) *heartbeat.Watchdog {
	return heartbeat.NewWatchdog(rt.bus, rt.roster, rt.watchdogConfig(), rt.notifier, rt.events, rt.restarter())
}
