package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"tide/pkg/notify"
	"tide/pkg/signal"
	"tide/pkg/wave"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// newStopCmd creates the "tide stop" subcommand: the kill switch.
func newStopCmd() *cobra.Command {
	var (
		reason string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Engage the kill switch",
		Long:  "Writes the EMERGENCY-STOP record. Every tide loop observes it on its\nnext tick and halts; nothing resumes until 'tide resume'. Each wave still\nin flight gets an escalation record so the halt is inspectable later.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime("")
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.bus.Halted() {
				fmt.Fprintln(cmd.OutOrStdout(), "kill switch already engaged")
				return nil
			}

			if !force {
				if !isStdinTTY() {
					return fmt.Errorf("refusing to stop without a terminal; use --force")
				}
				fmt.Fprint(cmd.OutOrStdout(), "engage kill switch and halt all coordination? [y/N] ")
				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}

			// Escalate in-flight waves first: publishing is impossible once
			// the switch is engaged.
			for id := 1; id <= rt.settings.Waves; id++ {
				st, err := wave.StatusFromDisk(rt.bus, id, wave.GateDevelop, wave.GateMerge)
				if err != nil {
					return err
				}
				if st.Terminal() {
					continue
				}
				if _, err := rt.bus.PublishEscalation(signal.Escalation{
					Wave:    id,
					Reason:  signal.ReasonKillSwitch,
					Summary: fmt.Sprintf("kill switch engaged: %s", reason),
				}); err != nil {
					return err
				}
			}

			if err := rt.bus.Halt(reason); err != nil {
				return err
			}
			ev := notify.NewEvent(notify.EventError, 0, fmt.Sprintf("kill switch engaged: %s", reason))
			_ = rt.notifier.Notify(cmd.Context(), ev)
			_ = rt.events.Record(cmd.Context(), "kill_switch", "", 0, reason)

			fmt.Fprintln(cmd.OutOrStdout(), "kill switch engaged")
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "manual stop", "reason recorded in the kill-switch file")
	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")
	return cmd
}

// isStdinTTY reports whether stdin is an interactive terminal.
func isStdinTTY() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
