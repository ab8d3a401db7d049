package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newAckCmd creates the "tide ack" subcommand: the human acknowledgment
// that clears an escalation.
func newAckCmd() *cobra.Command {
	var waveID int

	cmd := &cobra.Command{
		Use:   "ack",
		Short: "Acknowledge a wave's escalation",
		Long:  "Archives the active escalation record for the wave so the next\norchestrator run can re-drive it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime("")
			if err != nil {
				return err
			}
			defer rt.Close()

			esc, err := rt.bus.ActiveEscalation(waveID)
			if err != nil {
				return err
			}
			if err := rt.bus.AcknowledgeEscalation(waveID); err != nil {
				return err
			}
			if esc != nil {
				_ = rt.events.Record(cmd.Context(), "escalation_acked", "", waveID,
					fmt.Sprintf(`{"id":%q,"reason":%q}`, esc.ID, esc.Reason))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "escalation for wave %d acknowledged\n", waveID)
			return nil
		},
	}

	cmd.Flags().IntVar(&waveID, "wave", 1, "wave whose escalation to acknowledge")
	return cmd
}
