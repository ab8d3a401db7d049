package main

import (
	"fmt"

	"tide/pkg/eventlog"

	"github.com/spf13/cobra"
)

// newLogsCmd creates the "tide logs" subcommand.
func newLogsCmd() *cobra.Command {
	var (
		agent   string
		evType  string
		waveID  int
		limit   int
		payload bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the coordination event log",
		Long:  "Reads events.db newest-first with optional agent, type, and wave\nfilters. The event log is the authoritative after-the-fact record.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return configError(err)
			}

			reader, err := eventlog.NewReader(paths.EventsDBPath)
			if err != nil {
				return configError(err)
			}
			defer func() { _ = reader.Close() }()

			events, err := reader.Query(cmd.Context(), eventlog.QueryOpts{
				Agent:     agent,
				EventType: evType,
				Wave:      waveID,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no events")
				return nil
			}

			for _, ev := range events {
				line := fmt.Sprintf("%s  %-18s", ev.CreatedAt.UTC().Format("2006-01-02 15:04:05"), ev.Type)
				if ev.Agent != "" {
					line += "  " + ev.Agent
				}
				if ev.Wave > 0 {
					line += fmt.Sprintf("  wave %d", ev.Wave)
				}
				if payload && ev.Payload != "" {
					line += "  " + ev.Payload
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent")
	cmd.Flags().StringVar(&evType, "type", "", "filter by event type")
	cmd.Flags().IntVar(&waveID, "wave", 0, "filter by wave (0 = all)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to print (0 = no limit)")
	cmd.Flags().BoolVar(&payload, "payload", false, "include event payloads")
	return cmd
}
