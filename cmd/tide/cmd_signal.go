package main

import (
	"encoding/json"
	"fmt"

	"tide/pkg/signal"

	"github.com/spf13/cobra"
)

// signalRefFlags holds the flags that identify one signal across the
// signal subcommands.
type signalRefFlags struct {
	agent   string
	kind    string
	wave    int
	gate    int
	outcome string
}

func (f *signalRefFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.agent, "agent", "", "agent name for an agent-scoped signal")
	cmd.Flags().StringVar(&f.kind, "kind", "", "signal kind (ready, assignment, complete, ...)")
	cmd.Flags().IntVar(&f.wave, "wave", 0, "wave number for a gate signal")
	cmd.Flags().IntVar(&f.gate, "gate", 0, "gate index for a gate signal")
	cmd.Flags().StringVar(&f.outcome, "outcome", "", "outcome name for a gate signal")
}

// ref builds a signal ref from the flags: agent+kind selects an
// agent-scoped signal, wave+gate+outcome a gate signal.
func (f *signalRefFlags) ref() (signal.Ref, error) {
	switch {
	case f.agent != "" && f.kind != "":
		return signal.AgentRef(f.agent, signal.Kind(f.kind)), nil
	case f.wave > 0 && f.outcome != "":
		return signal.GateRef(f.wave, f.gate, f.outcome), nil
	default:
		return signal.Ref{}, fmt.Errorf("specify --agent and --kind, or --wave, --gate and --outcome")
	}
}

// newSignalCmd creates the "tide signal" subcommand group.
func newSignalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Publish, observe, and consume signal files",
	}
	cmd.AddCommand(
		newSignalPublishCmd(),
		newSignalObserveCmd(),
		newSignalConsumeCmd(),
		newSignalListCmd(),
	)
	return cmd
}

func newSignalPublishCmd() *cobra.Command {
	var flags signalRefFlags
	var payload string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return configError(err)
			}
			ref, err := flags.ref()
			if err != nil {
				return err
			}

			var body any
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("payload is not valid JSON")
				}
				body = json.RawMessage(payload)
			}

			if err := signal.New(paths.Root).Publish(ref, body); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", ref.Filename())
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload body")
	return cmd
}

func newSignalObserveCmd() *cobra.Command {
	var flags signalRefFlags

	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Print a signal if present",
		Long:  "Prints the signal record to stdout. Exits 1 when the signal is absent\nor malformed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return configError(err)
			}
			ref, err := flags.ref()
			if err != nil {
				return err
			}

			sig, err := signal.New(paths.Root).Observe(ref)
			if err != nil {
				return err
			}
			if sig == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s absent\n", ref.Filename())
				return unhealthyError()
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(sig.Raw))
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newSignalConsumeCmd() *cobra.Command {
	var flags signalRefFlags

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Acknowledge a signal by deleting it",
		Long:  "Deletes the signal file. Consuming an absent signal is not an error.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return configError(err)
			}
			ref, err := flags.ref()
			if err != nil {
				return err
			}

			if err := signal.New(paths.Root).Consume(ref); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "consumed %s\n", ref.Filename())
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func newSignalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all signals at the project root",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return configError(err)
			}

			signals, err := signal.New(paths.Root).List()
			if err != nil {
				return err
			}
			if len(signals) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no signals")
				return nil
			}
			for _, sig := range signals {
				switch {
				case sig.Kind == signal.KindEscalation:
					fmt.Fprintf(cmd.OutOrStdout(), "%-12s wave %d  %s\n", sig.Kind, sig.Wave, sig.Timestamp)
				case sig.Agent != "":
					fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s  %s\n", sig.Kind, sig.Agent, sig.Timestamp)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "%-12s wave %d gate %d %s  %s\n", sig.Kind, sig.Wave, sig.Gate, sig.Outcome, sig.Timestamp)
				}
			}
			return nil
		},
	}
}
