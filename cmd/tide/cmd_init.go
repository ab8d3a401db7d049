package main

import (
	"fmt"
	"os"
	"path/filepath"

	"tide/pkg/config"
	"tide/pkg/eventlog"
	"tide/pkg/signal"

	"github.com/spf13/cobra"
)

// newInitCmd creates the "tide init" subcommand.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold a tide project root",
		Long:  "Creates the signal directories, default tide.toml and agents.yaml,\nand the event log database under the project root.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return configError(err)
			}
			log := newStartupLog(cmd.OutOrStdout())

			for _, dir := range []string{signal.HeartbeatsDir, signal.WorktreesDir, signal.ArchiveDir} {
				if err := os.MkdirAll(filepath.Join(paths.Root, dir), 0o755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}
			log.Step(fmt.Sprintf("directories ready under %s", paths.Root))

			if err := scaffoldFile(log, paths.ConfigPath, config.DefaultSettingsTOML); err != nil {
				return err
			}
			if err := scaffoldFile(log, paths.RosterPath, config.DefaultRosterYAML); err != nil {
				return err
			}

			events, err := eventlog.Open(paths.EventsDBPath)
			if err != nil {
				return configError(err)
			}
			defer func() { _ = events.Close() }()
			log.Step(fmt.Sprintf("event log at %s", paths.EventsDBPath))

			return nil
		},
	}
}

// scaffoldFile writes content to path unless the file already exists.
func scaffoldFile(log *startupLog, path, content string) error {
	if _, err := os.Stat(path); err == nil {
		log.Skip(fmt.Sprintf("%s exists, keeping it", path))
		return nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Step(fmt.Sprintf("wrote %s", path))
	return nil
}
