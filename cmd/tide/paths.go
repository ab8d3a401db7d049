package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds all resolved tide state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Root          string // project root, TIDE_ROOT or cwd
	ConfigPath    string // tide.toml or TIDE_CONFIG
	RosterPath    string // agents.yaml or TIDE_ROSTER
	EventsDBPath  string // events.db or TIDE_EVENTS_DB
	NotifyLogPath string // notifications.jsonl or TIDE_NOTIFY_LOG
}

// ResolvePaths returns all tide paths, respecting env var overrides.
// Environment variables:
//   - TIDE_ROOT: project root holding all signal state (default: cwd)
//   - TIDE_CONFIG: process parameters file (default: $TIDE_ROOT/tide.toml)
//   - TIDE_ROSTER: agent roster file (default: $TIDE_ROOT/agents.yaml)
//   - TIDE_EVENTS_DB: event log database (default: $TIDE_ROOT/events.db)
//   - TIDE_NOTIFY_LOG: notification record (default: $TIDE_ROOT/notifications.jsonl)
//
// If TIDE_ROOT is set, it becomes the base for all default paths. Specific
// env vars override both the default and the TIDE_ROOT base.
func ResolvePaths() (*Paths, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, err
	}

	return &Paths{
		Root:          root,
		ConfigPath:    resolvePathWithEnv("TIDE_CONFIG", root, "tide.toml"),
		RosterPath:    resolvePathWithEnv("TIDE_ROSTER", root, "agents.yaml"),
		EventsDBPath:  resolvePathWithEnv("TIDE_EVENTS_DB", root, "events.db"),
		NotifyLogPath: resolvePathWithEnv("TIDE_NOTIFY_LOG", root, "notifications.jsonl"),
	}, nil
}

// resolveRoot returns the project root from TIDE_ROOT or the working
// directory.
func resolveRoot() (string, error) {
	if v := os.Getenv("TIDE_ROOT"); v != "" {
		return v, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working dir: %w", err)
	}
	return wd, nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins
// base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
