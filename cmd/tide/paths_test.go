package main

import (
	"path/filepath"
	"testing"
)

func TestResolvePathsDefaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TIDE_ROOT", root)

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths: %v", err)
	}
	if paths.Root != root {
		t.Errorf("Root = %s, want %s", paths.Root, root)
	}
	want := map[string]string{
		"ConfigPath":    filepath.Join(root, "tide.toml"),
		"RosterPath":    filepath.Join(root, "agents.yaml"),
		"EventsDBPath":  filepath.Join(root, "events.db"),
		"NotifyLogPath": filepath.Join(root, "notifications.jsonl"),
	}
	got := map[string]string{
		"ConfigPath":    paths.ConfigPath,
		"RosterPath":    paths.RosterPath,
		"EventsDBPath":  paths.EventsDBPath,
		"NotifyLogPath": paths.NotifyLogPath,
	}
	for name, w := range want {
		if got[name] != w {
			t.Errorf("%s = %s, want %s", name, got[name], w)
		}
	}
}

func TestResolvePathsEnvOverrides(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TIDE_ROOT", root)
	t.Setenv("TIDE_CONFIG", "/etc/tide/tide.toml")
	t.Setenv("TIDE_EVENTS_DB", "/var/lib/tide/events.db")

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths: %v", err)
	}
	if paths.ConfigPath != "/etc/tide/tide.toml" {
		t.Errorf("ConfigPath = %s", paths.ConfigPath)
	}
	if paths.EventsDBPath != "/var/lib/tide/events.db" {
		t.Errorf("EventsDBPath = %s", paths.EventsDBPath)
	}
	// Unset vars still default under the root.
	if paths.RosterPath != filepath.Join(root, "agents.yaml") {
		t.Errorf("RosterPath = %s", paths.RosterPath)
	}
}
