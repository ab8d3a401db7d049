package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitScaffoldsProject(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TIDE_ROOT", root)

	out, err := runCommand(t, "init")
	if err != nil {
		t.Fatalf("init: %v\n%s", err, out)
	}

	for _, dir := range []string{"heartbeats", "worktrees", "archive"} {
		if info, err := os.Stat(filepath.Join(root, dir)); err != nil || !info.IsDir() {
			t.Errorf("directory %s missing", dir)
		}
	}
	for _, file := range []string{"tide.toml", "agents.yaml", "events.db"} {
		if _, err := os.Stat(filepath.Join(root, file)); err != nil {
			t.Errorf("file %s missing", file)
		}
	}
}

func TestInitKeepsExistingConfig(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TIDE_ROOT", root)

	custom := "trunk = \"develop\"\n"
	if err := os.WriteFile(filepath.Join(root, "tide.toml"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCommand(t, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "keeping it") {
		t.Errorf("existing config not reported as kept:\n%s", out)
	}

	data, err := os.ReadFile(filepath.Join(root, "tide.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != custom {
		t.Error("init overwrote an existing tide.toml")
	}
}
