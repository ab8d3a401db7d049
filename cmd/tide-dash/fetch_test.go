package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"tide/pkg/config"
	"tide/pkg/heartbeat"
	"tide/pkg/signal"
)

// seedProject scaffolds a minimal project root for snapshot tests.
func seedProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("TIDE_ROOT", root)

	if err := os.WriteFile(filepath.Join(root, "tide.toml"), []byte(config.DefaultSettingsTOML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "agents.yaml"), []byte(config.DefaultRosterYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestFetchSnapshotWaveAndAgentState(t *testing.T) {
	root := seedProject(t)
	bus := signal.New(root)

	if err := bus.Publish(signal.GateRef(1, 4, "approved"), map[string]any{"cost": 3.0}); err != nil {
		t.Fatal(err)
	}
	if err := heartbeat.Beat(root, "qa", "working", "reviewing", "qa"); err != nil {
		t.Fatal(err)
	}

	snap, err := fetchSnapshot()
	if err != nil {
		t.Fatalf("fetchSnapshot: %v", err)
	}
	if snap.Root != root {
		t.Errorf("Root = %s, want %s", snap.Root, root)
	}
	if len(snap.Waves) != 1 || snap.Waves[0].Status != "QA_APPROVED" {
		t.Errorf("waves = %+v, want one QA_APPROVED wave", snap.Waves)
	}

	byName := map[string]AgentRow{}
	for _, a := range snap.Agents {
		byName[a.Name] = a
	}
	if byName["qa"].Health != "healthy" {
		t.Errorf("qa health = %s, want healthy", byName["qa"].Health)
	}
	if byName["frontend-1"].Health != "idle" {
		t.Errorf("frontend-1 health = %s, want idle", byName["frontend-1"].Health)
	}
}

func TestFetchSnapshotReportsKillSwitchAndEscalation(t *testing.T) {
	root := seedProject(t)
	bus := signal.New(root)

	if _, err := bus.PublishEscalation(signal.Escalation{Wave: 1, Reason: signal.ReasonMergeConflict}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Halt("drill"); err != nil {
		t.Fatal(err)
	}

	snap, err := fetchSnapshot()
	if err != nil {
		t.Fatalf("fetchSnapshot: %v", err)
	}
	if !snap.Halted {
		t.Error("Halted = false with EMERGENCY-STOP present")
	}
	if len(snap.Waves) != 1 || snap.Waves[0].Status != "ESCALATED" {
		t.Errorf("waves = %+v, want one ESCALATED wave", snap.Waves)
	}
	if snap.Waves[0].Escalation != signal.ReasonMergeConflict {
		t.Errorf("escalation reason = %s", snap.Waves[0].Escalation)
	}
}

func TestSnapshotMarshalsForRobotMode(t *testing.T) {
	seedProject(t)

	snap, err := fetchSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var round Snapshot
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(round.Agents) != len(snap.Agents) {
		t.Errorf("agents lost in round trip: %d != %d", len(round.Agents), len(snap.Agents))
	}
}

func TestFetchSnapshotGarbageHeartbeatTimestamp(t *testing.T) {
	root := seedProject(t)

	// A torn or hand-edited heartbeat with an unparsable timestamp counts
	// as never having beaten, matching the watchdog's classification.
	dir := filepath.Join(root, signal.HeartbeatsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	rec := `{"agent":"frontend-1","status":"working","timestamp":"not-a-time"}`
	if err := os.WriteFile(filepath.Join(dir, "frontend-1-heartbeat.json"), []byte(rec), 0o644); err != nil {
		t.Fatal(err)
	}

	snap, err := fetchSnapshot()
	if err != nil {
		t.Fatalf("fetchSnapshot: %v", err)
	}
	for _, a := range snap.Agents {
		if a.Name != "frontend-1" {
			continue
		}
		if a.Health != "idle" {
			t.Errorf("health = %s, want idle for a garbage timestamp", a.Health)
		}
		if a.HeartbeatAge != 0 {
			t.Errorf("HeartbeatAge = %d, want 0", a.HeartbeatAge)
		}
	}
}
