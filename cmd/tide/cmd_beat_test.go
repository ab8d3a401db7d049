package main

import (
	"testing"

	"tide/pkg/heartbeat"
)

func TestBeatWritesHeartbeat(t *testing.T) {
	root := t.TempDir()
	t.Setenv("TIDE_ROOT", root)

	if out, err := runCommand(t, "beat", "qa", "--status", "working", "--task", "reviewing wave 1"); err != nil {
		t.Fatalf("beat: %v\n%s", err, out)
	}

	rec, err := heartbeat.Read(root, "qa")
	if err != nil || rec == nil {
		t.Fatalf("heartbeat not readable (err=%v)", err)
	}
	if rec.Status != "working" || rec.Task != "reviewing wave 1" {
		t.Errorf("record = %+v", rec)
	}
	if rec.PID == 0 {
		t.Error("PID not recorded")
	}
}
