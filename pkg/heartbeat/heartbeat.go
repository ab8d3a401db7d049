// Package heartbeat implements agent liveness: the beat writer agents call
// on a steady interval, the pure health classification function, and the
// watchdog that turns classifications into edge-triggered alerts and
// optional restarts. The watchdog only ever reads agent state — it never
// writes a heartbeat on an agent's behalf.
package heartbeat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tide/pkg/signal"
)

// Record is one agent's heartbeat file, overwritten in place on every beat.
// Freshness is computed as a wall-clock delta at read time, never stored.
type Record struct {
	Agent     string `json:"agent"`
	Status    string `json:"status"`
	Task      string `json:"task,omitempty"`
	Gate      string `json:"gate,omitempty"`
	Timestamp string `json:"timestamp"`
	PID       int    `json:"pid"`
}

// Time parses the record timestamp; zero time for garbage.
func (r *Record) Time() time.Time {
	t, err := time.Parse(signal.TimeLayout, r.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Path returns the heartbeat file path for agent under root.
func Path(root, agent string) string {
	return filepath.Join(root, signal.HeartbeatsDir, agent+"-heartbeat.json")
}

// Beat writes the heartbeat record for agent. The write is atomic, so two
// concurrent writers racing on the same path resolve to whichever rename
// completed last — a reader never sees a torn record.
func Beat(root, agent, status, task, gate string) error {
	dir := filepath.Join(root, signal.HeartbeatsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create heartbeats dir: %w", err)
	}

	rec := Record{
		Agent:     agent,
		Status:    status,
		Task:      task,
		Gate:      gate,
		Timestamp: time.Now().UTC().Format(signal.TimeLayout),
		PID:       os.Getpid(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	if err := signal.WriteAtomic(Path(root, agent), data, 0o644); err != nil {
		return fmt.Errorf("write heartbeat for %s: %w", agent, err)
	}
	return nil
}

// Read loads agent's heartbeat record. Absent and malformed files both
// yield (nil, nil): a corrupt heartbeat reads as "never beat", which the
// classifier already handles.
func Read(root, agent string) (*Record, error) {
	data, err := os.ReadFile(Path(root, agent))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil
	}
	if rec.Timestamp == "" {
		return nil, nil
	}
	return &rec, nil
}
