package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"tide/pkg/config"
	"tide/pkg/eventlog"
	"tide/pkg/heartbeat"
	"tide/pkg/signal"
	"tide/pkg/wave"
)

// eventLimit caps how many recent events the dashboard shows.
const eventLimit = 20

// WaveRow is one wave's line in the dashboard.
type WaveRow struct {
	ID         int    `json:"id"`
	Status     string `json:"status"`
	Escalation string `json:"escalation,omitempty"`
}

// AgentRow is one agent's line in the dashboard.
type AgentRow struct {
	Name         string `json:"name"`
	Health       string `json:"health"`
	Task         string `json:"task,omitempty"`
	HeartbeatAge int    `json:"heartbeat_age_seconds,omitempty"`
}

// EventRow is one recent event log entry.
type EventRow struct {
	At    string `json:"at"`
	Type  string `json:"type"`
	Agent string `json:"agent,omitempty"`
	Wave  int    `json:"wave,omitempty"`
}

// Snapshot is everything the dashboard renders, also the --robot output.
type Snapshot struct {
	Root   string     `json:"root"`
	Halted bool       `json:"halted"`
	Waves  []WaveRow  `json:"waves"`
	Agents []AgentRow `json:"agents"`
	Events []EventRow `json:"events,omitempty"`
}

// projectRoot returns the project root from TIDE_ROOT or the working
// directory.
func projectRoot() string {
	if v := os.Getenv("TIDE_ROOT"); v != "" {
		return v
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// fetchSnapshot assembles one read-only view of the project state. It
// never mutates anything under the root: classification runs on the pure
// function, not through the alerting watchdog.
func fetchSnapshot() (Snapshot, error) {
	root := projectRoot()
	bus := signal.New(root)

	settings, err := config.LoadSettings(filepath.Join(root, "tide.toml"))
	if err != nil {
		return Snapshot{}, err
	}
	roster, err := config.LoadRoster(filepath.Join(root, "agents.yaml"))
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Root: root, Halted: bus.Halted()}

	for id := 1; id <= settings.Waves; id++ {
		st, err := wave.StatusFromDisk(bus, id, wave.GateDevelop, wave.GateMerge)
		if err != nil {
			return Snapshot{}, err
		}
		row := WaveRow{ID: id, Status: st.String()}
		if esc, err := bus.ActiveEscalation(id); err == nil && esc != nil {
			row.Escalation = esc.Reason
		}
		snap.Waves = append(snap.Waves, row)
	}

	now := time.Now()
	for _, agent := range roster.Agents {
		row, err := classifyAgent(bus, root, agent.Name, now, settings)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Agents = append(snap.Agents, row)
	}

	snap.Events = fetchEvents(root)
	return snap, nil
}

// classifyAgent samples one agent's heartbeat and signals and classifies it.
func classifyAgent(bus *signal.Bus, root, name string, now time.Time, settings config.Settings) (AgentRow, error) {
	row := AgentRow{Name: name}
	sample := heartbeat.Sample{
		Warning: settings.HeartbeatWarning(),
		Timeout: settings.HeartbeatTimeout(),
	}

	rec, err := heartbeat.Read(root, name)
	if err != nil {
		return row, err
	}
	if rec != nil {
		row.Task = rec.Task
		// A garbage timestamp parses to zero time; treat it like no beat,
		// the same way the watchdog does.
		if ts := rec.Time(); !ts.IsZero() {
			age := now.Sub(ts)
			sample.HeartbeatAge = &age
			row.HeartbeatAge = int(age.Seconds())
		}
	}

	if sig, err := bus.Observe(signal.AgentRef(name, signal.KindAssignment)); err != nil {
		return row, err
	} else if sig != nil {
		age := sig.Age(now)
		sample.AssignmentAge = &age
	}

	if sig, err := bus.Observe(signal.AgentRef(name, signal.KindStop)); err != nil {
		return row, err
	} else if sig != nil {
		sample.StopSignal = true
	}

	row.Health = string(heartbeat.Classify(sample))
	return row, nil
}

// fetchEvents loads the most recent event log rows. A missing or locked
// database just yields an empty list; the dashboard stays up.
func fetchEvents(root string) []EventRow {
	reader, err := eventlog.NewReader(filepath.Join(root, "events.db"))
	if err != nil {
		return nil
	}
	defer func() { _ = reader.Close() }()

	events, err := reader.Query(context.Background(), eventlog.QueryOpts{Limit: eventLimit})
	if err != nil {
		return nil
	}

	rows := make([]EventRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, EventRow{
			At:    ev.CreatedAt.UTC().Format("15:04:05"),
			Type:  ev.Type,
			Agent: ev.Agent,
			Wave:  ev.Wave,
		})
	}
	return rows
}
