package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tide/pkg/config"
	"tide/pkg/eventlog"
	"tide/pkg/notify"
	"tide/pkg/signal"
)

// Restarter requests a restart of an agent's execution unit. Restarts are a
// best-effort side effect of stuck detection, never required for
// correctness.
type Restarter interface {
	Restart(ctx context.Context, agent config.Agent) error
}

// Config holds watchdog parameters.
type Config struct {
	Warning     time.Duration
	Timeout     time.Duration
	AutoRestart bool
}

// AgentHealth is one agent's entry in a watchdog report.
type AgentHealth struct {
	Agent        string        `json:"agent"`
	Health       Health        `json:"health"`
	HeartbeatAge time.Duration `json:"heartbeat_age_seconds,omitempty"`
	HasBeat      bool          `json:"has_beat"`
	Status       string        `json:"status,omitempty"`
	Task         string        `json:"task,omitempty"`
}

// Report is the outcome of one watchdog pass.
type Report struct {
	Agents []AgentHealth `json:"agents"`
}

// AllHealthy reports whether no agent needs action.
func (r Report) AllHealthy() bool {
	for _, a := range r.Agents {
		if a.Health.ActionNeeded() {
			return false
		}
	}
	return true
}

// Watchdog classifies every roster agent on each pass, fires edge-triggered
// alerts on state transitions, and optionally requests restarts of stuck
// agents.
type Watchdog struct {
	bus       *signal.Bus
	roster    config.Roster
	cfg       Config
	notifier  notify.Notifier
	events    *eventlog.Logger
	restarter Restarter

	// alerted tracks which (agent, health) pairs have fired since the
	// agent was last healthy. Process-local by design: a watchdog restart
	// re-fires at most one alert per active condition.
	mu      sync.Mutex
	alerted map[string]map[Health]bool

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewWatchdog creates a Watchdog. notifier may be notify.Nop{}; events and
// restarter may be nil.
func NewWatchdog(bus *signal.Bus, roster config.Roster, cfg Config, notifier notify.Notifier, events *eventlog.Logger, restarter Restarter) *Watchdog {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Watchdog{
		bus:       bus,
		roster:    roster,
		cfg:       cfg,
		notifier:  notifier,
		events:    events,
		restarter: restarter,
		alerted:   make(map[string]map[Health]bool),
		nowFunc:   time.Now,
	}
}

// Check runs one watchdog pass over the roster.
func (w *Watchdog) Check(ctx context.Context) (Report, error) {
	now := w.nowFunc()
	report := Report{Agents: make([]AgentHealth, 0, len(w.roster.Agents))}

	for _, agent := range w.roster.Agents {
		entry, err := w.checkAgent(ctx, agent, now)
		if err != nil {
			return Report{}, err
		}
		report.Agents = append(report.Agents, entry)
	}
	return report, nil
}

// checkAgent samples one agent, classifies it, and handles alerting and
// restart side effects.
func (w *Watchdog) checkAgent(ctx context.Context, agent config.Agent, now time.Time) (AgentHealth, error) {
	sample := Sample{Warning: w.cfg.Warning, Timeout: w.cfg.Timeout}
	entry := AgentHealth{Agent: agent.Name}

	rec, err := Read(w.bus.Root(), agent.Name)
	if err != nil {
		return entry, fmt.Errorf("read heartbeat for %s: %w", agent.Name, err)
	}
	if rec != nil {
		ts := rec.Time()
		if !ts.IsZero() {
			age := now.Sub(ts)
			sample.HeartbeatAge = &age
			entry.HasBeat = true
			entry.HeartbeatAge = age
			entry.Status = rec.Status
			entry.Task = rec.Task
		}
	}

	if assignment, err := w.bus.Observe(signal.AgentRef(agent.Name, signal.KindAssignment)); err == nil && assignment != nil {
		age := assignment.Age(now)
		sample.AssignmentAge = &age
	}
	if stop, err := w.bus.Observe(signal.AgentRef(agent.Name, signal.KindStop)); err == nil && stop != nil {
		sample.StopSignal = true
	}

	entry.Health = Classify(sample)
	w.handleTransition(ctx, agent, entry)
	return entry, nil
}

// handleTransition fires an alert once per (agent, health) transition and
// requests a restart on stuck agents. The alert re-arms only when the agent
// returns to healthy.
func (w *Watchdog) handleTransition(ctx context.Context, agent config.Agent, entry AgentHealth) {
	w.mu.Lock()
	fire := false
	if entry.Health == HealthHealthy {
		delete(w.alerted, agent.Name)
	} else if entry.Health.ActionNeeded() {
		states := w.alerted[agent.Name]
		if states == nil {
			states = make(map[Health]bool)
			w.alerted[agent.Name] = states
		}
		if !states[entry.Health] {
			states[entry.Health] = true
			fire = true
		}
	}
	w.mu.Unlock()

	if !fire {
		return
	}

	summary := fmt.Sprintf("agent %s is %s (last beat %s ago)",
		agent.Name, entry.Health, entry.HeartbeatAge.Truncate(time.Second))
	if !entry.HasBeat {
		summary = fmt.Sprintf("agent %s is %s (never beat)", agent.Name, entry.Health)
	}
	ev := notify.NewEvent(notify.EventAgentAlert, 0, summary)
	ev.Agent = agent.Name
	_ = w.notifier.Notify(ctx, ev)
	_ = w.events.Record(ctx, "alert", agent.Name, 0, fmt.Sprintf(`{"health":%q}`, entry.Health))

	if entry.Health == HealthStuck && w.cfg.AutoRestart && w.restarter != nil && agent.RestartTarget != "" {
		if err := w.restarter.Restart(ctx, agent); err != nil {
			_ = w.events.Record(ctx, "restart_failed", agent.Name, 0, err.Error())
		} else {
			_ = w.events.Record(ctx, "restart_requested", agent.Name, 0, "")
		}
	}
}

// Run executes watchdog passes on a fixed interval until ctx is cancelled
// or the kill switch is engaged. The kill-switch check runs at the top of
// every tick, before any other work.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if w.bus.Halted() {
			return nil
		}
		if _, err := w.Check(ctx); err != nil {
			_ = w.events.Record(ctx, "watchdog_error", "", 0, err.Error())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
