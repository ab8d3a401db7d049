package main

import (
	"context"
	"fmt"

	"tide/pkg/config"
	"tide/pkg/eventlog"
	"tide/pkg/heartbeat"
	"tide/pkg/notify"
	"tide/pkg/signal"
	"tide/pkg/wave"
)

// runtime bundles the shared process state every long-lived subcommand
// needs: resolved paths, loaded configuration, the signal bus, the event
// log, and the notifier chain.
type runtime struct {
	paths    *Paths
	settings config.Settings
	roster   config.Roster
	bus      *signal.Bus
	events   *eventlog.Logger
	notifier notify.Notifier
}

// loadRuntime resolves paths, loads configuration, and wires the bus,
// event log, and notifiers. Failures here are configuration/dependency
// errors: the caller cannot run its check at all.
func loadRuntime(tmuxSession string) (*runtime, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, configError(err)
	}

	settings, err := config.LoadSettings(paths.ConfigPath)
	if err != nil {
		return nil, configError(err)
	}
	if err := settings.Validate(); err != nil {
		return nil, configError(fmt.Errorf("%s: %w", paths.ConfigPath, err))
	}

	roster, err := config.LoadRoster(paths.RosterPath)
	if err != nil {
		return nil, configError(err)
	}
	if err := roster.Validate(); err != nil {
		return nil, configError(fmt.Errorf("%s: %w", paths.RosterPath, err))
	}

	events, err := eventlog.Open(paths.EventsDBPath)
	if err != nil {
		return nil, configError(err)
	}

	bus := signal.New(paths.Root)
	bus.OnMalformed(func(path string, err error) {
		_ = events.Record(context.Background(), "malformed_signal", "", 0,
			fmt.Sprintf("%s: %v", path, err))
	})

	notifiers := notify.Multi{&notify.FileNotifier{Path: paths.NotifyLogPath}}
	if tmuxSession != "" {
		notifiers = append(notifiers, notify.NewTmuxNotifier(tmuxSession, "", &ExecCommandRunner{}))
	}

	return &runtime{
		paths:    paths,
		settings: settings,
		roster:   roster,
		bus:      bus,
		events:   events,
		notifier: notifiers,
	}, nil
}

// Close releases the runtime's event log handle.
func (r *runtime) Close() {
	_ = r.events.Close()
}

// watchdogConfig maps settings onto the watchdog thresholds.
func (r *runtime) watchdogConfig() heartbeat.Config {
	return heartbeat.Config{
		Warning:     r.settings.HeartbeatWarning(),
		Timeout:     r.settings.HeartbeatTimeout(),
		AutoRestart: r.settings.AutoRestart,
	}
}

// orchestratorConfig maps settings onto the wave state machine parameters.
func (r *runtime) orchestratorConfig() wave.Config {
	return wave.Config{
		MaxRetries: r.settings.MaxRetries,
		Waves:      r.settings.Waves,
		Budget: wave.Budget{
			Ceiling:     r.settings.BudgetCeiling,
			WarnPct:     r.settings.BudgetWarnPct,
			CriticalPct: r.settings.BudgetCriticPct,
		},
	}
}

// restarter returns the auto-restart implementation, or nil when disabled.
func (r *runtime) restarter() heartbeat.Restarter {
	if !r.settings.AutoRestart {
		return nil
	}
	return &heartbeat.TmuxRestarter{Runner: &ExecCommandRunner{}}
}
