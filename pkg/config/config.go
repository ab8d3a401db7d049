// Package config loads the two operator-maintained files at the project
// root: tide.toml (process parameters) and agents.yaml (the agent roster).
// The coordination core never redefines these values; it only consumes them.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Settings holds the tide.toml process parameters. Zero values are filled
// in by withDefaults, so a missing or partial file still yields a runnable
// configuration.
type Settings struct {
	// Trunk is the shared integration branch worktrees merge into.
	Trunk string `toml:"trunk"`

	// MaxRetries bounds the QA rejection retry sub-loop per wave.
	MaxRetries int `toml:"max_retries"`

	// PollSeconds is the orchestrator/watchdog tick interval.
	PollSeconds int `toml:"poll_seconds"`

	// FallbackPollSeconds is the full-reconcile interval backing the
	// fsnotify fast path.
	FallbackPollSeconds int `toml:"fallback_poll_seconds"`

	// HeartbeatWarningSeconds and HeartbeatTimeoutSeconds are the two
	// liveness thresholds (warning < timeout).
	HeartbeatWarningSeconds int `toml:"heartbeat_warning_seconds"`
	HeartbeatTimeoutSeconds int `toml:"heartbeat_timeout_seconds"`

	// BudgetCeiling is the per-wave spend ceiling; Warn/Critical are
	// percentages of it. Both thresholds notify, never transition state.
	BudgetCeiling   float64 `toml:"budget_ceiling"`
	BudgetWarnPct   int     `toml:"budget_warn_pct"`
	BudgetCriticPct int     `toml:"budget_critical_pct"`

	// AutoRestart enables the watchdog's best-effort restart of stuck
	// agents.
	AutoRestart bool `toml:"auto_restart"`

	// Waves is the number of waves this project runs.
	Waves int `toml:"waves"`
}

// Default settings values.
const (
	DefaultTrunk               = "main"
	DefaultMaxRetries          = 3
	DefaultPollSeconds         = 10
	DefaultFallbackPollSeconds = 60
	DefaultWarningSeconds      = 60
	DefaultTimeoutSeconds      = 120
	DefaultBudgetWarnPct       = 80
	DefaultBudgetCriticPct     = 95
	DefaultWaves               = 1
)

func (s Settings) withDefaults() Settings {
	out := s
	if out.Trunk == "" {
		out.Trunk = DefaultTrunk
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = DefaultMaxRetries
	}
	if out.PollSeconds == 0 {
		out.PollSeconds = DefaultPollSeconds
	}
	if out.FallbackPollSeconds == 0 {
		out.FallbackPollSeconds = DefaultFallbackPollSeconds
	}
	if out.HeartbeatWarningSeconds == 0 {
		out.HeartbeatWarningSeconds = DefaultWarningSeconds
	}
	if out.HeartbeatTimeoutSeconds == 0 {
		out.HeartbeatTimeoutSeconds = DefaultTimeoutSeconds
	}
	if out.BudgetWarnPct == 0 {
		out.BudgetWarnPct = DefaultBudgetWarnPct
	}
	if out.BudgetCriticPct == 0 {
		out.BudgetCriticPct = DefaultBudgetCriticPct
	}
	if out.Waves == 0 {
		out.Waves = DefaultWaves
	}
	return out
}

// Validate rejects settings that cannot drive the state machine.
func (s Settings) Validate() error {
	if s.HeartbeatWarningSeconds >= s.HeartbeatTimeoutSeconds {
		return fmt.Errorf("heartbeat warning (%ds) must be below timeout (%ds)",
			s.HeartbeatWarningSeconds, s.HeartbeatTimeoutSeconds)
	}
	if s.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", s.MaxRetries)
	}
	if s.BudgetWarnPct >= s.BudgetCriticPct {
		return fmt.Errorf("budget warn pct (%d) must be below critical pct (%d)",
			s.BudgetWarnPct, s.BudgetCriticPct)
	}
	return nil
}

// PollInterval returns the tick interval as a duration.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollSeconds) * time.Second
}

// FallbackPollInterval returns the full-reconcile interval as a duration.
func (s Settings) FallbackPollInterval() time.Duration {
	return time.Duration(s.FallbackPollSeconds) * time.Second
}

// HeartbeatWarning returns the warning threshold as a duration.
func (s Settings) HeartbeatWarning() time.Duration {
	return time.Duration(s.HeartbeatWarningSeconds) * time.Second
}

// HeartbeatTimeout returns the timeout threshold as a duration.
func (s Settings) HeartbeatTimeout() time.Duration {
	return time.Duration(s.HeartbeatTimeoutSeconds) * time.Second
}

// LoadSettings reads tide.toml from path. A missing file yields pure
// defaults; a present but unparsable file is a configuration error (the
// invoking process should exit with the dedicated config error code).
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}.withDefaults(), nil
		}
		return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
	}

	var s Settings
	if err := toml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
	}
	s = s.withDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

// DefaultSettingsTOML is the scaffold written by "tide init".
const DefaultSettingsTOML = `# tide process parameters
trunk = "main"
max_retries = 3
poll_seconds = 10
fallback_poll_seconds = 60
heartbeat_warning_seconds = 60
heartbeat_timeout_seconds = 120
budget_ceiling = 50.0
budget_warn_pct = 80
budget_critical_pct = 95
auto_restart = false
waves = 1
`
