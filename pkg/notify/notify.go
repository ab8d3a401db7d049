// Package notify emits best-effort, human-facing notification events on
// wave state transitions. The persisted JSON-lines file is the
// authoritative record; any real-time transport (tmux pane, chat bridge)
// is a convenience that may be unavailable without affecting correctness.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event type constants for state transitions of interest.
const (
	EventWaveStart      = "wave_start"
	EventGateTransition = "gate_transition"
	EventQAResult       = "qa_result"
	EventRetry          = "retry"
	EventEscalation     = "escalation"
	EventDeploy         = "deploy"
	EventError          = "error"
	EventBudgetWarn     = "budget_warning"
	EventBudgetCritical = "budget_critical"
	EventAgentAlert     = "agent_alert"
	EventSync           = "sync"
)

// Event is one outbound notification.
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"event_type"`
	Wave      int    `json:"wave,omitempty"`
	Agent     string `json:"agent,omitempty"`
	Timestamp string `json:"timestamp"`
	Summary   string `json:"human_readable_summary"`
}

// Notifier delivers events to an external collaborator.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NewEvent builds an event with a fresh ID and UTC second-precision
// timestamp.
func NewEvent(evType string, wave int, summary string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      evType,
		Wave:      wave,
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		Summary:   summary,
	}
}

// --- File notifier ---

// FileNotifier appends events as JSON lines to a file. This is the
// persisted, after-the-fact inspectable record.
type FileNotifier struct {
	Path string
}

// Notify appends one JSON line. The file is opened per call so a rotated
// or deleted file self-heals on the next event.
func (f *FileNotifier) Notify(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	file, err := os.OpenFile(f.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open notification log: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

// --- Tmux notifier ---

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// TmuxNotifier delivers one-line summaries into a human operator's tmux
// pane via set-buffer + paste-buffer, which treats the message as literal
// text and prevents injection through tmux key interpretation.
type TmuxNotifier struct {
	SessionName string
	PaneTarget  string
	Runner      CommandRunner
}

// NewTmuxNotifier creates a TmuxNotifier with defaults for empty fields.
func NewTmuxNotifier(sessionName, paneTarget string, runner CommandRunner) *TmuxNotifier {
	if sessionName == "" {
		sessionName = "tide"
	}
	if paneTarget == "" {
		paneTarget = "tide:0.0"
	}
	return &TmuxNotifier{SessionName: sessionName, PaneTarget: paneTarget, Runner: runner}
}

// Notify pastes a single-line rendering of ev into the target pane. It
// verifies the session exists first; a dead session would otherwise fail
// silently.
func (t *TmuxNotifier) Notify(ctx context.Context, ev Event) error {
	if _, err := t.Runner.Run(ctx, "tmux", "has-session", "-t", t.SessionName); err != nil {
		return fmt.Errorf("tmux session %s not found: %w", t.SessionName, err)
	}

	line := formatLine(ev)
	if _, err := t.Runner.Run(ctx, "tmux", "set-buffer", "-b", "tide-notify", line); err != nil {
		return fmt.Errorf("tmux set-buffer: %w", err)
	}
	if _, err := t.Runner.Run(ctx, "tmux", "paste-buffer", "-b", "tide-notify", "-t", t.PaneTarget, "-d"); err != nil {
		return fmt.Errorf("tmux paste-buffer to %s: %w", t.PaneTarget, err)
	}
	if _, err := t.Runner.Run(ctx, "tmux", "send-keys", "-t", t.PaneTarget, "Enter"); err != nil {
		return fmt.Errorf("tmux send-keys Enter to %s: %w", t.PaneTarget, err)
	}
	return nil
}

// formatLine renders an event as a single line, newlines stripped.
func formatLine(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[TIDE] %s", strings.ToUpper(ev.Type))
	if ev.Wave > 0 {
		fmt.Fprintf(&b, " wave %d", ev.Wave)
	}
	if ev.Agent != "" {
		fmt.Fprintf(&b, " (%s)", ev.Agent)
	}
	fmt.Fprintf(&b, ": %s", ev.Summary)
	line := b.String()
	line = strings.ReplaceAll(line, "\n", " ")
	return strings.ReplaceAll(line, "\r", " ")
}

// --- Composition helpers ---

// Multi fans an event out to several notifiers. Delivery is best-effort:
// the first error is returned for logging, but all notifiers are attempted.
type Multi []Notifier

// Notify delivers ev to every member.
func (m Multi) Notify(ctx context.Context, ev Event) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Nop discards every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) error { return nil }
