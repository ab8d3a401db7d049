package signal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Escalation reason constants.
const (
	ReasonMaxRetries    = "max_retries"
	ReasonMergeConflict = "merge_conflict"
	ReasonKillSwitch    = "kill_switch"
)

// Escalation is the payload of a signal-wave{N}-ESCALATION.json record.
// It is the terminal failure surface of a wave: an operator inspects it,
// acts on the remediation checklist, and acknowledges it to clear.
type Escalation struct {
	ID      string `json:"id"`
	Wave    int    `json:"wave"`
	Reason  string `json:"reason"`
	Summary string `json:"summary"`

	// Merge-conflict escalations carry the conflict surface.
	ConflictingFiles []string `json:"conflicting_files,omitempty"`
	SourceBranch     string   `json:"source_branch,omitempty"`
	TargetBranch     string   `json:"target_branch,omitempty"`
	Remediation      []string `json:"remediation,omitempty"`

	// Max-retries escalations embed the rejection record that exhausted
	// the retry budget.
	Rejection json.RawMessage `json:"rejection,omitempty"`

	CreatedAt string `json:"created_at"`
}

// PublishEscalation writes the escalation record for e.Wave unless one is
// already active. It returns published=false (and no error) when a prior
// unacknowledged escalation exists — at most one active escalation per wave.
func (b *Bus) PublishEscalation(e Escalation) (published bool, err error) {
	ref := EscalationRef(e.Wave)

	existing, err := b.Observe(ref)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt == "" {
		e.CreatedAt = b.nowFunc().UTC().Format(TimeLayout)
	}
	if err := b.Publish(ref, e); err != nil {
		return false, err
	}
	return true, nil
}

// ActiveEscalation returns the decoded escalation payload for the wave, or
// nil when none is active (including when the record is malformed).
func (b *Bus) ActiveEscalation(wave int) (*Escalation, error) {
	sig, err := b.Observe(EscalationRef(wave))
	if err != nil || sig == nil {
		return nil, err
	}
	var e Escalation
	if err := json.Unmarshal(sig.Payload, &e); err != nil {
		b.reportMalformed(b.Path(EscalationRef(wave)), err)
		return nil, nil
	}
	return &e, nil
}

// AcknowledgeEscalation is the human "ack" operation: the active escalation
// record is moved into archive/ so the wave can be re-driven on the next
// orchestrator run. Acknowledging a wave with no active escalation is an
// error — it usually means the operator acked twice.
func (b *Bus) AcknowledgeEscalation(wave int) error {
	ref := EscalationRef(wave)
	sig, err := b.Observe(ref)
	if err != nil {
		return err
	}
	if sig == nil {
		return fmt.Errorf("wave %d has no active escalation", wave)
	}
	if err := b.Archive(ref); err != nil {
		return fmt.Errorf("acknowledge wave %d: %w", wave, err)
	}
	return nil
}

// EscalationAge returns how long the wave's escalation has been active, or
// zero when none is.
func (b *Bus) EscalationAge(wave int, now time.Time) time.Duration {
	sig, err := b.Observe(EscalationRef(wave))
	if err != nil || sig == nil {
		return 0
	}
	return sig.Age(now)
}
