// Package signal implements the file-resident signal bus that every tide
// component coordinates through. A signal is a small single-writer JSON
// record whose existence means "this event occurred"; deleting it means
// "acknowledged". There is no broker and no daemon — the filesystem under
// the project root is the only shared state, and atomic rename is the only
// synchronization primitive.
package signal

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Kind classifies a signal record.
type Kind string

// Signal kind constants.
const (
	KindReady          Kind = "ready"
	KindAssignment     Kind = "assignment"
	KindProgress       Kind = "progress"
	KindComplete       Kind = "complete"
	KindError          Kind = "error"
	KindGateTransition Kind = "gate-transition"
	KindStop           Kind = "stop"
	KindEmergencyStop  Kind = "emergency-stop"
	KindHeartbeat      Kind = "heartbeat"
	KindEscalation     Kind = "escalation"
)

// TimeLayout is the on-disk timestamp format: UTC, second precision.
const TimeLayout = "2006-01-02T15:04:05Z"

// KillSwitchFile is the root-level kill-switch record. Its presence halts
// all coordination activity; its content is advisory only.
const KillSwitchFile = "EMERGENCY-STOP"

// Well-known directories under the project root.
const (
	HeartbeatsDir = "heartbeats"
	WorktreesDir  = "worktrees"
	ArchiveDir    = "archive"
)

// Signal is the decoded envelope of one signal file. Payload carries the
// kind-specific body verbatim; Raw retains the full file bytes so fields
// this version does not know about survive archival and re-publication.
type Signal struct {
	Kind      Kind            `json:"kind"`
	Agent     string          `json:"agent,omitempty"`
	Wave      int             `json:"wave,omitempty"`
	Gate      int             `json:"gate,omitempty"`
	Outcome   string          `json:"outcome,omitempty"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	Raw []byte `json:"-"`
}

// Time parses the envelope timestamp. A zero time is returned for an
// unparsable or missing timestamp — freshness checks treat that as
// "infinitely old" rather than failing.
func (s *Signal) Time() time.Time {
	t, err := time.Parse(TimeLayout, s.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Age returns how long ago the signal was published, relative to now.
func (s *Signal) Age(now time.Time) time.Duration {
	ts := s.Time()
	if ts.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(ts)
}

// Ref identifies one signal file. Construct with AgentRef, GateRef, or
// EscalationRef; the zero Ref is invalid.
type Ref struct {
	agent      string
	kind       Kind
	wave       int
	gate       int
	outcome    string
	escalation bool
}

// AgentRef identifies an agent-scoped signal: signal-{agent}-{kind}.json.
func AgentRef(agent string, kind Kind) Ref {
	return Ref{agent: agent, kind: kind}
}

// GateRef identifies a wave/gate outcome signal:
// signal-wave{N}-gate{G}-{outcome}.json.
func GateRef(wave, gate int, outcome string) Ref {
	return Ref{wave: wave, gate: gate, outcome: outcome, kind: KindGateTransition}
}

// EscalationRef identifies a wave's escalation record:
// signal-wave{N}-ESCALATION.json.
func EscalationRef(wave int) Ref {
	return Ref{wave: wave, escalation: true, kind: KindEscalation}
}

// Agent returns the agent component of an agent-scoped ref ("" otherwise).
func (r Ref) Agent() string { return r.agent }

// Wave returns the wave number of a wave-scoped ref (0 otherwise).
func (r Ref) Wave() int { return r.wave }

// Filename returns the file name for this ref, relative to the project root.
func (r Ref) Filename() string {
	switch {
	case r.escalation:
		return fmt.Sprintf("signal-wave%d-ESCALATION.json", r.wave)
	case r.agent != "":
		return fmt.Sprintf("signal-%s-%s.json", r.agent, r.kind)
	default:
		return fmt.Sprintf("signal-wave%d-gate%d-%s.json", r.wave, r.gate, r.outcome)
	}
}

// Valid reports whether the ref identifies a well-formed signal path.
func (r Ref) Valid() bool {
	if r.escalation {
		return r.wave > 0
	}
	if r.agent != "" {
		return validName(r.agent) && r.kind != ""
	}
	return r.wave > 0 && r.gate >= 0 && validName(r.outcome)
}

// validName rejects path separators and anything else that could escape the
// project root when interpolated into a filename.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

func validName(s string) bool {
	return s != "" && namePattern.MatchString(s)
}

// Signal file name patterns, mirrored by ParseFilename.
var (
	agentFilePattern      = regexp.MustCompile(`^signal-([a-zA-Z0-9_.-]+)-([a-z-]+)\.json$`)
	gateFilePattern       = regexp.MustCompile(`^signal-wave(\d+)-gate(\d+)-([a-zA-Z0-9_.-]+)\.json$`)
	escalationFilePattern = regexp.MustCompile(`^signal-wave(\d+)-ESCALATION\.json$`)
)

// ParseFilename reverses Ref.Filename. It returns ok=false for anything that
// is not a signal file (heartbeats, config, the kill switch).
func ParseFilename(name string) (Ref, bool) {
	if m := escalationFilePattern.FindStringSubmatch(name); m != nil {
		wave, _ := strconv.Atoi(m[1])
		return EscalationRef(wave), true
	}
	if m := gateFilePattern.FindStringSubmatch(name); m != nil {
		wave, _ := strconv.Atoi(m[1])
		gate, _ := strconv.Atoi(m[2])
		return GateRef(wave, gate, m[3]), true
	}
	if m := agentFilePattern.FindStringSubmatch(name); m != nil {
		// "wave1" style names match the agent pattern too; the gate and
		// escalation patterns above are checked first so only true
		// agent-scoped files reach here.
		return AgentRef(m[1], Kind(m[2])), true
	}
	return Ref{}, false
}
