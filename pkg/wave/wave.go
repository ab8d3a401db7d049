// Package wave implements the gate orchestrator: the state machine that
// drives each wave through its gate sequence, applies the QA retry and
// escalation policy, and tracks spend against the budget. Wave status is a
// process-local cache over signal presence and is re-derived from disk on
// every tick, so an orchestrator crash loses nothing.
package wave

import (
	"encoding/json"
	"fmt"

	"tide/pkg/signal"
)

// Gate indices in pipeline order. Gates advance strictly in order; the only
// re-entry is the retry sub-loop between Develop and QA.
const (
	GateResearch = iota
	GatePlanning
	GateTDD
	GateBranch
	GateDevelop
	GateRefactor
	GateSafety
	GateQA
	GateMerge

	GateCount
)

var gateNames = [GateCount]string{
	"research", "planning", "tdd", "branch", "develop",
	"refactor", "safety", "qa", "merge",
}

// GateName returns the human name for a gate index, or "gate{N}" for an
// index outside the pipeline.
func GateName(gate int) string {
	if gate >= 0 && gate < GateCount {
		return gateNames[gate]
	}
	return fmt.Sprintf("gate%d", gate)
}

// Outcome names carried in gate signal filenames.
const (
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
	OutcomeRetry    = "retry"
	OutcomeDeployed = "deployed"
)

// StatusKind is the wave state tag. The retry count lives in Status.Retry,
// not in the tag.
type StatusKind int

// Wave states. Deployed and Escalated are terminal.
const (
	StatusPending StatusKind = iota
	StatusRetry
	StatusQAApproved
	StatusDeployed
	StatusEscalated
)

// Status is a wave's current state.
type Status struct {
	Kind  StatusKind
	Retry int
}

// Terminal reports whether the wave needs no further driving.
func (s Status) Terminal() bool {
	return s.Kind == StatusDeployed || s.Kind == StatusEscalated
}

func (s Status) String() string {
	switch s.Kind {
	case StatusPending:
		return "PENDING"
	case StatusRetry:
		return fmt.Sprintf("RETRY_%d", s.Retry)
	case StatusQAApproved:
		return "QA_APPROVED"
	case StatusDeployed:
		return "DEPLOYED"
	case StatusEscalated:
		return "ESCALATED"
	default:
		return fmt.Sprintf("StatusKind(%d)", int(s.Kind))
	}
}

// Wave is the orchestrator-owned record for one wave id.
type Wave struct {
	ID     int
	Status Status

	// Retries is the high-water retry count: it never decreases while the
	// wave is alive, even after a fix clears the retry marker from disk.
	Retries int

	// Spend accumulates cost deltas reported on QA approvals.
	Spend float64

	// costRecorded guards the once-per-approval cost accounting.
	costRecorded bool

	// budgetNotified is the highest budget level already notified for
	// this wave.
	budgetNotified BudgetLevel
}

// retryPayload is the body of the retry-trigger gate signal.
type retryPayload struct {
	Retry          int             `json:"retry"`
	RejectionCount int             `json:"rejection_count"`
	Rejection      json.RawMessage `json:"rejection,omitempty"`
}

// rejectionPayload is the subset of the QA rejection body the orchestrator
// reads. Unknown fields pass through untouched via the raw signal bytes.
type rejectionPayload struct {
	RejectionCount int `json:"rejection_count"`
}

// approvalPayload is the subset of the QA approval body the orchestrator
// reads.
type approvalPayload struct {
	Cost float64 `json:"cost"`
}

// StatusFromDisk re-derives a wave's status from signal presence alone.
// Precedence mirrors how terminal the evidence is: an escalation record
// beats everything, then the deployed marker, then the QA verdict signals.
func StatusFromDisk(bus *signal.Bus, waveID, verdictGate, mergeGate int) (Status, error) {
	esc, err := bus.ActiveEscalation(waveID)
	if err != nil {
		return Status{}, err
	}
	if esc != nil {
		return Status{Kind: StatusEscalated}, nil
	}

	if sig, err := bus.Observe(signal.GateRef(waveID, mergeGate, OutcomeDeployed)); err != nil {
		return Status{}, err
	} else if sig != nil {
		return Status{Kind: StatusDeployed}, nil
	}

	if sig, err := bus.Observe(signal.GateRef(waveID, verdictGate, OutcomeApproved)); err != nil {
		return Status{}, err
	} else if sig != nil {
		return Status{Kind: StatusQAApproved}, nil
	}

	if sig, err := bus.Observe(signal.GateRef(waveID, verdictGate, OutcomeRetry)); err != nil {
		return Status{}, err
	} else if sig != nil {
		var p retryPayload
		_ = json.Unmarshal(sig.Payload, &p)
		if p.Retry < 1 {
			p.Retry = 1
		}
		return Status{Kind: StatusRetry, Retry: p.Retry}, nil
	}

	return Status{Kind: StatusPending}, nil
}
