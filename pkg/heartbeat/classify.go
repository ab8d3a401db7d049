package heartbeat

import "time"

// Health is an agent's derived liveness state.
type Health string

// Health state constants.
const (
	HealthIdle    Health = "idle"    // never beat, no work assigned
	HealthHealthy Health = "healthy" // beating inside the warning threshold
	HealthWarning Health = "warning" // beating, but slower than expected
	HealthStuck   Health = "stuck"   // beat (or assignment) older than timeout
	HealthStopped Health = "stopped" // stop signal present for the agent
)

// ActionNeeded reports whether the state warrants operator attention.
// Idle, healthy, and stopped are all "no action needed".
func (h Health) ActionNeeded() bool {
	return h == HealthWarning || h == HealthStuck
}

// Sample is the complete input to Classify. Building the sample does the
// I/O; Classify itself is a pure function, so two independent evaluations
// of the same sample always agree.
type Sample struct {
	// HeartbeatAge is the age of the agent's last beat; nil if the agent
	// has never beaten.
	HeartbeatAge *time.Duration

	// AssignmentAge is the age of the agent's assignment signal; nil if
	// no assignment is present.
	AssignmentAge *time.Duration

	// StopSignal reports whether a stop signal exists for the agent.
	StopSignal bool

	// Warning and Timeout are the two thresholds, warning < timeout.
	Warning time.Duration
	Timeout time.Duration
}

// Classify derives the health state from a sample:
//
//   - a stop signal overrides everything else
//   - no beat and no assignment: idle
//   - no beat with an assignment older than the timeout: stuck (the agent
//     is assumed dead before its first beat); a younger assignment is
//     still idle — the agent simply has not started
//   - otherwise the beat age against the two thresholds
func Classify(s Sample) Health {
	if s.StopSignal {
		return HealthStopped
	}
	if s.HeartbeatAge == nil {
		if s.AssignmentAge != nil && *s.AssignmentAge >= s.Timeout {
			return HealthStuck
		}
		return HealthIdle
	}

	age := *s.HeartbeatAge
	switch {
	case age < s.Warning:
		return HealthHealthy
	case age < s.Timeout:
		return HealthWarning
	default:
		return HealthStuck
	}
}
