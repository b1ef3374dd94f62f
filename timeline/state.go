// Package timeline tracks a deterministic per-execution state machine fed by
// lifecycle events. Each execution owns an append-only entry log; invalid
// transitions are recorded rather than rejected (unless strict mode is on)
// and surface as anomalies in analysis.
package timeline

// State is a phase of an execution's lifecycle.
type State string

const (
	StateInitialized State = "initialized"
	StateThinking    State = "thinking"
	StateActing      State = "acting"
	StateObserving   State = "observing"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StatePaused      State = "paused"
)

var allowedTransitions = map[State][]State{
	StateInitialized: {StateThinking, StateFailed},
	StateThinking:    {StateActing, StateCompleted, StateFailed, StatePaused},
	StateActing:      {StateObserving, StateCompleted, StateFailed, StatePaused},
	StateObserving:   {StateThinking, StateCompleted, StateFailed, StatePaused},
	StatePaused:      {StateThinking, StateActing, StateObserving, StateFailed},
	StateCompleted:   {},
	StateFailed:      {},
}

// CanTransition reports whether moving from one state to another is legal.
// Self-transitions are allowed: repeated events in the same phase are normal.
func CanTransition(from, to State) bool {
	if from == to {
		return !IsTerminal(from)
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition can leave the state.
func IsTerminal(s State) bool {
	return s == StateCompleted || s == StateFailed
}

// StateForEventType maps a lifecycle event type onto the state it drives the
// machine toward. Unknown event types are treated as observations.
func StateForEventType(eventType string) State {
	switch eventType {
	case "agent.started":
		return StateInitialized
	case "agent.thinking":
		return StateThinking
	case "tool.called", "tool.call":
		return StateActing
	case "tool.result", "agent.thought":
		return StateObserving
	case "agent.completed", "workflow.completed":
		return StateCompleted
	case "agent.failed", "tool.error":
		return StateFailed
	case "agent.paused":
		return StatePaused
	default:
		return StateObserving
	}
}
