package timeline

import (
	"sort"
	"time"
)

// Analysis is the computed summary of one timeline.
type Analysis struct {
	ExecutionID         string            `json:"execution_id"`
	TotalEntries        int               `json:"total_entries"`
	StateDistribution   map[State]int     `json:"state_distribution"`
	AverageStepDuration time.Duration     `json:"average_step_duration"`
	TotalDuration       time.Duration     `json:"total_duration"`
	CriticalPath        []PathSegment     `json:"critical_path"`
	Anomalies           int               `json:"anomalies"`
	Terminal            bool              `json:"terminal"`
	FinalState          State             `json:"final_state"`
}

// PathSegment is one hop on the reconstructed critical path: the time spent
// in a state before the event that left it.
type PathSegment struct {
	State     State         `json:"state"`
	EventType string        `json:"event_type"`
	Duration  time.Duration `json:"duration"`
}

// Analyze computes the summary for an execution. The second return value is
// false when the timeline does not exist.
func (m *Manager) Analyze(executionID string) (*Analysis, bool) {
	tl, ok := m.Get(executionID)
	if !ok {
		return nil, false
	}

	a := &Analysis{
		ExecutionID:       tl.ExecutionID,
		TotalEntries:      len(tl.Entries),
		StateDistribution: make(map[State]int),
		Anomalies:         tl.Anomalies,
		Terminal:          IsTerminal(tl.CurrentState),
		FinalState:        tl.CurrentState,
	}

	var total time.Duration
	steps := 0
	for i, e := range tl.Entries {
		a.StateDistribution[e.State]++
		if i > 0 {
			total += e.Duration
			steps++
		}
	}
	a.TotalDuration = total
	if steps > 0 {
		a.AverageStepDuration = total / time.Duration(steps)
	}
	a.CriticalPath = criticalPath(tl.Entries)
	return a, true
}

// criticalPath reconstructs where the time went: for each entry after the
// first, the duration is attributed to the state the machine was in before
// the entry arrived. Consecutive stays in the same state are merged.
func criticalPath(entries []Entry) []PathSegment {
	if len(entries) < 2 {
		return nil
	}
	var path []PathSegment
	for i := 1; i < len(entries); i++ {
		prev := entries[i-1].State
		if n := len(path); n > 0 && path[n-1].State == prev && entries[i].State == prev {
			path[n-1].Duration += entries[i].Duration
			continue
		}
		path = append(path, PathSegment{
			State:     prev,
			EventType: entries[i].EventType,
			Duration:  entries[i].Duration,
		})
	}
	return path
}

// Bottlenecks returns the critical-path segments sorted by descending
// duration, the slowest first.
func (m *Manager) Bottlenecks(executionID string) []PathSegment {
	a, ok := m.Analyze(executionID)
	if !ok {
		return nil
	}
	segments := append([]PathSegment(nil), a.CriticalPath...)
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Duration > segments[j].Duration
	})
	return segments
}

// FilterByState returns the entries recorded in the given state.
func (m *Manager) FilterByState(executionID string, state State) []Entry {
	tl, ok := m.Get(executionID)
	if !ok {
		return nil
	}
	var out []Entry
	for _, e := range tl.Entries {
		if e.State == state {
			out = append(out, e)
		}
	}
	return out
}

// FilterByEventType returns the entries with the given event type.
func (m *Manager) FilterByEventType(executionID, eventType string) []Entry {
	tl, ok := m.Get(executionID)
	if !ok {
		return nil
	}
	var out []Entry
	for _, e := range tl.Entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
