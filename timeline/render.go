package timeline

import (
	"fmt"
	"strings"
	"time"
)

// RenderCompact returns the state chain on a single line:
//
//	exec_1: initialized > thinking > acting > observing > completed (1.2s, 5 entries)
func (m *Manager) RenderCompact(executionID string) string {
	tl, ok := m.Get(executionID)
	if !ok {
		return ""
	}
	states := make([]string, 0, len(tl.Entries))
	var last State
	for i, e := range tl.Entries {
		if i == 0 || e.State != last {
			states = append(states, string(e.State))
			last = e.State
		}
	}
	total := tl.UpdatedAt.Sub(tl.CreatedAt)
	return fmt.Sprintf("%s: %s (%s, %d entries)",
		tl.ExecutionID, strings.Join(states, " > "), total.Round(time.Millisecond), len(tl.Entries))
}

// RenderASCII returns a proportional bar chart of where time was spent.
func (m *Manager) RenderASCII(executionID string) string {
	a, ok := m.Analyze(executionID)
	if !ok {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Timeline %s  total=%s  entries=%d", a.ExecutionID, a.TotalDuration.Round(time.Millisecond), a.TotalEntries)
	if a.Anomalies > 0 {
		fmt.Fprintf(&b, "  anomalies=%d", a.Anomalies)
	}
	b.WriteByte('\n')

	const width = 40
	for _, seg := range a.CriticalPath {
		bar := 0
		if a.TotalDuration > 0 {
			bar = int(float64(seg.Duration) / float64(a.TotalDuration) * width)
		}
		if bar < 1 {
			bar = 1
		}
		fmt.Fprintf(&b, "  %-11s |%-*s| %s\n",
			seg.State, width, strings.Repeat("#", bar), seg.Duration.Round(time.Millisecond))
	}
	return b.String()
}

// RenderDetailed returns one line per entry with timestamps and payload
// types.
func (m *Manager) RenderDetailed(executionID string) string {
	tl, ok := m.Get(executionID)
	if !ok {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Timeline %s  state=%s  anomalies=%d\n", tl.ExecutionID, tl.CurrentState, tl.Anomalies)
	for i, e := range tl.Entries {
		fmt.Fprintf(&b, "%3d  %s  %-11s  %-20s", i, e.Timestamp.Format(time.RFC3339Nano), e.State, e.EventType)
		if e.Duration > 0 {
			fmt.Fprintf(&b, "  +%s", e.Duration.Round(time.Microsecond))
		}
		if e.CorrelationID != "" {
			fmt.Fprintf(&b, "  corr=%s", e.CorrelationID)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
