// Package bus implements the in-process publish/subscribe backbone. Producers
// publish typed events into a bounded ring buffer; a single dispatcher drains
// the buffer on a flush interval (or a high-water mark) and delivers to
// filtered subscribers. When the buffer is full, the oldest non-critical
// events are dropped; critical events ride in reserved headroom.
package bus

import (
	"strings"
	"time"
)

// Event is the unit of communication on the bus.
type Event struct {
	// ID is a unique event identifier.
	ID string `json:"id"`

	// Type is the namespaced topic, e.g. "step.completed".
	Type string `json:"type"`

	// ThreadID identifies the logical producer; events from the same
	// producer are delivered in publish order.
	ThreadID string `json:"thread_id,omitempty"`

	// Timestamp is the publish time; monotonic per producer.
	Timestamp time.Time `json:"timestamp"`

	// Data is the event payload.
	Data interface{} `json:"data,omitempty"`

	// Metadata carries cross-component correlation.
	Metadata EventMetadata `json:"metadata"`

	// Critical marks an event that must survive backpressure. Failure and
	// alert topics are critical regardless of this flag.
	Critical bool `json:"critical,omitempty"`
}

// EventMetadata correlates an event with its execution context.
type EventMetadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	TenantID      string `json:"tenant_id,omitempty"`
	ExecutionID   string `json:"execution_id,omitempty"`
	Source        string `json:"source,omitempty"`
}

// Topic names published by the framework.
const (
	TopicPlannerStarted   = "planner.started"
	TopicPlannerCompleted = "planner.completed"
	TopicPlannerFailed    = "planner.failed"

	TopicPlanStarted   = "plan.started"
	TopicPlanCompleted = "plan.completed"
	TopicPlanFailed    = "plan.failed"

	TopicStepStarted   = "step.started"
	TopicStepCompleted = "step.completed"
	TopicStepFailed    = "step.failed"
	TopicStepSkipped   = "step.skipped"
	TopicStepRetrying  = "step.retrying"

	TopicReplanInitiated = "replan.initiated"

	TopicToolStarted   = "tool.started"
	TopicToolCompleted = "tool.completed"
	TopicToolFailed    = "tool.failed"

	TopicLeakDetected = "system.memory.leak.detected"

	TopicSubscriberQuarantined = "bus.subscriber.quarantined"
)

// IsCritical reports whether the event must not be dropped under
// backpressure: explicitly flagged events, failure topics, and system alerts.
func (e *Event) IsCritical() bool {
	if e.Critical {
		return true
	}
	switch e.Type {
	case TopicLeakDetected, TopicSubscriberQuarantined:
		return true
	}
	return strings.HasSuffix(e.Type, ".failed") || strings.HasSuffix(e.Type, ".error")
}

// MatchTopic reports whether typ matches pattern. Patterns are exact topic
// names or a prefix with a trailing ".*" wildcard ("step.*").
func MatchTopic(pattern, typ string) bool {
	if pattern == "*" || pattern == typ {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(typ, prefix+".")
	}
	return false
}
