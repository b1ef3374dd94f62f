// Package ids generates the identifiers used to correlate plans, executions,
// events, and spans across agentflow components.
//
// Correlation-style identifiers (correlation, execution, plan, replan) are
// ULIDs so they sort lexically by creation time, which keeps registry dumps
// and log queries readable. Call identifiers are UUIDs. Trace and span
// identifiers follow the W3C trace-context sizes (16 and 8 random bytes)
// so they can be handed to OpenTelemetry exporters unchanged.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var entropyPool = sync.Pool{
	New: func() interface{} {
		return ulid.Monotonic(rand.Reader, 0)
	},
}

func newULID() string {
	entropy := entropyPool.Get().(*ulid.MonotonicEntropy)
	defer entropyPool.Put(entropy)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewCorrelationID returns a new correlation identifier.
func NewCorrelationID() string {
	return newULID()
}

// NewExecutionID returns a new execution identifier.
func NewExecutionID() string {
	return "exec_" + newULID()
}

// NewPlanID returns a new plan identifier.
func NewPlanID() string {
	return "plan_" + newULID()
}

// NewReplanID returns a new replan identifier.
func NewReplanID() string {
	return "replan_" + newULID()
}

// NewCallID returns a new tool-call identifier.
func NewCallID() string {
	return uuid.NewString()
}

// NewEventID returns a new event identifier.
func NewEventID() string {
	return "evt_" + newULID()
}

// NewAlertID returns a new leak-alert identifier.
func NewAlertID() string {
	return "alert_" + newULID()
}

// NewTraceID returns 16 random bytes hex-encoded.
func NewTraceID() string {
	return randomHex(16)
}

// NewSpanID returns 8 random bytes hex-encoded.
func NewSpanID() string {
	return randomHex(8)
}

func randomHex(n int) string {
	b := make([]byte, n)
	// rand.Read on supported platforms never fails; fall back to a UUID-derived
	// value rather than returning an empty identifier.
	if _, err := rand.Read(b); err != nil {
		u := uuid.New()
		copy(b, u[:])
	}
	return hex.EncodeToString(b)
}
