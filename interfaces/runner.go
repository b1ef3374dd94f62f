// Package interfaces declares the narrow contracts agentflow consumes from
// its host: the tool runner, the LLM client, and the session store. The core
// depends only on these capability sets; concrete bindings live with the
// host application.
package interfaces

import (
	"context"
	"time"
)

// InvokeContext carries the identifiers and deadline a tool runner needs to
// participate in the framework's cancellation and correlation model.
type InvokeContext struct {
	// CallID identifies this invocation; it maps 1:1 to a plan step.
	CallID string

	// CorrelationID ties the invocation to its plan, execution, and spans.
	CorrelationID string

	// ExecutionID identifies the owning execution.
	ExecutionID string

	// TenantID identifies the tenant, when multi-tenancy is in play.
	TenantID string

	// Deadline is the absolute time by which the invocation must complete.
	// Zero means no per-step deadline beyond ctx.
	Deadline time.Time
}

// ToolRunner executes named tools on behalf of the scheduler.
//
// Required semantics: cancellation of ctx must cause prompt completion with a
// cancellation error. Idempotence is NOT assumed; the scheduler only retries
// when the step's policy allows it.
type ToolRunner interface {
	// Invoke runs the named tool with the given arguments.
	Invoke(ctx context.Context, toolName string, args map[string]interface{}, ic InvokeContext) (*ToolResult, error)
}

// ToolResult is the outcome of a tool invocation.
type ToolResult struct {
	// Output is the tool's result payload.
	Output interface{} `json:"output"`

	// DataPoints optionally reports how many records the tool processed;
	// the scheduler aggregates it into execution analytics.
	DataPoints int `json:"data_points,omitempty"`

	// Metadata carries tool-specific extras.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToolRunnerFunc adapts a function to the ToolRunner interface.
type ToolRunnerFunc func(ctx context.Context, toolName string, args map[string]interface{}, ic InvokeContext) (*ToolResult, error)

// Invoke implements ToolRunner.
func (f ToolRunnerFunc) Invoke(ctx context.Context, toolName string, args map[string]interface{}, ic InvokeContext) (*ToolResult, error) {
	return f(ctx, toolName, args, ic)
}
