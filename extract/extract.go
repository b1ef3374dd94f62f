// Package extract flattens a plan into the tool-call graph the scheduler
// consumes. Extraction is advisory: structural problems in the plan become
// warnings, never errors, because the scheduler is the authority on what can
// actually run.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kart-io/logger/core"

	"github.com/kart-io/agentflow/ids"
	"github.com/kart-io/agentflow/planning"
)

// DependencyType classifies an edge between tool calls.
type DependencyType string

const (
	DependencyRequired DependencyType = "required"
	DependencyOptional DependencyType = "optional"
)

// ToolCall is a single schedulable tool invocation derived from a plan step.
type ToolCall struct {
	CallID        string                 `json:"call_id"`
	ToolName      string                 `json:"tool_name"`
	Arguments     map[string]interface{} `json:"arguments,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// ToolDependency is one edge of the tool-call graph.
type ToolDependency struct {
	ToolName      string                 `json:"tool_name"`
	Type          DependencyType         `json:"type"`
	Condition     string                 `json:"condition,omitempty"`
	FailureAction planning.FailureAction `json:"failure_action"`
	FallbackTool  string                 `json:"fallback_tool,omitempty"`
}

// Result is the flattened view of a plan. StepMap maps each call ID back to
// the plan step it was derived from.
type Result struct {
	ToolCalls    []ToolCall       `json:"tool_calls"`
	Dependencies []ToolDependency `json:"dependencies"`
	Warnings     []string         `json:"warnings,omitempty"`
	StepMap      map[string]string `json:"step_map"`
}

// Call returns the tool call derived from the given step ID.
func (r *Result) Call(stepID string) (ToolCall, bool) {
	for callID, sid := range r.StepMap {
		if sid != stepID {
			continue
		}
		for _, tc := range r.ToolCalls {
			if tc.CallID == callID {
				return tc, true
			}
		}
	}
	return ToolCall{}, false
}

// toolVerbs matches descriptions that read like a tool invocation.
var toolVerbs = regexp.MustCompile(`(?i)^\s*(call|invoke|execute|run|GET|POST|PUT|DELETE|build|test|deploy|fetch|process|analyze|generate)\b`)

// callSyntax matches function-call shaped descriptions like "lookup(user)".
var callSyntax = regexp.MustCompile(`\w+\s*\(`)

var sanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// Extractor converts plans into tool-call graphs.
type Extractor struct {
	excludeNonCritical   bool
	validateCircular     bool
	defaultFailureAction planning.FailureAction
	logger               core.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithExcludeNonCritical drops non-critical steps from the graph.
func WithExcludeNonCritical() Option {
	return func(e *Extractor) { e.excludeNonCritical = true }
}

// WithCircularValidation toggles the cycle check. On by default.
func WithCircularValidation(enabled bool) Option {
	return func(e *Extractor) { e.validateCircular = enabled }
}

// WithDefaultFailureAction sets the failure action for required dependencies.
func WithDefaultFailureAction(a planning.FailureAction) Option {
	return func(e *Extractor) { e.defaultFailureAction = a }
}

// WithLogger sets the extractor logger.
func WithLogger(l core.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New builds an extractor. Cycle validation is enabled and required
// dependencies default to a stop failure action.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		validateCircular:     true,
		defaultFailureAction: planning.FailureStop,
		logger:               core.NewNoOpLogger(nil),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract flattens the plan. Steps qualify when they bind a tool or their
// description reads like a tool invocation; everything else is left to the
// agent loop. Dependency edges referencing filtered-out or unknown steps are
// reported as warnings and dropped.
func (e *Extractor) Extract(plan *planning.Plan) *Result {
	res := &Result{StepMap: make(map[string]string)}
	if plan == nil || len(plan.Steps) == 0 {
		return res
	}

	correlationID, _ := plan.Metadata["correlation_id"].(string)

	included := make(map[string]*planning.PlanStep)
	callIDs := make(map[string]string)
	for _, step := range plan.Steps {
		if !e.includes(step) {
			continue
		}
		callID := ids.NewCallID()
		included[step.ID] = step
		callIDs[step.ID] = callID
		res.StepMap[callID] = step.ID
		res.ToolCalls = append(res.ToolCalls, ToolCall{
			CallID:        callID,
			ToolName:      e.toolName(step),
			Arguments:     step.Params,
			CorrelationID: correlationID,
			Metadata: map[string]interface{}{
				"step_id":  step.ID,
				"plan_id":  plan.ID,
				"critical": step.Critical,
			},
		})
	}

	known := make(map[string]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		known[step.ID] = true
	}

	for _, step := range plan.Steps {
		if _, ok := included[step.ID]; !ok {
			continue
		}
		for _, depID := range step.Dependencies {
			dep, ok := included[depID]
			if !ok {
				if known[depID] {
					res.warnf("step %s depends on %s, which was filtered out of the tool graph", step.ID, depID)
				} else {
					res.warnf("step %s depends on unknown step %s", step.ID, depID)
				}
				continue
			}
			res.Dependencies = append(res.Dependencies, e.dependency(dep))
		}
	}

	if e.validateCircular {
		e.checkCycles(included, res)
	}

	e.logger.Debugw("plan flattened",
		"plan_id", plan.ID,
		"tool_calls", len(res.ToolCalls),
		"dependencies", len(res.Dependencies),
		"warnings", len(res.Warnings))
	return res
}

func (e *Extractor) includes(step *planning.PlanStep) bool {
	if e.excludeNonCritical && !step.Critical {
		return false
	}
	if step.ToolID != "" {
		return true
	}
	return toolVerbs.MatchString(step.Description) || callSyntax.MatchString(step.Description)
}

func (e *Extractor) toolName(step *planning.PlanStep) string {
	name := step.ToolID
	if name == "" {
		fields := strings.Fields(step.Description)
		if len(fields) > 0 {
			name = fields[0]
		}
	}
	if idx := strings.IndexByte(name, '('); idx >= 0 {
		name = name[:idx]
	}
	name = sanitizer.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(name, "_")
}

// dependency builds the edge record for one consumer -> producer edge.
// Optionality and the fallback tool come from the producer step: a
// non-critical producer may fail without stopping its consumers, and a
// retried producer advertises a degraded variant.
func (e *Extractor) dependency(dep *planning.PlanStep) ToolDependency {
	d := ToolDependency{
		ToolName:      e.toolName(dep),
		Type:          DependencyRequired,
		FailureAction: e.defaultFailureAction,
	}
	if !dep.Critical {
		d.Type = DependencyOptional
		d.FailureAction = planning.FailureContinue
	}
	if cond, ok := dep.Params["condition"].(string); ok {
		d.Condition = cond
	}
	if dep.RetryLimit > 1 {
		d.FallbackTool = d.ToolName + "_lite"
	}
	return d
}

// checkCycles runs a white/gray/black DFS over the included steps. A back
// edge to a gray node means a cycle; it is reported once, naming the tool at
// the point of detection.
func (e *Extractor) checkCycles(included map[string]*planning.PlanStep, res *Result) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(included))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, depID := range included[id].Dependencies {
			dep, ok := included[depID]
			if !ok {
				continue
			}
			switch color[depID] {
			case gray:
				res.warnf("circular dependency detected involving tool %s", e.toolName(dep))
				return true
			case white:
				if visit(depID) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for id := range included {
		if color[id] == white {
			if visit(id) {
				return
			}
		}
	}
}

func (r *Result) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
