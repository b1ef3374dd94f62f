// Package planning decomposes goals into dependency-linked step graphs. Four
// built-in strategies (linear, tree, graph, multi) produce different
// topologies; a registry retires plans after they reach a terminal status.
package planning

import (
	"time"

	"github.com/kart-io/agentflow/errors"
)

// Goal is the immutable planning input: free text or an ordered list of
// sub-goals.
type Goal struct {
	Text     string   `json:"text,omitempty"`
	SubGoals []string `json:"sub_goals,omitempty"`
}

// NewGoal wraps a free-text goal.
func NewGoal(text string) Goal { return Goal{Text: text} }

// NewGoalList wraps an ordered list of sub-goals.
func NewGoalList(subGoals ...string) Goal { return Goal{SubGoals: subGoals} }

// IsList reports whether the goal is an ordered list of sub-goals.
func (g Goal) IsList() bool { return len(g.SubGoals) > 0 }

// String returns the goal text, joining sub-goals when the goal is a list.
func (g Goal) String() string {
	if g.IsList() {
		out := ""
		for i, s := range g.SubGoals {
			if i > 0 {
				out += "; "
			}
			out += s
		}
		return out
	}
	return g.Text
}

// IsEmpty reports whether the goal carries no content.
func (g Goal) IsEmpty() bool { return g.Text == "" && len(g.SubGoals) == 0 }

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

const (
	PlanStatusCreated   PlanStatus = "created"
	PlanStatusExecuting PlanStatus = "executing"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// IsTerminal reports whether the status is absorbing.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusFailed || s == PlanStatusCancelled
}

// Complexity grades a step's expected cost.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// NominalDuration is the per-step time estimate the complexity grade implies.
func (c Complexity) NominalDuration() time.Duration {
	switch c {
	case ComplexityHigh:
		return 8 * time.Second
	case ComplexityMedium:
		return 3 * time.Second
	default:
		return time.Second
	}
}

// ResourceLevel grades a step's demand on one resource category.
type ResourceLevel string

const (
	ResourceLow    ResourceLevel = "low"
	ResourceMedium ResourceLevel = "medium"
	ResourceHigh   ResourceLevel = "high"
)

// Weight converts a level into the admission-control weight summed by the
// scheduler.
func (r ResourceLevel) Weight() int {
	switch r {
	case ResourceHigh:
		return 3
	case ResourceMedium:
		return 2
	case ResourceLow:
		return 1
	default:
		return 0
	}
}

// ResourceRequirements grades a step's demand per category.
type ResourceRequirements struct {
	Memory  ResourceLevel `json:"memory,omitempty"`
	CPU     ResourceLevel `json:"cpu,omitempty"`
	Network ResourceLevel `json:"network,omitempty"`
}

// FailureAction tells the scheduler what to do when a step fails.
type FailureAction string

const (
	FailureStop     FailureAction = "stop"
	FailureContinue FailureAction = "continue"
	FailureRetry    FailureAction = "retry"
	FailureFallback FailureAction = "fallback"
)

// PlanStep is one node of the plan graph. Shape fields are fixed once the
// plan leaves the created status; only runtime fields mutate afterwards.
type PlanStep struct {
	ID                   string                 `json:"id"`
	Description          string                 `json:"description"`
	ToolID               string                 `json:"tool_id,omitempty"`
	AgentID              string                 `json:"agent_id,omitempty"`
	Params               map[string]interface{} `json:"params,omitempty"`
	Dependencies         []string               `json:"dependencies,omitempty"`
	EstimatedDuration    time.Duration          `json:"estimated_duration,omitempty"`
	Timeout              time.Duration          `json:"timeout,omitempty"`
	Complexity           Complexity             `json:"complexity,omitempty"`
	Critical             bool                   `json:"critical,omitempty"`
	RetryLimit           int                    `json:"retry_limit,omitempty"`
	ExecutionHint        string                 `json:"execution_hint,omitempty"`
	CanRunInParallel     bool                   `json:"can_run_in_parallel,omitempty"`
	FailureAction        FailureAction          `json:"failure_action,omitempty"`
	ResourceRequirements ResourceRequirements   `json:"resource_requirements,omitempty"`
}

// Plan is an identified step graph.
type Plan struct {
	ID        string                 `json:"id"`
	Goal      Goal                   `json:"goal"`
	Strategy  string                 `json:"strategy"`
	Steps     []*PlanStep            `json:"steps"`
	Status    PlanStatus             `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Step returns the step with the given ID, or nil.
func (p *Plan) Step(id string) *PlanStep {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Validate checks the plan's structural invariants: step IDs unique,
// dependency IDs resolvable, retry limits non-negative, and the dependency
// graph acyclic.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return errors.New(errors.CodeInvalidPlan, "plan has no steps").
			WithComponent("planning").
			WithContext("plan_id", p.ID)
	}

	byID := make(map[string]*PlanStep, len(p.Steps))
	for _, s := range p.Steps {
		if s.ID == "" {
			return errors.New(errors.CodeInvalidPlan, "step has empty id").
				WithComponent("planning").
				WithContext("plan_id", p.ID)
		}
		if _, dup := byID[s.ID]; dup {
			return errors.New(errors.CodeInvalidPlan, "duplicate step id").
				WithComponent("planning").
				WithContext("plan_id", p.ID).
				WithContext("step_id", s.ID)
		}
		if s.RetryLimit < 0 {
			return errors.New(errors.CodeInvalidPlan, "negative retry limit").
				WithComponent("planning").
				WithContext("plan_id", p.ID).
				WithContext("step_id", s.ID)
		}
		byID[s.ID] = s
	}

	for _, s := range p.Steps {
		for _, dep := range s.Dependencies {
			if _, ok := byID[dep]; !ok {
				return errors.New(errors.CodeInvalidPlan, "dependency references unknown step").
					WithComponent("planning").
					WithContext("plan_id", p.ID).
					WithContext("step_id", s.ID).
					WithContext("dependency", dep)
			}
		}
	}

	if cycle := findCycle(p.Steps); cycle != "" {
		return errors.New(errors.CodeCyclicDependency, "plan dependency graph has a cycle").
			WithComponent("planning").
			WithContext("plan_id", p.ID).
			WithContext("step_id", cycle)
	}
	return nil
}

// findCycle runs DFS coloring over the dependency edges and returns the first
// step found on a back edge, or "".
func findCycle(steps []*PlanStep) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.Dependencies
	}

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if hit := visit(dep); hit != "" {
					return hit
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, s := range steps {
		if color[s.ID] == white {
			if hit := visit(s.ID); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// Clone deep-copies the plan so registry readers never share step pointers
// with the scheduler.
func (p *Plan) Clone() *Plan {
	cp := *p
	cp.Steps = make([]*PlanStep, len(p.Steps))
	for i, s := range p.Steps {
		sc := *s
		sc.Dependencies = append([]string(nil), s.Dependencies...)
		if s.Params != nil {
			sc.Params = make(map[string]interface{}, len(s.Params))
			for k, v := range s.Params {
				sc.Params[k] = v
			}
		}
		cp.Steps[i] = &sc
	}
	if p.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
