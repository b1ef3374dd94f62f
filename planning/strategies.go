package planning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/agentflow/errors"
	"github.com/kart-io/agentflow/ids"
)

// Built-in strategy names.
const (
	StrategyLinear = "linear"
	StrategyTree   = "tree"
	StrategyGraph  = "graph"
	StrategyMulti  = "multi"
)

func newPlan(goal Goal, strategy string) *Plan {
	return &Plan{
		ID:        ids.NewPlanID(),
		Goal:      goal,
		Strategy:  strategy,
		Status:    PlanStatusCreated,
		CreatedAt: time.Now(),
	}
}

// LinearStrategy produces a sequential chain: each step depends on the
// previous one. List goals become one step per element; text goals decompose
// into heuristic phases.
type LinearStrategy struct {
	baseAnalysis
}

func (s *LinearStrategy) Name() string { return StrategyLinear }

// linearPhases are the heuristic decomposition of a free-text goal, in
// order, with the complexity each phase usually carries.
var linearPhases = []struct {
	verb       string
	complexity Complexity
	critical   bool
}{
	{"Analyze", ComplexityMedium, false},
	{"Identify", ComplexityLow, false},
	{"Execute", ComplexityHigh, true},
	{"Verify", ComplexityLow, false},
	{"Summarize", ComplexityLow, false},
}

func (s *LinearStrategy) CreatePlan(ctx context.Context, goal Goal, planContext map[string]interface{}, opts CreateOptions) (*Plan, error) {
	if goal.IsEmpty() {
		return nil, errors.New(errors.CodeInvalidGoal, "goal must not be empty").
			WithComponent("planning").
			WithOperation("create_plan")
	}

	plan := newPlan(goal, StrategyLinear)

	if goal.IsList() {
		for i, sub := range goal.SubGoals {
			step := &PlanStep{
				ID:          fmt.Sprintf("step_%d", i+1),
				Description: sub,
				Complexity:  ComplexityMedium,
			}
			if i > 0 {
				step.Dependencies = []string{fmt.Sprintf("step_%d", i)}
			}
			plan.Steps = append(plan.Steps, step)
		}
		return plan, nil
	}

	n := opts.maxSteps()
	if n > len(linearPhases) {
		n = len(linearPhases)
	}
	for i := 0; i < n; i++ {
		phase := linearPhases[i]
		step := &PlanStep{
			ID:          fmt.Sprintf("step_%d", i+1),
			Description: fmt.Sprintf("%s %s", phase.verb, goal.Text),
			Complexity:  phase.complexity,
			Critical:    phase.critical,
		}
		if i > 0 {
			step.Dependencies = []string{fmt.Sprintf("step_%d", i)}
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// TreeStrategy explores beamWidth branches to the configured depth from a
// root analysis step, then synthesizes every leaf.
type TreeStrategy struct {
	baseAnalysis
}

func (s *TreeStrategy) Name() string { return StrategyTree }

func (s *TreeStrategy) CreatePlan(ctx context.Context, goal Goal, planContext map[string]interface{}, opts CreateOptions) (*Plan, error) {
	if goal.IsEmpty() {
		return nil, errors.New(errors.CodeInvalidGoal, "goal must not be empty").
			WithComponent("planning").
			WithOperation("create_plan")
	}

	plan := newPlan(goal, StrategyTree)
	root := &PlanStep{
		ID:          "root",
		Description: fmt.Sprintf("Analyze %s", goal.String()),
		Complexity:  ComplexityMedium,
	}
	plan.Steps = append(plan.Steps, root)

	width, depth := opts.beamWidth(), opts.depth()
	var leaves []string
	for b := 1; b <= width; b++ {
		parent := root.ID
		for d := 1; d <= depth; d++ {
			id := fmt.Sprintf("explore_%d_%d", b, d)
			step := &PlanStep{
				ID:               id,
				Description:      fmt.Sprintf("Explore option %d at depth %d for %s", b, d, goal.String()),
				Dependencies:     []string{parent},
				Complexity:       ComplexityMedium,
				CanRunInParallel: true,
			}
			if d == depth {
				step.Critical = true
				leaves = append(leaves, id)
			}
			plan.Steps = append(plan.Steps, step)
			parent = id
		}
	}

	plan.Steps = append(plan.Steps, &PlanStep{
		ID:           "synthesis",
		Description:  fmt.Sprintf("Synthesize findings for %s", goal.String()),
		Dependencies: leaves,
		Complexity:   ComplexityHigh,
		Critical:     true,
	})
	return plan, nil
}

// GraphStrategy produces a fixed eight-node topology with cross-edges, or a
// node per sub-goal plus an aggregation node for list goals.
type GraphStrategy struct {
	baseAnalysis
}

func (s *GraphStrategy) Name() string { return StrategyGraph }

func (s *GraphStrategy) CreatePlan(ctx context.Context, goal Goal, planContext map[string]interface{}, opts CreateOptions) (*Plan, error) {
	if goal.IsEmpty() {
		return nil, errors.New(errors.CodeInvalidGoal, "goal must not be empty").
			WithComponent("planning").
			WithOperation("create_plan")
	}

	plan := newPlan(goal, StrategyGraph)

	if goal.IsList() {
		var all []string
		for i, sub := range goal.SubGoals {
			id := fmt.Sprintf("node_%d", i+1)
			plan.Steps = append(plan.Steps, &PlanStep{
				ID:               id,
				Description:      sub,
				Complexity:       ComplexityMedium,
				CanRunInParallel: true,
			})
			all = append(all, id)
		}
		plan.Steps = append(plan.Steps, &PlanStep{
			ID:           "connections",
			Description:  fmt.Sprintf("Connect results across %d goals", len(all)),
			Dependencies: all,
			Complexity:   ComplexityHigh,
			Critical:     true,
		})
		return plan, nil
	}

	g := goal.Text
	nodes := []*PlanStep{
		{ID: "analyze", Description: fmt.Sprintf("Analyze %s", g), Complexity: ComplexityMedium, CanRunInParallel: true},
		{ID: "context", Description: fmt.Sprintf("Fetch context for %s", g), Complexity: ComplexityLow, CanRunInParallel: true},
		{ID: "decompose", Description: fmt.Sprintf("Decompose %s", g), Dependencies: []string{"analyze", "context"}, Complexity: ComplexityMedium},
		{ID: "explore_a", Description: fmt.Sprintf("Explore primary path for %s", g), Dependencies: []string{"decompose"}, Complexity: ComplexityMedium, CanRunInParallel: true},
		{ID: "explore_b", Description: fmt.Sprintf("Explore alternative path for %s", g), Dependencies: []string{"decompose"}, Complexity: ComplexityMedium, CanRunInParallel: true},
		{ID: "connect", Description: "Connect findings from both paths", Dependencies: []string{"explore_a", "explore_b"}, Complexity: ComplexityLow},
		{ID: "synthesize", Description: fmt.Sprintf("Generate synthesis for %s", g), Dependencies: []string{"connect", "analyze"}, Complexity: ComplexityHigh, Critical: true},
		{ID: "validate", Description: "Test synthesized result", Dependencies: []string{"synthesize"}, Complexity: ComplexityLow, Critical: true},
	}
	plan.Steps = nodes
	return plan, nil
}

// MultiStrategy is a meta-strategy: each call picks linear, tree, or graph
// via an injected decider or goal heuristics. Produced plans may be checked
// against the structural schema; a failed check only logs.
type MultiStrategy struct {
	baseAnalysis

	linear LinearStrategy
	tree   TreeStrategy
	graph  GraphStrategy

	// Decide overrides the heuristic selection when non-nil.
	Decide func(goal Goal, planContext map[string]interface{}) string

	// ValidateSchema enables the post-creation structural check.
	ValidateSchema bool

	// Warn receives schema-validation warnings; wired to the planner logger.
	Warn func(msg string, keysAndValues ...interface{})
}

func (s *MultiStrategy) Name() string { return StrategyMulti }

var treeKeywords = []string{"analyze", "research", "explore", "investigate", "compare", "evaluate"}
var graphKeywords = []string{"connect", "relate", "integrate", "graph", "network", "depend", "cross-reference"}

// decideStrategy picks a concrete strategy for the goal: interconnection
// vocabulary routes to graph, long or analytic goals to tree, everything
// else to linear.
func (s *MultiStrategy) decideStrategy(goal Goal, planContext map[string]interface{}) string {
	if s.Decide != nil {
		return s.Decide(goal, planContext)
	}
	text := strings.ToLower(goal.String())
	for _, kw := range graphKeywords {
		if strings.Contains(text, kw) {
			return StrategyGraph
		}
	}
	if len(text) > 120 {
		return StrategyTree
	}
	for _, kw := range treeKeywords {
		if strings.Contains(text, kw) {
			return StrategyTree
		}
	}
	return StrategyLinear
}

func (s *MultiStrategy) CreatePlan(ctx context.Context, goal Goal, planContext map[string]interface{}, opts CreateOptions) (*Plan, error) {
	var delegate Strategy
	choice := s.decideStrategy(goal, planContext)
	switch choice {
	case StrategyTree:
		delegate = &s.tree
	case StrategyGraph:
		delegate = &s.graph
	default:
		choice = StrategyLinear
		delegate = &s.linear
	}

	plan, err := delegate.CreatePlan(ctx, goal, planContext, opts)
	if err != nil {
		return nil, err
	}
	plan.Strategy = StrategyMulti
	if plan.Metadata == nil {
		plan.Metadata = make(map[string]interface{})
	}
	plan.Metadata["selected_strategy"] = choice

	if s.ValidateSchema {
		if verr := plan.Validate(); verr != nil && s.Warn != nil {
			// Policy: schema problems are reported, never fatal.
			s.Warn("plan failed schema validation",
				"plan_id", plan.ID,
				"strategy", choice,
				"error", verr.Error())
		}
	}
	return plan, nil
}
