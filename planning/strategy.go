package planning

import (
	"context"
)

// CreateOptions tunes a single plan creation.
type CreateOptions struct {
	// Strategy names the strategy to use; empty selects the agent's
	// configured strategy, falling back to the planner default.
	Strategy string

	// MaxSteps caps decomposition for the linear strategy. Zero means the
	// default of 5.
	MaxSteps int

	// BeamWidth is the branching factor of the tree strategy. Zero means 2.
	BeamWidth int

	// Depth is the exploration depth of the tree strategy. Zero means 2.
	Depth int

	// AgentID attributes the plan to an agent and selects its strategy.
	AgentID string

	// SessionID keys session-store enrichment lookups.
	SessionID string
}

func (o CreateOptions) maxSteps() int {
	if o.MaxSteps <= 0 {
		return 5
	}
	return o.MaxSteps
}

func (o CreateOptions) beamWidth() int {
	if o.BeamWidth <= 0 {
		return 2
	}
	return o.BeamWidth
}

func (o CreateOptions) depth() int {
	if o.Depth <= 0 {
		return 2
	}
	return o.Depth
}

// Strategy is the capability set every planning strategy implements: plan
// creation plus the analysis operations over its topology.
type Strategy interface {
	Name() string

	// CreatePlan decomposes the goal into a step graph.
	CreatePlan(ctx context.Context, goal Goal, planContext map[string]interface{}, opts CreateOptions) (*Plan, error)

	// AnalyzeParallelism partitions step IDs into parallelizable groups and
	// a sequential tail.
	AnalyzeParallelism(plan *Plan) *ParallelismAnalysis

	// EstimateComplexity derives a time estimate, risk level, and confidence.
	EstimateComplexity(plan *Plan, planContext map[string]interface{}) *ComplexityEstimate

	// SuggestOptimizations proposes restructurings with estimated savings.
	SuggestOptimizations(plan *Plan) []OptimizationSuggestion
}

// baseAnalysis supplies the shared analysis implementations; strategies embed
// it and override only what their topology changes.
type baseAnalysis struct{}

func (baseAnalysis) AnalyzeParallelism(plan *Plan) *ParallelismAnalysis {
	return analyzeParallelism(plan)
}

func (baseAnalysis) EstimateComplexity(plan *Plan, planContext map[string]interface{}) *ComplexityEstimate {
	return estimateComplexity(plan, planContext)
}

func (baseAnalysis) SuggestOptimizations(plan *Plan) []OptimizationSuggestion {
	return suggestOptimizations(plan)
}
