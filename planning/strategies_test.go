package planning

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/agentflow/errors"
)

func TestLinearStrategyTextGoal(t *testing.T) {
	s := &LinearStrategy{}
	plan, err := s.CreatePlan(context.Background(), NewGoal("migrate the database"), nil, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	require.Len(t, plan.Steps, 5)
	assert.Equal(t, StrategyLinear, plan.Strategy)
	assert.Equal(t, PlanStatusCreated, plan.Status)

	// Sequential chain: every step depends on the previous one.
	assert.Empty(t, plan.Steps[0].Dependencies)
	for i := 1; i < len(plan.Steps); i++ {
		assert.Equal(t, []string{plan.Steps[i-1].ID}, plan.Steps[i].Dependencies)
	}
	assert.True(t, strings.HasPrefix(plan.Steps[0].Description, "Analyze"))
	assert.True(t, plan.Steps[2].Critical, "execute phase is critical")
}

func TestLinearStrategyMaxSteps(t *testing.T) {
	s := &LinearStrategy{}
	plan, err := s.CreatePlan(context.Background(), NewGoal("small task"), nil, CreateOptions{MaxSteps: 3})
	require.NoError(t, err)
	assert.Len(t, plan.Steps, 3)
}

func TestLinearStrategyListGoal(t *testing.T) {
	s := &LinearStrategy{}
	plan, err := s.CreatePlan(context.Background(), NewGoalList("fetch data", "clean data", "report"), nil, CreateOptions{})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "fetch data", plan.Steps[0].Description)
	assert.Equal(t, []string{"step_2"}, plan.Steps[2].Dependencies)
}

func TestLinearStrategyEmptyGoal(t *testing.T) {
	s := &LinearStrategy{}
	_, err := s.CreatePlan(context.Background(), Goal{}, nil, CreateOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidGoal))
}

func TestTreeStrategyTopology(t *testing.T) {
	s := &TreeStrategy{}
	plan, err := s.CreatePlan(context.Background(), NewGoal("research topic"), nil, CreateOptions{BeamWidth: 3, Depth: 2})
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	// root + beamWidth*depth explorations + synthesis.
	assert.Len(t, plan.Steps, 1+3*2+1)

	synthesis := plan.Step("synthesis")
	require.NotNil(t, synthesis)
	assert.True(t, synthesis.Critical)
	assert.Len(t, synthesis.Dependencies, 3, "synthesis depends on every leaf")
	for _, leaf := range synthesis.Dependencies {
		step := plan.Step(leaf)
		require.NotNil(t, step)
		assert.True(t, step.Critical, "leaves are critical")
		assert.True(t, step.CanRunInParallel)
	}

	// Branches chain root -> depth1 -> depth2.
	assert.Equal(t, []string{"root"}, plan.Step("explore_1_1").Dependencies)
	assert.Equal(t, []string{"explore_1_1"}, plan.Step("explore_1_2").Dependencies)
}

func TestGraphStrategyFixedTopology(t *testing.T) {
	s := &GraphStrategy{}
	plan, err := s.CreatePlan(context.Background(), NewGoal("integrate systems"), nil, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	require.Len(t, plan.Steps, 8)
	assert.Equal(t, []string{"analyze", "context"}, plan.Step("decompose").Dependencies)
	assert.Equal(t, []string{"explore_a", "explore_b"}, plan.Step("connect").Dependencies)
	// Cross-edge back to analyze.
	assert.Equal(t, []string{"connect", "analyze"}, plan.Step("synthesize").Dependencies)
	assert.True(t, plan.Step("synthesize").Critical)
	assert.True(t, plan.Step("validate").Critical)
}

func TestGraphStrategyListGoal(t *testing.T) {
	s := &GraphStrategy{}
	plan, err := s.CreatePlan(context.Background(), NewGoalList("a", "b", "c"), nil, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	require.Len(t, plan.Steps, 4)
	conn := plan.Step("connections")
	require.NotNil(t, conn)
	assert.ElementsMatch(t, []string{"node_1", "node_2", "node_3"}, conn.Dependencies)
}

func TestMultiStrategyHeuristics(t *testing.T) {
	tests := []struct {
		name string
		goal Goal
		want string
	}{
		{"interconnection keywords pick graph", NewGoal("integrate the billing network"), StrategyGraph},
		{"analytic keywords pick tree", NewGoal("research caching approaches"), StrategyTree},
		{"long goals pick tree", NewGoal(strings.Repeat("do the thing and then some more ", 5)), StrategyTree},
		{"plain goals pick linear", NewGoal("send the report"), StrategyLinear},
	}

	s := &MultiStrategy{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := s.CreatePlan(context.Background(), tt.goal, nil, CreateOptions{})
			require.NoError(t, err)
			assert.Equal(t, StrategyMulti, plan.Strategy)
			assert.Equal(t, tt.want, plan.Metadata["selected_strategy"])
		})
	}
}

func TestMultiStrategyDecideOverride(t *testing.T) {
	s := &MultiStrategy{
		Decide: func(goal Goal, planContext map[string]interface{}) string { return StrategyGraph },
	}
	plan, err := s.CreatePlan(context.Background(), NewGoal("anything"), nil, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, StrategyGraph, plan.Metadata["selected_strategy"])
}

func TestMultiStrategyUnknownDecisionFallsBackToLinear(t *testing.T) {
	s := &MultiStrategy{
		Decide: func(Goal, map[string]interface{}) string { return "bogus" },
	}
	plan, err := s.CreatePlan(context.Background(), NewGoal("anything"), nil, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, StrategyLinear, plan.Metadata["selected_strategy"])
}

func TestMultiStrategySchemaWarningDoesNotFail(t *testing.T) {
	var warned bool
	s := &MultiStrategy{
		ValidateSchema: true,
		Warn:           func(msg string, kv ...interface{}) { warned = true },
	}
	// The built-in strategies produce valid plans, so the warning path stays
	// quiet here.
	plan, err := s.CreatePlan(context.Background(), NewGoal("simple task"), nil, CreateOptions{})
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.False(t, warned)
}
