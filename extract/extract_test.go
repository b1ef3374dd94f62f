package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/agentflow/planning"
)

func toolPlan() *planning.Plan {
	return &planning.Plan{
		ID:       "plan_extract",
		Goal:     planning.NewGoal("process the backlog"),
		Strategy: planning.StrategyLinear,
		Status:   planning.PlanStatusCreated,
		Metadata: map[string]interface{}{"correlation_id": "corr-1"},
		Steps: []*planning.PlanStep{
			{ID: "s1", Description: "Fetch the raw records", Critical: true},
			{ID: "s2", Description: "Process each record", Dependencies: []string{"s1"}, Critical: true},
			{ID: "s3", ToolID: "report-writer", Description: "Summarize findings", Dependencies: []string{"s2"}},
		},
	}
}

func TestExtractQualifyingSteps(t *testing.T) {
	res := New().Extract(toolPlan())

	require.Len(t, res.ToolCalls, 3)
	require.Len(t, res.StepMap, 3)
	assert.Empty(t, res.Warnings)

	s1, ok := res.Call("s1")
	require.True(t, ok)
	assert.Equal(t, "fetch", s1.ToolName)
	assert.Equal(t, "corr-1", s1.CorrelationID)
	assert.Equal(t, "s1", s1.Metadata["step_id"])
	assert.Equal(t, "plan_extract", s1.Metadata["plan_id"])

	// Bound tools win over the description heuristic, sanitized.
	s3, ok := res.Call("s3")
	require.True(t, ok)
	assert.Equal(t, "report_writer", s3.ToolName)
}

func TestExtractFiltersNonToolSteps(t *testing.T) {
	plan := toolPlan()
	plan.Steps = append(plan.Steps, &planning.PlanStep{
		ID:          "s4",
		Description: "Think carefully about next actions",
	})

	res := New().Extract(plan)
	assert.Len(t, res.ToolCalls, 3)
	_, ok := res.Call("s4")
	assert.False(t, ok)
}

func TestExtractFunctionCallSyntaxQualifies(t *testing.T) {
	plan := &planning.Plan{
		ID: "p",
		Steps: []*planning.PlanStep{
			{ID: "s1", Description: "lookup(user_id) in the directory"},
		},
	}
	res := New().Extract(plan)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "lookup", res.ToolCalls[0].ToolName)
}

func TestExtractExcludeNonCritical(t *testing.T) {
	res := New(WithExcludeNonCritical()).Extract(toolPlan())

	// s3 is non-critical and drops out; s2's edge to s1 survives.
	assert.Len(t, res.ToolCalls, 2)
	_, ok := res.Call("s3")
	assert.False(t, ok)
}

func TestExtractDependencyEdges(t *testing.T) {
	plan := toolPlan()
	plan.Steps[0].RetryLimit = 2
	res := New().Extract(plan)

	require.Len(t, res.Dependencies, 2)

	// s2 -> s1: critical producer with retry budget advertises a fallback.
	edge := res.Dependencies[0]
	assert.Equal(t, "fetch", edge.ToolName)
	assert.Equal(t, DependencyRequired, edge.Type)
	assert.Equal(t, planning.FailureStop, edge.FailureAction)
	assert.Equal(t, "fetch_lite", edge.FallbackTool)

	// s3 -> s2: producer is critical without retries.
	edge = res.Dependencies[1]
	assert.Equal(t, "process", edge.ToolName)
	assert.Equal(t, DependencyRequired, edge.Type)
	assert.Empty(t, edge.FallbackTool)
}

func TestExtractOptionalDependency(t *testing.T) {
	plan := &planning.Plan{
		ID: "p",
		Steps: []*planning.PlanStep{
			{ID: "a", Description: "Fetch optional enrichment"},
			{ID: "b", Description: "Process the record", Dependencies: []string{"a"}, Critical: true},
		},
	}
	res := New().Extract(plan)

	require.Len(t, res.Dependencies, 1)
	assert.Equal(t, DependencyOptional, res.Dependencies[0].Type)
	assert.Equal(t, planning.FailureContinue, res.Dependencies[0].FailureAction)
}

func TestExtractConditionFromParams(t *testing.T) {
	plan := &planning.Plan{
		ID: "p",
		Steps: []*planning.PlanStep{
			{ID: "a", Description: "Fetch metrics", Critical: true,
				Params: map[string]interface{}{"condition": "window == daily"}},
			{ID: "b", Description: "Generate digest", Dependencies: []string{"a"}, Critical: true},
		},
	}
	res := New().Extract(plan)
	require.Len(t, res.Dependencies, 1)
	assert.Equal(t, "window == daily", res.Dependencies[0].Condition)
}

func TestExtractWarnsOnFilteredAndUnknownDependencies(t *testing.T) {
	plan := &planning.Plan{
		ID: "p",
		Steps: []*planning.PlanStep{
			{ID: "reason", Description: "Reflect on intermediate results"},
			{ID: "a", Description: "Fetch data", Dependencies: []string{"reason", "ghost"}, Critical: true},
		},
	}
	res := New().Extract(plan)

	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "filtered out")
	assert.Contains(t, res.Warnings[1], "unknown step ghost")
	assert.Empty(t, res.Dependencies)
}

func TestExtractCycleProducesWarningNotError(t *testing.T) {
	plan := &planning.Plan{
		ID: "p",
		Steps: []*planning.PlanStep{
			{ID: "a", Description: "Fetch upstream", Dependencies: []string{"b"}},
			{ID: "b", Description: "Process downstream", Dependencies: []string{"a"}},
		},
	}
	res := New().Extract(plan)

	assert.Len(t, res.ToolCalls, 2)
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "circular dependency") {
			found = true
			assert.True(t, strings.Contains(w, "fetch") || strings.Contains(w, "process"))
		}
	}
	assert.True(t, found)
}

func TestExtractCycleCheckDisabled(t *testing.T) {
	plan := &planning.Plan{
		ID: "p",
		Steps: []*planning.PlanStep{
			{ID: "a", Description: "Fetch upstream", Dependencies: []string{"b"}},
			{ID: "b", Description: "Process downstream", Dependencies: []string{"a"}},
		},
	}
	res := New(WithCircularValidation(false)).Extract(plan)
	assert.Empty(t, res.Warnings)
}

func TestExtractEmptyPlan(t *testing.T) {
	res := New().Extract(nil)
	assert.Empty(t, res.ToolCalls)
	assert.Empty(t, res.Dependencies)
	assert.NotNil(t, res.StepMap)
}

func TestToolNameSanitization(t *testing.T) {
	plan := &planning.Plan{
		ID: "p",
		Steps: []*planning.PlanStep{
			{ID: "a", ToolID: "HTTP-Client v2!"},
		},
	}
	res := New().Extract(plan)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "http_client_v2", res.ToolCalls[0].ToolName)
}
