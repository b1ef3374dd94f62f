package planning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/agentflow/bus"
	"github.com/kart-io/agentflow/config"
	"github.com/kart-io/agentflow/errors"
)

func TestCreatePlanRegistersAndReturnsCopy(t *testing.T) {
	p := NewPlanner()
	plan, err := p.CreatePlan(context.Background(), NewGoal("send the report"), nil, CreateOptions{})
	require.NoError(t, err)

	stored, err := p.Registry().Get(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, stored.ID)
	assert.NotEmpty(t, plan.Metadata["correlation_id"])

	// Mutating the returned plan must not reach the registry.
	plan.Steps[0].Description = "tampered"
	stored2, err := p.Registry().Get(plan.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "tampered", stored2.Steps[0].Description)
}

func TestCreatePlanEmptyGoal(t *testing.T) {
	p := NewPlanner()
	plan, err := p.CreatePlan(context.Background(), Goal{}, nil, CreateOptions{})
	require.NoError(t, err)
	assert.Empty(t, plan.Steps)
	assert.Equal(t, PlanStatusCompleted, plan.Status)

	stored, err := p.Registry().Get(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanStatusCompleted, stored.Status)
}

func TestCreatePlanStrategyNotFound(t *testing.T) {
	p := NewPlanner()
	_, err := p.CreatePlan(context.Background(), NewGoal("x"), nil, CreateOptions{Strategy: "quantum"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeStrategyNotFound))
}

func TestAgentStrategySelection(t *testing.T) {
	p := NewPlanner()
	require.NoError(t, p.SetAgentStrategy("researcher", StrategyTree))

	name, ok := p.GetAgentStrategy("researcher")
	require.True(t, ok)
	assert.Equal(t, StrategyTree, name)

	plan, err := p.CreatePlan(context.Background(), NewGoal("plain goal"), nil, CreateOptions{AgentID: "researcher"})
	require.NoError(t, err)
	assert.Equal(t, StrategyTree, plan.Strategy)

	err = p.SetAgentStrategy("researcher", "missing")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeStrategyNotFound))
}

func TestCallbackOrderAndPayloads(t *testing.T) {
	var order []string
	cb := &Callbacks{
		OnPlanStart: func(goal Goal, planContext map[string]interface{}, strategy string) {
			order = append(order, "start")
			assert.Equal(t, StrategyLinear, strategy)
		},
		OnPlanStep: func(step *PlanStep, index int, plan *Plan) {
			order = append(order, "step")
		},
		OnPlanComplete: func(plan *Plan) {
			order = append(order, "complete")
		},
	}

	p := NewPlanner(WithCallbacks(cb))
	plan, err := p.CreatePlan(context.Background(), NewGoal("simple"), nil, CreateOptions{Strategy: StrategyLinear})
	require.NoError(t, err)

	require.Len(t, order, 2+len(plan.Steps))
	assert.Equal(t, "start", order[0])
	assert.Equal(t, "complete", order[len(order)-1])
}

func TestCallbackPanicSurfacesAsErrorWithoutCorruptingRegistry(t *testing.T) {
	var errored bool
	cb := &Callbacks{
		OnPlanStart: func(Goal, map[string]interface{}, string) { panic("hook exploded") },
		OnPlanError: func(err error, plan *Plan) { errored = true },
	}

	p := NewPlanner(WithCallbacks(cb))
	_, err := p.CreatePlan(context.Background(), NewGoal("x"), nil, CreateOptions{Strategy: StrategyLinear})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodePlanningFailed))
	assert.False(t, errored, "OnPlanError only fires after the plan exists")
	assert.Zero(t, p.Registry().Count())
}

type cyclicStrategy struct{ baseAnalysis }

func (cyclicStrategy) Name() string { return "cyclic" }
func (cyclicStrategy) CreatePlan(ctx context.Context, goal Goal, planContext map[string]interface{}, opts CreateOptions) (*Plan, error) {
	return &Plan{
		ID:       "plan_cyclic",
		Goal:     goal,
		Strategy: "cyclic",
		Status:   PlanStatusCreated,
		Steps: []*PlanStep{
			{ID: "a", Dependencies: []string{"b"}},
			{ID: "b", Dependencies: []string{"a"}},
		},
	}, nil
}

func TestCustomStrategyCycleIsInvalidPlan(t *testing.T) {
	var gotErr error
	p := NewPlanner(WithCallbacks(&Callbacks{
		OnPlanError: func(err error, plan *Plan) { gotErr = err },
	}))
	p.RegisterStrategy("cyclic", cyclicStrategy{})

	_, err := p.CreatePlan(context.Background(), NewGoal("x"), nil, CreateOptions{Strategy: "cyclic"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidPlan))
	assert.ErrorIs(t, err, errors.New(errors.CodeCyclicDependency, ""))
	assert.Error(t, gotErr)
	assert.Zero(t, p.Registry().Count())
}

func TestPlannerPublishesLifecycleEvents(t *testing.T) {
	b := bus.New(config.EventBusOptions{BufferSize: 100, FlushInterval: -1, ErrorThreshold: 10})
	defer b.Close()

	var types []string
	_, err := b.Subscribe(func(e bus.Event) error {
		types = append(types, e.Type)
		return nil
	}, bus.WithTypes("planner.*"))
	require.NoError(t, err)

	p := NewPlanner(WithBus(b))
	_, err = p.CreatePlan(context.Background(), NewGoal("simple"), nil, CreateOptions{Strategy: StrategyLinear})
	require.NoError(t, err)
	b.Flush()

	assert.Equal(t, []string{bus.TopicPlannerStarted, bus.TopicPlannerCompleted}, types)
}

func TestReplanCreatesSuccessorAndCancelsOriginal(t *testing.T) {
	var replanned *Plan
	p := NewPlanner(WithCallbacks(&Callbacks{
		OnReplan: func(plan *Plan, reason string) {
			replanned = plan
			assert.Equal(t, "tool flaked", reason)
		},
	}))

	orig, err := p.CreatePlan(context.Background(), NewGoal("simple"), nil, CreateOptions{Strategy: StrategyLinear})
	require.NoError(t, err)

	successor, rc, err := p.Replan(context.Background(), orig.ID, "tool flaked", nil, ReplanOptions{TriggerPhase: "acting"})
	require.NoError(t, err)
	require.NotNil(t, rc)

	assert.NotEqual(t, orig.ID, successor.ID)
	assert.Equal(t, orig.ID, rc.OriginalPlanID)
	assert.Equal(t, orig.Strategy, rc.Strategy)
	assert.Equal(t, "acting", rc.TriggerPhase)
	assert.NotEmpty(t, rc.ReplanID)
	assert.WithinDuration(t, time.Now(), rc.Timestamp, time.Minute)
	assert.Equal(t, rc.ReplanID, successor.Metadata["replan_id"])
	assert.Equal(t, orig.ID, successor.Metadata["original_plan_id"])
	require.NotNil(t, replanned)
	assert.Equal(t, successor.ID, replanned.ID)

	cancelled, err := p.Registry().Get(orig.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanStatusCancelled, cancelled.Status)
}

func TestReplanUnknownPlan(t *testing.T) {
	p := NewPlanner()
	_, _, err := p.Replan(context.Background(), "plan_missing", "why", nil, ReplanOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodePlanNotFound))
}

type stubStore struct {
	data map[string]interface{}
}

func (s *stubStore) Get(ctx context.Context, sessionID, key string) (interface{}, bool, error) {
	v, ok := s.data[sessionID+"/"+key]
	return v, ok, nil
}
func (s *stubStore) Set(ctx context.Context, sessionID, key string, value interface{}) error {
	s.data[sessionID+"/"+key] = value
	return nil
}
func (s *stubStore) Delete(ctx context.Context, sessionID, key string) error {
	delete(s.data, sessionID+"/"+key)
	return nil
}

func TestSessionContextEnrichment(t *testing.T) {
	store := &stubStore{data: map[string]interface{}{
		"sess-1/planning_context": map[string]interface{}{
			"environment": "production",
			"region":      "eu-west-1",
		},
	}}

	var seen map[string]interface{}
	p := NewPlanner(
		WithSessionStore(store),
		WithCallbacks(&Callbacks{
			OnPlanStart: func(goal Goal, planContext map[string]interface{}, strategy string) {
				seen = planContext
			},
		}),
	)

	_, err := p.CreatePlan(context.Background(), NewGoal("simple"),
		map[string]interface{}{"environment": "staging"},
		CreateOptions{Strategy: StrategyLinear, SessionID: "sess-1"})
	require.NoError(t, err)

	require.NotNil(t, seen)
	// Caller values win over stored enrichment.
	assert.Equal(t, "staging", seen["environment"])
	assert.Equal(t, "eu-west-1", seen["region"])
}
