package planning

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/logger/core"

	"github.com/kart-io/agentflow/bus"
	"github.com/kart-io/agentflow/errors"
	"github.com/kart-io/agentflow/ids"
	"github.com/kart-io/agentflow/interfaces"
	"github.com/kart-io/agentflow/observability"
)

// Planner turns goals into registered plans. Strategy selection is
// per-call, per-agent, or the planner default; the multi strategy is the
// default when nothing narrower is configured.
type Planner struct {
	mu              sync.RWMutex
	strategies      map[string]Strategy
	agentStrategies map[string]string
	defaultStrategy string

	registry  *Registry
	callbacks *Callbacks
	bus       *bus.EventBus
	logger    core.Logger
	metrics   *observability.Metrics
	llm       interfaces.LLMClient
	sessions  interfaces.SessionStore
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithRegistry substitutes the plan registry.
func WithRegistry(r *Registry) PlannerOption {
	return func(p *Planner) { p.registry = r }
}

// WithCallbacks installs lifecycle hooks.
func WithCallbacks(c *Callbacks) PlannerOption {
	return func(p *Planner) { p.callbacks = c }
}

// WithBus publishes planner lifecycle events to b.
func WithBus(b *bus.EventBus) PlannerOption {
	return func(p *Planner) { p.bus = b }
}

// WithPlannerLogger sets the planner logger.
func WithPlannerLogger(l core.Logger) PlannerOption {
	return func(p *Planner) { p.logger = l }
}

// WithMetrics records plan counters on m.
func WithMetrics(m *observability.Metrics) PlannerOption {
	return func(p *Planner) { p.metrics = m }
}

// WithLLMClient supplies the completion client available to strategies that
// call out for decomposition.
func WithLLMClient(c interfaces.LLMClient) PlannerOption {
	return func(p *Planner) { p.llm = c }
}

// WithSessionStore supplies the enrichment-context store.
func WithSessionStore(s interfaces.SessionStore) PlannerOption {
	return func(p *Planner) { p.sessions = s }
}

// WithDefaultStrategy changes the fallback strategy name.
func WithDefaultStrategy(name string) PlannerOption {
	return func(p *Planner) { p.defaultStrategy = name }
}

// NewPlanner builds a planner with the four built-in strategies registered.
func NewPlanner(opts ...PlannerOption) *Planner {
	p := &Planner{
		strategies:      make(map[string]Strategy),
		agentStrategies: make(map[string]string),
		defaultStrategy: StrategyMulti,
		registry:        NewRegistry(0, 0),
		logger:          core.NewNoOpLogger(nil),
	}
	for _, o := range opts {
		o(p)
	}

	multi := &MultiStrategy{
		ValidateSchema: true,
		Warn:           p.logger.Warnw,
	}
	p.RegisterStrategy(StrategyLinear, &LinearStrategy{})
	p.RegisterStrategy(StrategyTree, &TreeStrategy{})
	p.RegisterStrategy(StrategyGraph, &GraphStrategy{})
	p.RegisterStrategy(StrategyMulti, multi)
	return p
}

// RegisterStrategy makes a strategy selectable by name, replacing any
// earlier registration.
func (p *Planner) RegisterStrategy(name string, s Strategy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategies[name] = s
}

// SetAgentStrategy pins an agent to a registered strategy.
func (p *Planner) SetAgentStrategy(agentID, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.strategies[name]; !ok {
		return errors.New(errors.CodeStrategyNotFound, "strategy is not registered").
			WithComponent("planning").
			WithOperation("set_agent_strategy").
			WithContext("agent_id", agentID).
			WithContext("strategy", name)
	}
	p.agentStrategies[agentID] = name
	return nil
}

// GetAgentStrategy returns the agent's pinned strategy name.
func (p *Planner) GetAgentStrategy(agentID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	name, ok := p.agentStrategies[agentID]
	return name, ok
}

// Strategy returns the registered strategy by name.
func (p *Planner) Strategy(name string) (Strategy, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.strategies[name]
	return s, ok
}

// Registry exposes the plan registry.
func (p *Planner) Registry() *Registry { return p.registry }

func (p *Planner) resolveStrategy(opts CreateOptions) (Strategy, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	name := opts.Strategy
	if name == "" && opts.AgentID != "" {
		name = p.agentStrategies[opts.AgentID]
	}
	if name == "" {
		name = p.defaultStrategy
	}
	s, ok := p.strategies[name]
	if !ok {
		return nil, "", errors.New(errors.CodeStrategyNotFound, "strategy is not registered").
			WithComponent("planning").
			WithOperation("create_plan").
			WithContext("strategy", name)
	}
	return s, name, nil
}

// emptyPlan handles an empty goal: there is nothing to decompose, so the
// planner registers a zero-step plan that is already completed.
func (p *Planner) emptyPlan(ctx context.Context, goal Goal, opts CreateOptions) (*Plan, error) {
	p.mu.RLock()
	name := opts.Strategy
	if name == "" && opts.AgentID != "" {
		name = p.agentStrategies[opts.AgentID]
	}
	if name == "" {
		name = p.defaultStrategy
	}
	p.mu.RUnlock()

	correlationID := observability.CorrelationIDFrom(ctx)
	if correlationID == "" {
		correlationID = ids.NewCorrelationID()
	}

	plan := &Plan{
		ID:        ids.NewPlanID(),
		Goal:      goal,
		Strategy:  name,
		Status:    PlanStatusCompleted,
		CreatedAt: time.Now(),
		Metadata: map[string]interface{}{
			"correlation_id": correlationID,
			"empty_goal":     true,
		},
	}
	if err := p.registry.Register(plan); err != nil {
		return nil, err
	}

	p.publish(bus.TopicPlannerCompleted, correlationID, map[string]interface{}{
		"plan_id":  plan.ID,
		"strategy": plan.Strategy,
		"steps":    0,
	})
	p.logger.Infow("empty goal, plan completed with no steps",
		"plan_id", plan.ID,
		"correlation_id", correlationID)
	return plan.Clone(), nil
}

// CreatePlan decomposes the goal with the selected strategy, validates the
// result, and registers it. The returned plan is the caller's copy.
func (p *Planner) CreatePlan(ctx context.Context, goal Goal, planContext map[string]interface{}, opts CreateOptions) (*Plan, error) {
	if goal.IsEmpty() {
		return p.emptyPlan(ctx, goal, opts)
	}

	strategy, name, err := p.resolveStrategy(opts)
	if err != nil {
		return nil, err
	}

	planContext = p.enrichContext(ctx, planContext, opts.SessionID)

	correlationID := observability.CorrelationIDFrom(ctx)
	if correlationID == "" {
		correlationID = ids.NewCorrelationID()
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}

	if err := p.callbacks.firePlanStart(goal, planContext, name); err != nil {
		return nil, err
	}
	p.publish(bus.TopicPlannerStarted, correlationID, map[string]interface{}{
		"goal":     goal.String(),
		"strategy": name,
	})

	plan, err := strategy.CreatePlan(ctx, goal, planContext, opts)
	if err != nil {
		err = errors.Wrap(err, errors.CodePlanningFailed, "strategy failed to create plan").
			WithComponent("planning").
			WithOperation("create_plan").
			WithContext("strategy", name).
			WithCorrelation(correlationID, "")
		p.failPlan(err, nil, correlationID)
		return nil, err
	}

	if plan.Metadata == nil {
		plan.Metadata = make(map[string]interface{})
	}
	plan.Metadata["correlation_id"] = correlationID

	for i, step := range plan.Steps {
		if err := p.callbacks.firePlanStep(step, i, plan); err != nil {
			p.failPlan(err, plan, correlationID)
			return nil, err
		}
	}

	if err := plan.Validate(); err != nil {
		err = errors.Wrap(err, errors.CodeInvalidPlan, "strategy produced an invalid plan").
			WithComponent("planning").
			WithOperation("create_plan").
			WithContext("strategy", name).
			WithContext("plan_id", plan.ID)
		p.failPlan(err, plan, correlationID)
		return nil, err
	}

	if err := p.registry.Register(plan); err != nil {
		p.failPlan(err, plan, correlationID)
		return nil, err
	}

	if err := p.callbacks.firePlanComplete(plan); err != nil {
		// The registry stays consistent: the plan is registered; only the
		// observer failed.
		p.failPlan(err, plan, correlationID)
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.PlansTotal.WithLabelValues(plan.Strategy).Inc()
	}
	p.publish(bus.TopicPlannerCompleted, correlationID, map[string]interface{}{
		"plan_id":  plan.ID,
		"strategy": plan.Strategy,
		"steps":    len(plan.Steps),
	})
	p.logger.Infow("plan created",
		"plan_id", plan.ID,
		"strategy", plan.Strategy,
		"steps", len(plan.Steps),
		"correlation_id", correlationID)

	return plan.Clone(), nil
}

// ReplanOptions tunes a replan call.
type ReplanOptions struct {
	// NewGoal replaces the original goal when non-nil.
	NewGoal *Goal

	// Create overrides plan-creation options; zero value reuses the
	// original plan's strategy.
	Create CreateOptions

	// TriggerPhase records which execution phase asked for the replan.
	TriggerPhase string
}

// ReplanContext records the provenance of a successor plan.
type ReplanContext struct {
	ReplanID       string                 `json:"replan_id"`
	Timestamp      time.Time              `json:"timestamp"`
	Reason         string                 `json:"reason"`
	TriggerPhase   string                 `json:"trigger_phase,omitempty"`
	OriginalPlanID string                 `json:"original_plan_id"`
	Strategy       string                 `json:"strategy"`
	ContextAtReplan map[string]interface{} `json:"context_at_replan,omitempty"`
}

// Replan creates a successor plan for planID, cancels the original in the
// registry, and returns the new plan together with its replan record.
func (p *Planner) Replan(ctx context.Context, planID, reason string, planContext map[string]interface{}, opts ReplanOptions) (*Plan, *ReplanContext, error) {
	original, err := p.registry.Get(planID)
	if err != nil {
		return nil, nil, err
	}

	goal := original.Goal
	if opts.NewGoal != nil {
		goal = *opts.NewGoal
	}
	createOpts := opts.Create
	if createOpts.Strategy == "" {
		createOpts.Strategy = original.Strategy
	}

	rc := &ReplanContext{
		ReplanID:        ids.NewReplanID(),
		Timestamp:       time.Now(),
		Reason:          reason,
		TriggerPhase:    opts.TriggerPhase,
		OriginalPlanID:  planID,
		Strategy:        createOpts.Strategy,
		ContextAtReplan: planContext,
	}

	plan, err := p.CreatePlan(ctx, goal, planContext, createOpts)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeReplanFailed, "replan failed").
			WithComponent("planning").
			WithOperation("replan").
			WithContext("original_plan_id", planID).
			WithContext("reason", reason)
	}

	plan.Metadata["replan_id"] = rc.ReplanID
	plan.Metadata["original_plan_id"] = planID
	plan.Metadata["replan_reason"] = reason

	if !original.Status.IsTerminal() {
		if err := p.registry.UpdateStatus(planID, PlanStatusCancelled); err != nil {
			p.logger.Warnw("failed to cancel original plan after replan",
				"plan_id", planID, "error", err.Error())
		}
	}

	if err := p.callbacks.fireReplan(plan, reason); err != nil {
		return nil, nil, err
	}
	if p.metrics != nil {
		p.metrics.ReplansTotal.Inc()
	}
	correlationID, _ := plan.Metadata["correlation_id"].(string)
	p.publish(bus.TopicReplanInitiated, correlationID, map[string]interface{}{
		"replan_id":        rc.ReplanID,
		"original_plan_id": planID,
		"new_plan_id":      plan.ID,
		"reason":           reason,
	})
	return plan, rc, nil
}

// enrichContext merges session-store planning context under the caller's
// values.
func (p *Planner) enrichContext(ctx context.Context, planContext map[string]interface{}, sessionID string) map[string]interface{} {
	if p.sessions == nil || sessionID == "" {
		return planContext
	}
	stored, ok, err := p.sessions.Get(ctx, sessionID, "planning_context")
	if err != nil {
		p.logger.Warnw("session context lookup failed", "session_id", sessionID, "error", err.Error())
		return planContext
	}
	if !ok {
		return planContext
	}
	enrichment, ok := stored.(map[string]interface{})
	if !ok {
		return planContext
	}

	merged := make(map[string]interface{}, len(enrichment)+len(planContext))
	for k, v := range enrichment {
		merged[k] = v
	}
	for k, v := range planContext {
		merged[k] = v
	}
	return merged
}

func (p *Planner) failPlan(err error, plan *Plan, correlationID string) {
	p.callbacks.firePlanError(err, plan)
	data := map[string]interface{}{"error": err.Error()}
	if plan != nil {
		data["plan_id"] = plan.ID
	}
	p.publish(bus.TopicPlannerFailed, correlationID, data)
	p.logger.Errorw("plan creation failed", "error", err.Error())
}

func (p *Planner) publish(topic, correlationID string, data map[string]interface{}) {
	if p.bus == nil {
		return
	}
	_ = p.bus.Publish(bus.Event{
		Type: topic,
		Data: data,
		Metadata: bus.EventMetadata{
			CorrelationID: correlationID,
			Source:        "planner",
		},
	})
}
