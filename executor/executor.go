// Package executor drives plan step graphs: dependency-aware admission,
// bounded parallelism, retries with exponential backoff, per-step timeouts,
// pause/resume/cancel, and replanning. Tool invocations are delegated to a
// host-supplied runner; every state transition is published on the event bus
// and reflected into the execution timeline.
package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kart-io/logger/core"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kart-io/agentflow/bus"
	"github.com/kart-io/agentflow/config"
	"github.com/kart-io/agentflow/errors"
	"github.com/kart-io/agentflow/extract"
	"github.com/kart-io/agentflow/ids"
	"github.com/kart-io/agentflow/interfaces"
	"github.com/kart-io/agentflow/observability"
	"github.com/kart-io/agentflow/planning"
	"github.com/kart-io/agentflow/timeline"
)

const maxRetryBackoff = 30 * time.Second

// Executor schedules plan executions over a shared worker pool.
type Executor struct {
	opts      config.SchedulerOptions
	runner    interfaces.ToolRunner
	extractor *extract.Extractor
	planner   *planning.Planner
	bus       *bus.EventBus
	tracer    observability.Tracer
	timeline  *timeline.Manager
	metrics   *observability.Metrics
	logger    core.Logger
	pool      *ants.Pool

	execMu     sync.Mutex
	executions map[string]*execution
}

// Option configures an Executor.
type Option func(*Executor)

// WithBus publishes lifecycle events to b.
func WithBus(b *bus.EventBus) Option {
	return func(x *Executor) { x.bus = b }
}

// WithTracer wraps each step in a tool.execute span.
func WithTracer(t observability.Tracer) Option {
	return func(x *Executor) { x.tracer = t }
}

// WithTimeline records execution phases into the timeline manager.
func WithTimeline(m *timeline.Manager) Option {
	return func(x *Executor) { x.timeline = m }
}

// WithPlanner enables InitiateReplan.
func WithPlanner(p *planning.Planner) Option {
	return func(x *Executor) { x.planner = p }
}

// WithMetrics records step and execution instruments on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(x *Executor) { x.metrics = m }
}

// WithLogger sets the executor logger.
func WithLogger(l core.Logger) Option {
	return func(x *Executor) { x.logger = l }
}

// WithExtractor substitutes the plan flattener.
func WithExtractor(e *extract.Extractor) Option {
	return func(x *Executor) { x.extractor = e }
}

// New builds an executor backed by a worker pool of MaxParallelSteps slots.
func New(opts config.SchedulerOptions, runner interfaces.ToolRunner, o ...Option) (*Executor, error) {
	if runner == nil {
		return nil, errors.New(errors.CodeInvalidInput, "tool runner is required").
			WithComponent("executor").
			WithOperation("new")
	}
	if opts.MaxParallelSteps <= 0 {
		opts.MaxParallelSteps = 1
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}

	x := &Executor{
		opts:       opts,
		runner:     runner,
		extractor:  extract.New(),
		logger:     core.NewNoOpLogger(nil),
		executions: make(map[string]*execution),
	}
	for _, opt := range o {
		opt(x)
	}

	pool, err := ants.NewPool(opts.MaxParallelSteps)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "worker pool creation failed").
			WithComponent("executor").
			WithOperation("new")
	}
	x.pool = pool
	return x, nil
}

// StartExecution begins running the plan and returns immediately with the
// execution ID. Progress is observed through GetExecutionStatus, the event
// bus, and the timeline.
func (x *Executor) StartExecution(ctx context.Context, plan *planning.Plan) (string, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return "", errors.New(errors.CodeInvalidPlan, "plan has no steps").
			WithComponent("executor").
			WithOperation("start_execution")
	}
	if err := plan.Validate(); err != nil {
		return "", err
	}

	plan = plan.Clone()
	flat := x.extractor.Extract(plan)
	for _, w := range flat.Warnings {
		x.logger.Warnw("plan flattening warning", "plan_id", plan.ID, "warning", w)
	}

	correlationID, _ := plan.Metadata["correlation_id"].(string)
	if correlationID == "" {
		correlationID = observability.CorrelationIDFrom(ctx)
	}
	if correlationID == "" {
		correlationID = ids.NewCorrelationID()
	}

	e := &execution{
		id:            ids.NewExecutionID(),
		plan:          plan,
		correlationID: correlationID,
		tenantID:      observability.TenantIDFrom(ctx),
		state:         ExecutionRunning,
		steps:         make(map[string]*stepRun, len(plan.Steps)),
		results:       make(chan stepOutcome, len(plan.Steps)),
		retries:       make(chan string, len(plan.Steps)),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		startedAt:     time.Now(),
	}
	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	x.bindSteps(e, flat)

	x.execMu.Lock()
	x.executions[e.id] = e
	x.execMu.Unlock()

	if x.metrics != nil {
		x.metrics.ExecutionsRunning.Inc()
	}
	go x.drive(e)
	return e.id, nil
}

// bindSteps seeds the scheduling records from the plan and its flattened
// tool-call view.
func (x *Executor) bindSteps(e *execution, flat *extract.Result) {
	for i, step := range e.plan.Steps {
		sr := &stepRun{
			step:      step,
			state:     StepPending,
			insertion: i,
		}
		if call, ok := flat.Call(step.ID); ok {
			sr.call = call
			sr.hasCall = true
			sr.toolName = call.ToolName
		}
		e.steps[step.ID] = sr
		e.order = append(e.order, step.ID)
	}
}

// Pause stops admitting new steps; running steps finish normally.
func (x *Executor) Pause(executionID string) error {
	e, err := x.execution(executionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.IsTerminal() {
		return x.terminalErr(e, "pause")
	}
	e.state = ExecutionPaused
	e.signal()
	return nil
}

// Resume reopens admission after a pause.
func (x *Executor) Resume(executionID string) error {
	e, err := x.execution(executionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.IsTerminal() {
		return x.terminalErr(e, "resume")
	}
	e.state = ExecutionRunning
	e.signal()
	return nil
}

// Cancel aborts the execution. In-flight steps are interrupted at their next
// suspension point; completed work is preserved.
func (x *Executor) Cancel(executionID string) error {
	e, err := x.execution(executionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.state.IsTerminal() {
		e.mu.Unlock()
		return x.terminalErr(e, "cancel")
	}
	e.mu.Unlock()
	e.cancel()
	return nil
}

// Wait blocks until the execution reaches a terminal state or ctx expires.
func (x *Executor) Wait(ctx context.Context, executionID string) error {
	e, err := x.execution(executionID)
	if err != nil {
		return err
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return errors.FromContext(ctx)
	}
}

// GetExecutionStatus snapshots the execution.
func (x *Executor) GetExecutionStatus(executionID string) (*ExecutionStatus, error) {
	e, err := x.execution(executionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	status := &ExecutionStatus{
		ExecutionID:   e.id,
		PlanID:        e.plan.ID,
		State:         e.state,
		CorrelationID: e.correlationID,
		StartedAt:     e.startedAt,
		FinishedAt:    e.finishedAt,
		Steps:         make(map[string]StepResult, len(e.steps)),
		Replans:       e.replans,
	}
	for id, sr := range e.steps {
		status.Steps[id] = e.stepResult(sr)
	}
	return status, nil
}

// GetProgress summarizes step completion.
func (x *Executor) GetProgress(executionID string) (*Progress, error) {
	e, err := x.execution(executionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p := &Progress{TotalSteps: len(e.steps)}
	for _, sr := range e.steps {
		switch sr.state {
		case StepDone:
			p.Completed++
		case StepDoneFailed, StepFailed:
			p.Failed++
		case StepSkipped:
			p.Skipped++
		case StepCancelled:
			p.Cancelled++
		case StepRunning:
			p.Running++
		default:
			p.Pending++
		}
	}
	terminal := p.Completed + p.Failed + p.Skipped + p.Cancelled
	if p.TotalSteps > 0 {
		p.Percent = float64(terminal) / float64(p.TotalSteps) * 100
	}
	return p, nil
}

// GetEvents returns the lifecycle events recorded for the execution, in
// publish order.
func (x *Executor) GetEvents(executionID string) ([]bus.Event, error) {
	e, err := x.execution(executionID)
	if err != nil {
		return nil, err
	}
	e.evMu.Lock()
	defer e.evMu.Unlock()
	out := make([]bus.Event, len(e.events))
	copy(out, e.events)
	return out, nil
}

// GetExecutionAnalytics aggregates durations, success rate, processed data
// points, and resource utilization.
func (x *Executor) GetExecutionAnalytics(executionID string) (*Analytics, error) {
	e, err := x.execution(executionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	a := &Analytics{
		ExecutionID:   e.id,
		PlanID:        e.plan.ID,
		TotalSteps:    len(e.steps),
		DataPoints:    e.dataPoints,
		StepDurations: make(map[string]time.Duration),
	}
	var total time.Duration
	var measured int
	for id, sr := range e.steps {
		switch sr.state {
		case StepDone:
			a.CompletedSteps++
		case StepDoneFailed, StepFailed:
			a.FailedSteps++
			a.FailedStepIDs = append(a.FailedStepIDs, id)
		case StepSkipped:
			a.SkippedSteps++
		case StepCancelled:
			a.CancelledSteps++
		}
		if sr.duration > 0 {
			a.StepDurations[id] = sr.duration
			total += sr.duration
			measured++
		}
	}
	sort.Strings(a.FailedStepIDs)
	finished := a.CompletedSteps + a.FailedSteps
	if finished > 0 {
		a.SuccessRate = float64(a.CompletedSteps) / float64(finished)
	}
	if measured > 0 {
		a.AverageStepDuration = total / time.Duration(measured)
	}
	end := e.finishedAt
	if end.IsZero() {
		end = time.Now()
	}
	a.TotalDuration = end.Sub(e.startedAt)

	if x.opts.ResourceAware {
		a.ResourceUtilization = map[string]float64{
			"memory":  utilization(e.peakUsage.memory, x.opts.ResourceCaps.Memory),
			"cpu":     utilization(e.peakUsage.cpu, x.opts.ResourceCaps.CPU),
			"network": utilization(e.peakUsage.network, x.opts.ResourceCaps.Network),
		}
	}
	return a, nil
}

// InitiateReplan asks the planner for a successor plan and swaps it into the
// running execution. In-flight steps of the old plan are cancelled unless
// drain is set, in which case they finish before the swap.
func (x *Executor) InitiateReplan(ctx context.Context, executionID, reason string, planContext map[string]interface{}, drain bool) (*planning.ReplanContext, error) {
	if x.planner == nil {
		return nil, errors.New(errors.CodeReplanFailed, "no planner configured").
			WithComponent("executor").
			WithOperation("initiate_replan").
			WithContext("execution_id", executionID)
	}
	e, err := x.execution(executionID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.state.IsTerminal() {
		e.mu.Unlock()
		return nil, x.terminalErr(e, "initiate_replan")
	}
	planID := e.plan.ID
	phase := string(e.state)
	e.mu.Unlock()

	newPlan, rc, err := x.planner.Replan(ctx, planID, reason, planContext, planning.ReplanOptions{
		TriggerPhase: phase,
	})
	if err != nil {
		return nil, err
	}

	if drain {
		x.drainRunning(e)
	}

	flat := x.extractor.Extract(newPlan)
	e.mu.Lock()
	for _, sr := range e.steps {
		if sr.state == StepRunning && sr.cancel != nil {
			sr.cancel()
		}
	}
	e.plan = newPlan
	e.steps = make(map[string]*stepRun, len(newPlan.Steps))
	e.order = nil
	e.usage = resourceUsage{}
	e.replans++
	e.generation++
	x.bindSteps(e, flat)
	e.mu.Unlock()

	x.publish(e, bus.TopicReplanInitiated, "", map[string]interface{}{
		"plan_id":          newPlan.ID,
		"original_plan_id": rc.OriginalPlanID,
		"replan_id":        rc.ReplanID,
		"reason":           reason,
	})
	e.signal()
	return rc, nil
}

// drainRunning waits for all running steps to reach a terminal state.
func (x *Executor) drainRunning(e *execution) {
	for {
		e.mu.Lock()
		n := e.runningCount()
		e.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Close releases the worker pool. Running executions are cancelled.
func (x *Executor) Close() error {
	x.execMu.Lock()
	for _, e := range x.executions {
		e.cancel()
	}
	execs := make([]*execution, 0, len(x.executions))
	for _, e := range x.executions {
		execs = append(execs, e)
	}
	x.execMu.Unlock()

	var g errgroup.Group
	for _, e := range execs {
		done := e.done
		g.Go(func() error {
			<-done
			return nil
		})
	}
	_ = g.Wait()
	x.pool.Release()
	return nil
}

func (x *Executor) execution(id string) (*execution, error) {
	x.execMu.Lock()
	defer x.execMu.Unlock()
	e, ok := x.executions[id]
	if !ok {
		return nil, errors.New(errors.CodeExecutionNotFound, "execution not found").
			WithComponent("executor").
			WithContext("execution_id", id)
	}
	return e, nil
}

func (x *Executor) terminalErr(e *execution, op string) error {
	return errors.New(errors.CodeInvalidInput, "execution already terminal").
		WithComponent("executor").
		WithOperation(op).
		WithContext("execution_id", e.id).
		WithContext("state", string(e.state))
}

func utilization(peak, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(peak) / float64(limit)
}
