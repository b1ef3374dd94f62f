package executor

import (
	"context"
	"sort"
	"time"

	"github.com/kart-io/agentflow/bus"
	"github.com/kart-io/agentflow/errors"
	"github.com/kart-io/agentflow/extract"
	"github.com/kart-io/agentflow/interfaces"
	"github.com/kart-io/agentflow/observability"
	"github.com/kart-io/agentflow/planning"
)

// drive is the per-execution scheduling loop. It owns all step state
// mutation; runner goroutines only report outcomes through the results
// channel.
func (x *Executor) drive(e *execution) {
	defer close(e.done)
	defer func() {
		if x.metrics != nil {
			x.metrics.ExecutionsRunning.Dec()
		}
	}()

	x.publish(e, bus.TopicPlanStarted, "", map[string]interface{}{
		"plan_id": e.plan.ID,
		"steps":   len(e.plan.Steps),
	})
	x.recordTimeline(e, "agent.started", nil)

	ctxDone := e.ctx.Done()
	for {
		x.schedule(e)

		e.mu.Lock()
		finished := e.allStepsTerminal() || (e.state.IsTerminal() && e.runningCount() == 0)
		e.mu.Unlock()
		if finished {
			break
		}

		select {
		case out := <-e.results:
			x.handleOutcome(e, out)
		case stepID := <-e.retries:
			e.mu.Lock()
			if sr, ok := e.steps[stepID]; ok && sr.state == StepPending && sr.waiting {
				sr.waiting = false
				sr.state = StepReady
			}
			e.mu.Unlock()
		case <-e.wake:
		case <-ctxDone:
			x.handleCancel(e)
			ctxDone = nil
		}
	}
	x.finalize(e)
}

// schedule promotes satisfied steps to ready and admits them up to the
// parallelism and resource limits. Admission order: critical first, then
// shorter estimated duration, then plan order.
func (x *Executor) schedule(e *execution) {
	caps := [3]int{x.opts.ResourceCaps.Memory, x.opts.ResourceCaps.CPU, x.opts.ResourceCaps.Network}

	var launches []*stepRun
	var skipped []string

	e.mu.Lock()
	if e.state != ExecutionRunning || e.ctx.Err() != nil {
		e.mu.Unlock()
		return
	}

	for _, id := range e.order {
		sr := e.steps[id]
		if sr.state != StepPending || sr.waiting {
			continue
		}
		switch x.dependencyVerdict(e, sr) {
		case depSatisfied:
			sr.state = StepReady
		case depDoomed:
			sr.state = StepSkipped
			skipped = append(skipped, id)
		}
	}

	var ready []*stepRun
	for _, id := range e.order {
		if sr := e.steps[id]; sr.state == StepReady {
			ready = append(ready, sr)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.step.Critical != b.step.Critical {
			return a.step.Critical
		}
		if a.step.EstimatedDuration != b.step.EstimatedDuration {
			return a.step.EstimatedDuration < b.step.EstimatedDuration
		}
		return a.insertion < b.insertion
	})

	for _, sr := range ready {
		if e.runningCount() >= x.opts.MaxParallelSteps {
			break
		}
		if x.opts.ResourceAware && !e.admitResources(sr, caps) {
			continue
		}
		sr.state = StepRunning
		sr.attempts++
		sr.startedAt = time.Now()
		launches = append(launches, sr)
	}
	e.mu.Unlock()

	for _, id := range skipped {
		x.publish(e, bus.TopicStepSkipped, id, map[string]interface{}{
			"plan_id": e.plan.ID,
			"reason":  "dependency failed",
		})
		if x.metrics != nil {
			x.metrics.StepsTotal.WithLabelValues(string(StepSkipped)).Inc()
		}
	}
	for _, sr := range launches {
		x.launch(e, sr)
	}
}

type depVerdict int

const (
	depBlocked depVerdict = iota
	depSatisfied
	depDoomed
)

// dependencyVerdict decides whether a pending step can run. A failed
// producer unblocks its consumers only when its policy is continue or it is
// non-critical; a terminally failed or skipped producer dooms them.
func (x *Executor) dependencyVerdict(e *execution, sr *stepRun) depVerdict {
	verdict := depSatisfied
	for _, depID := range sr.step.Dependencies {
		dep, ok := e.steps[depID]
		if !ok {
			continue
		}
		switch dep.state {
		case StepDone:
		case StepDoneFailed:
			if dep.step.FailureAction != planning.FailureContinue && dep.step.Critical {
				return depDoomed
			}
		case StepFailed, StepSkipped, StepCancelled:
			return depDoomed
		default:
			verdict = depBlocked
		}
	}
	return verdict
}

// launch publishes step.started and hands the step to the worker pool. The
// scheduling state was already set by schedule under the lock.
func (x *Executor) launch(e *execution, sr *stepRun) {
	e.mu.Lock()
	attempt := sr.attempts
	generation := e.generation
	toolName := sr.toolName
	call := sr.call
	hasCall := sr.hasCall
	step := sr.step

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = x.opts.DefaultTimeout
	}
	stepCtx, cancel := context.WithTimeout(e.ctx, timeout)
	sr.cancel = cancel
	e.mu.Unlock()

	x.publish(e, bus.TopicStepStarted, step.ID, map[string]interface{}{
		"plan_id": e.plan.ID,
		"tool":    toolName,
		"attempt": attempt,
	})
	x.recordTimeline(e, "agent.thinking", map[string]interface{}{
		"step_id": step.ID,
	})
	x.recordTimeline(e, "tool.called", map[string]interface{}{
		"step_id": step.ID,
		"tool":    toolName,
	})

	task := func() {
		defer cancel()
		started := time.Now()

		var result *interfaces.ToolResult
		var err error
		if hasCall {
			result, err = x.invoke(stepCtx, e, toolName, call, timeout)
		}

		select {
		case e.results <- stepOutcome{
			stepID:     step.ID,
			attempt:    attempt,
			generation: generation,
			result:     result,
			err:        err,
			duration:   time.Since(started),
		}:
		case <-e.done:
		}
	}

	if err := x.pool.Submit(task); err != nil {
		cancel()
		select {
		case e.results <- stepOutcome{
			stepID:     step.ID,
			attempt:    attempt,
			generation: generation,
			err: errors.Wrap(err, errors.CodeStepExecution, "worker pool rejected step").
				WithComponent("executor").
				WithContext("step_id", step.ID),
		}:
		case <-e.done:
		}
	}
}

// invoke runs the tool inside a tool.execute span and maps context failures
// onto coded errors.
func (x *Executor) invoke(ctx context.Context, e *execution, toolName string, call extract.ToolCall, timeout time.Duration) (*interfaces.ToolResult, error) {
	ctx = observability.WithCorrelationID(ctx, e.correlationID)
	ctx = observability.WithExecutionID(ctx, e.id)
	if e.tenantID != "" {
		ctx = observability.WithTenantID(ctx, e.tenantID)
	}

	var span observability.Span
	if x.tracer != nil {
		ctx, span = observability.StartToolSpan(x.tracer, ctx, toolName, map[string]interface{}{
			"call_id":    call.CallID,
			"timeout_ms": timeout.Milliseconds(),
		})
		defer span.End()
	}

	deadline, _ := ctx.Deadline()
	result, err := x.runner.Invoke(ctx, toolName, call.Arguments, interfaces.InvokeContext{
		CallID:        call.CallID,
		CorrelationID: e.correlationID,
		ExecutionID:   e.id,
		TenantID:      e.tenantID,
		Deadline:      deadline,
	})

	if err == nil && ctx.Err() != nil {
		err = errors.FromContext(ctx)
	}
	if err != nil {
		switch ctx.Err() {
		case context.DeadlineExceeded:
			err = errors.Wrap(err, errors.CodeStepTimeout, "step timed out").
				WithComponent("executor").
				WithContext("tool", toolName).
				WithContext("timeout_ms", timeout.Milliseconds())
		case context.Canceled:
			err = errors.Wrap(err, errors.CodeContextCanceled, "step cancelled").
				WithComponent("executor").
				WithContext("tool", toolName)
		}
		if span != nil {
			span.RecordException(err)
		}
		return nil, err
	}
	if span != nil {
		span.SetStatus(observability.StatusOK, "")
	}
	return result, nil
}

// handleOutcome applies a runner result to the step and consults the failure
// policy.
func (x *Executor) handleOutcome(e *execution, out stepOutcome) {
	e.mu.Lock()
	sr, ok := e.steps[out.stepID]
	if !ok || out.generation != e.generation || sr.state != StepRunning || sr.attempts != out.attempt {
		// Stale outcome from before a replan swap.
		e.mu.Unlock()
		return
	}
	sr.duration = out.duration
	sr.result = out.result
	sr.err = out.err
	sr.cancel = nil
	if x.opts.ResourceAware {
		e.releaseResources(sr)
	}

	if out.err == nil {
		sr.state = StepDone
		if out.result != nil {
			e.dataPoints += out.result.DataPoints
		}
		e.mu.Unlock()

		x.publish(e, bus.TopicStepCompleted, out.stepID, map[string]interface{}{
			"plan_id":     e.plan.ID,
			"attempts":    out.attempt,
			"duration_ms": out.duration.Milliseconds(),
		})
		x.recordTimeline(e, "tool.result", map[string]interface{}{
			"step_id": out.stepID,
		})
		if x.metrics != nil {
			x.metrics.StepsTotal.WithLabelValues(string(StepDone)).Inc()
			x.metrics.StepDuration.WithLabelValues(sr.toolName).Observe(out.duration.Seconds())
		}
		return
	}

	// Work interrupted by an execution-level cancel is recorded as cancelled;
	// abandonment after a sibling's stop failure is skipped. Neither is a
	// step failure.
	if (e.state == ExecutionCancelled) ||
		(errors.IsCode(out.err, errors.CodeContextCanceled) && e.ctx.Err() != nil) {
		sr.state = StepCancelled
		e.mu.Unlock()
		x.publish(e, bus.TopicStepSkipped, out.stepID, map[string]interface{}{
			"plan_id": e.plan.ID,
			"reason":  "cancelled",
		})
		if x.metrics != nil {
			x.metrics.StepsTotal.WithLabelValues(string(StepCancelled)).Inc()
		}
		return
	}
	if sr.abandoned {
		sr.state = StepSkipped
		e.mu.Unlock()
		x.publish(e, bus.TopicStepSkipped, out.stepID, map[string]interface{}{
			"plan_id": e.plan.ID,
			"reason":  "abandoned",
		})
		if x.metrics != nil {
			x.metrics.StepsTotal.WithLabelValues(string(StepSkipped)).Inc()
		}
		return
	}

	switch x.failureDecision(sr) {
	case decideRetry:
		sr.state = StepPending
		sr.waiting = true
		backoff := x.backoff(sr.attempts)
		stepID := out.stepID
		time.AfterFunc(backoff, func() {
			select {
			case e.retries <- stepID:
			case <-e.done:
			}
		})
		e.mu.Unlock()

		x.publish(e, bus.TopicStepRetrying, stepID, map[string]interface{}{
			"plan_id":    e.plan.ID,
			"attempt":    out.attempt,
			"backoff_ms": backoff.Milliseconds(),
			"error":      out.err.Error(),
		})

	case decideFallback:
		sr.fellBack = true
		sr.toolName = sr.toolName + "_lite"
		sr.state = StepReady
		fallback := sr.toolName
		e.mu.Unlock()

		x.publish(e, bus.TopicStepRetrying, out.stepID, map[string]interface{}{
			"plan_id":  e.plan.ID,
			"fallback": fallback,
			"error":    out.err.Error(),
		})

	case decideContinue:
		sr.state = StepDoneFailed
		e.mu.Unlock()
		x.failStep(e, sr, out)

	default: // decideStop
		sr.state = StepFailed
		e.stopFailure = true
		cancelled := x.abandonDescendants(e, out.stepID)
		e.mu.Unlock()

		x.failStep(e, sr, out)
		for _, id := range cancelled {
			x.publish(e, bus.TopicStepSkipped, id, map[string]interface{}{
				"plan_id": e.plan.ID,
				"reason":  "dependency failed",
			})
			if x.metrics != nil {
				x.metrics.StepsTotal.WithLabelValues(string(StepSkipped)).Inc()
			}
		}
	}
}

func (x *Executor) failStep(e *execution, sr *stepRun, out stepOutcome) {
	x.publish(e, bus.TopicStepFailed, out.stepID, map[string]interface{}{
		"plan_id":  e.plan.ID,
		"attempts": out.attempt,
		"error":    out.err.Error(),
	})
	if x.metrics != nil {
		x.metrics.StepsTotal.WithLabelValues(string(sr.state)).Inc()
		x.metrics.StepDuration.WithLabelValues(sr.toolName).Observe(out.duration.Seconds())
	}
	x.logger.Warnw("step failed",
		"execution_id", e.id,
		"step_id", out.stepID,
		"attempts", out.attempt,
		"error", out.err.Error())
}

type decision int

const (
	decideStop decision = iota
	decideRetry
	decideFallback
	decideContinue
)

// failureDecision resolves the step's failure policy against its remaining
// retry budget. Called with the execution lock held.
func (x *Executor) failureDecision(sr *stepRun) decision {
	if errors.IsTerminal(sr.err) {
		if !sr.step.Critical {
			return decideContinue
		}
		return decideStop
	}

	action := sr.step.FailureAction
	limit := sr.step.RetryLimit
	if action == "" && limit > 0 {
		action = planning.FailureRetry
	}
	if action == planning.FailureRetry && limit == 0 {
		limit = x.opts.DefaultRetryLimit
	}

	switch action {
	case planning.FailureRetry:
		if sr.attempts-1 < limit {
			return decideRetry
		}
		sr.err = errors.Wrap(sr.err, errors.CodeRetryExhausted, "retry budget exhausted").
			WithComponent("executor").
			WithContext("step_id", sr.step.ID).
			WithContext("attempts", sr.attempts)
		if !sr.step.Critical {
			return decideContinue
		}
		return decideStop
	case planning.FailureFallback:
		if !sr.fellBack {
			return decideFallback
		}
		if !sr.step.Critical {
			return decideContinue
		}
		return decideStop
	case planning.FailureContinue:
		return decideContinue
	default:
		return decideStop
	}
}

// backoff computes the delay before the next retry attempt: exponential with
// factor 2, capped at 30s.
func (x *Executor) backoff(attempts int) time.Duration {
	d := x.opts.RetryDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return d
}

// abandonDescendants skips every transitive dependent of the failed step and
// cancels the running ones. Called with the execution lock held; returns the
// IDs skipped immediately.
func (x *Executor) abandonDescendants(e *execution, failedID string) []string {
	dependents := make(map[string][]string)
	for _, sr := range e.steps {
		for _, dep := range sr.step.Dependencies {
			dependents[dep] = append(dependents[dep], sr.step.ID)
		}
	}

	var skipped []string
	seen := map[string]bool{failedID: true}
	queue := []string{failedID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, childID := range dependents[id] {
			if seen[childID] {
				continue
			}
			seen[childID] = true
			queue = append(queue, childID)

			child := e.steps[childID]
			switch child.state {
			case StepPending, StepReady:
				child.state = StepSkipped
				skipped = append(skipped, childID)
			case StepRunning:
				child.abandoned = true
				if child.cancel != nil {
					child.cancel()
				}
			}
		}
	}
	return skipped
}

// handleCancel transitions the execution to cancelled and marks everything
// not yet running cancelled. Running steps unwind through their cancelled
// contexts.
func (x *Executor) handleCancel(e *execution) {
	var cancelled []string
	e.mu.Lock()
	if e.state.IsTerminal() {
		e.mu.Unlock()
		return
	}
	e.state = ExecutionCancelled
	for _, id := range e.order {
		sr := e.steps[id]
		if sr.state == StepPending || sr.state == StepReady {
			sr.state = StepCancelled
			cancelled = append(cancelled, id)
		}
	}
	e.mu.Unlock()

	for _, id := range cancelled {
		x.publish(e, bus.TopicStepSkipped, id, map[string]interface{}{
			"plan_id": e.plan.ID,
			"reason":  "execution cancelled",
		})
	}
	x.logger.Infow("execution cancelled", "execution_id", e.id, "plan_id", e.plan.ID)
}

// finalize records the terminal state and publishes the plan outcome.
func (x *Executor) finalize(e *execution) {
	e.mu.Lock()
	if !e.state.IsTerminal() {
		switch {
		case e.ctx.Err() != nil:
			e.state = ExecutionCancelled
		case e.stopFailure || x.anyFailed(e):
			e.state = ExecutionFailed
		default:
			e.state = ExecutionCompleted
		}
	}
	e.finishedAt = time.Now()
	state := e.state
	planID := e.plan.ID
	e.mu.Unlock()

	switch state {
	case ExecutionCompleted:
		x.publish(e, bus.TopicPlanCompleted, "", map[string]interface{}{
			"plan_id":     planID,
			"duration_ms": e.finishedAt.Sub(e.startedAt).Milliseconds(),
		})
		x.recordTimeline(e, "agent.completed", nil)
		x.updatePlanStatus(planID, planning.PlanStatusCompleted)
	case ExecutionCancelled:
		x.publish(e, bus.TopicPlanFailed, "", map[string]interface{}{
			"plan_id": planID,
			"reason":  "cancelled",
		})
		x.recordTimeline(e, "agent.failed", map[string]interface{}{"reason": "cancelled"})
		x.updatePlanStatus(planID, planning.PlanStatusCancelled)
	default:
		x.publish(e, bus.TopicPlanFailed, "", map[string]interface{}{
			"plan_id": planID,
		})
		x.recordTimeline(e, "agent.failed", nil)
		x.updatePlanStatus(planID, planning.PlanStatusFailed)
	}

	x.logger.Infow("execution finished",
		"execution_id", e.id,
		"plan_id", planID,
		"state", string(state))
}

func (x *Executor) anyFailed(e *execution) bool {
	for _, sr := range e.steps {
		if sr.state == StepFailed {
			return true
		}
	}
	return false
}

// updatePlanStatus reflects the outcome into the plan registry when a
// planner is wired. Terminal statuses are absorbing, so failures here are
// expected after a replan and only logged at debug.
func (x *Executor) updatePlanStatus(planID string, status planning.PlanStatus) {
	if x.planner == nil {
		return
	}
	if err := x.planner.Registry().UpdateStatus(planID, status); err != nil {
		x.logger.Debugw("plan status update skipped", "plan_id", planID, "error", err.Error())
	}
}

// publish emits a lifecycle event on the bus and records it in the
// execution's event log.
func (x *Executor) publish(e *execution, topic, stepID string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["execution_id"] = e.id
	if stepID != "" {
		data["step_id"] = stepID
	}

	ev := bus.Event{
		Type:     topic,
		ThreadID: e.id,
		Data:     data,
		Metadata: bus.EventMetadata{
			CorrelationID: e.correlationID,
			TenantID:      e.tenantID,
			ExecutionID:   e.id,
			Source:        "executor",
		},
	}

	e.evMu.Lock()
	recorded := ev
	recorded.Timestamp = time.Now()
	e.events = append(e.events, recorded)
	e.evMu.Unlock()

	if x.bus != nil {
		_ = x.bus.Publish(ev)
	}
}

func (x *Executor) recordTimeline(e *execution, eventType string, data map[string]interface{}) {
	if x.timeline == nil {
		return
	}
	if _, err := x.timeline.RecordEvent(e.id, eventType, data, e.correlationID, nil); err != nil {
		x.logger.Debugw("timeline record failed",
			"execution_id", e.id, "event_type", eventType, "error", err.Error())
	}
}
