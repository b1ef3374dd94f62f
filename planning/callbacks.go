package planning

import (
	"github.com/kart-io/agentflow/errors"
)

// Callbacks observe the plan lifecycle. Hooks fire in declaration order; a
// panic inside any hook is converted into a planner error and never reaches
// the registry.
type Callbacks struct {
	OnPlanStart    func(goal Goal, planContext map[string]interface{}, strategy string)
	OnPlanStep     func(step *PlanStep, index int, plan *Plan)
	OnPlanComplete func(plan *Plan)
	OnPlanError    func(err error, plan *Plan)
	OnReplan       func(plan *Plan, reason string)
}

// safeInvoke runs fn and converts a panic into a coded error.
func safeInvoke(hook string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.CodePlanningFailed, "plan callback panic: %v", r).
				WithComponent("planning").
				WithOperation(hook)
		}
	}()
	fn()
	return nil
}

func (c *Callbacks) firePlanStart(goal Goal, planContext map[string]interface{}, strategy string) error {
	if c == nil || c.OnPlanStart == nil {
		return nil
	}
	return safeInvoke("on_plan_start", func() { c.OnPlanStart(goal, planContext, strategy) })
}

func (c *Callbacks) firePlanStep(step *PlanStep, index int, plan *Plan) error {
	if c == nil || c.OnPlanStep == nil {
		return nil
	}
	return safeInvoke("on_plan_step", func() { c.OnPlanStep(step, index, plan) })
}

func (c *Callbacks) firePlanComplete(plan *Plan) error {
	if c == nil || c.OnPlanComplete == nil {
		return nil
	}
	return safeInvoke("on_plan_complete", func() { c.OnPlanComplete(plan) })
}

func (c *Callbacks) firePlanError(err error, plan *Plan) {
	if c == nil || c.OnPlanError == nil {
		return
	}
	// An error hook that panics has nowhere to report; swallow it.
	_ = safeInvoke("on_plan_error", func() { c.OnPlanError(err, plan) })
}

func (c *Callbacks) fireReplan(plan *Plan, reason string) error {
	if c == nil || c.OnReplan == nil {
		return nil
	}
	return safeInvoke("on_replan", func() { c.OnReplan(plan, reason) })
}
