package executor

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/agentflow/bus"
	"github.com/kart-io/agentflow/extract"
	"github.com/kart-io/agentflow/interfaces"
	"github.com/kart-io/agentflow/planning"
)

// ExecutionState is the lifecycle state of a plan execution.
type ExecutionState string

const (
	ExecutionRunning   ExecutionState = "running"
	ExecutionPaused    ExecutionState = "paused"
	ExecutionCompleted ExecutionState = "completed"
	ExecutionFailed    ExecutionState = "failed"
	ExecutionCancelled ExecutionState = "cancelled"
)

// IsTerminal reports whether the execution can no longer make progress.
func (s ExecutionState) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// StepState is the scheduling state of one step within an execution.
type StepState string

const (
	StepPending StepState = "pending"
	StepReady   StepState = "ready"
	StepRunning StepState = "running"
	StepDone    StepState = "done"

	// StepDoneFailed marks a step that failed but whose policy allows its
	// dependents to proceed.
	StepDoneFailed StepState = "done_failed"

	StepFailed  StepState = "failed"
	StepSkipped StepState = "skipped"

	// StepCancelled marks work abandoned because the execution itself was
	// cancelled, as opposed to skipped after a sibling's failure.
	StepCancelled StepState = "cancelled"
)

func (s StepState) terminal() bool {
	switch s {
	case StepDone, StepDoneFailed, StepFailed, StepSkipped, StepCancelled:
		return true
	}
	return false
}

// StepResult is the recorded outcome of one step.
type StepResult struct {
	StepID     string        `json:"step_id"`
	ToolName   string        `json:"tool_name,omitempty"`
	State      StepState     `json:"state"`
	Attempts   int           `json:"attempts"`
	Output     interface{}   `json:"output,omitempty"`
	DataPoints int           `json:"data_points,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// ExecutionStatus is a point-in-time snapshot of an execution.
type ExecutionStatus struct {
	ExecutionID   string                `json:"execution_id"`
	PlanID        string                `json:"plan_id"`
	State         ExecutionState        `json:"state"`
	CorrelationID string                `json:"correlation_id,omitempty"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at,omitempty"`
	Steps         map[string]StepResult `json:"steps"`
	Replans       int                   `json:"replans,omitempty"`
}

// Progress summarizes step completion counts.
type Progress struct {
	TotalSteps int     `json:"total_steps"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
	Cancelled  int     `json:"cancelled"`
	Running    int     `json:"running"`
	Pending    int     `json:"pending"`
	Percent    float64 `json:"percent"`
}

// Analytics aggregates execution-wide measurements.
type Analytics struct {
	ExecutionID         string                   `json:"execution_id"`
	PlanID              string                   `json:"plan_id"`
	TotalSteps          int                      `json:"total_steps"`
	CompletedSteps      int                      `json:"completed_steps"`
	FailedSteps         int                      `json:"failed_steps"`
	FailedStepIDs       []string                 `json:"failed_step_ids,omitempty"`
	SkippedSteps        int                      `json:"skipped_steps"`
	CancelledSteps      int                      `json:"cancelled_steps"`
	SuccessRate         float64                  `json:"success_rate"`
	AverageStepDuration time.Duration            `json:"average_step_duration"`
	TotalDuration       time.Duration            `json:"total_duration"`
	DataPoints          int                      `json:"data_points"`
	StepDurations       map[string]time.Duration `json:"step_durations"`
	ResourceUtilization map[string]float64       `json:"resource_utilization,omitempty"`
}

// stepRun is the mutable per-step scheduling record. The driver goroutine
// owns all writes; readers take the execution lock.
type stepRun struct {
	step      *planning.PlanStep
	call      extract.ToolCall
	hasCall   bool
	state     StepState
	attempts  int
	toolName  string
	fellBack  bool
	waiting   bool
	abandoned bool
	result    *interfaces.ToolResult
	err       error
	startedAt time.Time
	duration  time.Duration
	cancel    context.CancelFunc
	insertion int
}

// stepOutcome travels from a runner goroutine back to the driver.
type stepOutcome struct {
	stepID     string
	attempt    int
	generation int
	result     *interfaces.ToolResult
	err        error
	duration   time.Duration
}

type resourceUsage struct {
	memory, cpu, network int
}

type execution struct {
	mu sync.Mutex

	id            string
	plan          *planning.Plan
	correlationID string
	tenantID      string

	state       ExecutionState
	steps       map[string]*stepRun
	order       []string
	replans     int
	stopFailure bool

	// generation increments on every replan swap; outcomes from an older
	// generation are discarded.
	generation int

	ctx    context.Context
	cancel context.CancelFunc

	results chan stepOutcome
	retries chan string
	wake    chan struct{}
	done    chan struct{}

	evMu       sync.Mutex
	events     []bus.Event
	dataPoints int

	usage     resourceUsage
	peakUsage resourceUsage

	startedAt  time.Time
	finishedAt time.Time
}

// signal nudges the driver without blocking.
func (e *execution) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *execution) runningCount() int {
	n := 0
	for _, sr := range e.steps {
		if sr.state == StepRunning {
			n++
		}
	}
	return n
}

func (e *execution) allStepsTerminal() bool {
	for _, sr := range e.steps {
		if !sr.state.terminal() {
			return false
		}
	}
	return true
}

func (e *execution) stepResult(sr *stepRun) StepResult {
	res := StepResult{
		StepID:    sr.step.ID,
		ToolName:  sr.toolName,
		State:     sr.state,
		Attempts:  sr.attempts,
		StartedAt: sr.startedAt,
		Duration:  sr.duration,
	}
	if sr.result != nil {
		res.Output = sr.result.Output
		res.DataPoints = sr.result.DataPoints
	}
	if sr.err != nil {
		res.Error = sr.err.Error()
	}
	return res
}

// admitResources reserves the step's weights, or reports that the step does
// not fit under the caps. Zero caps are unlimited.
func (e *execution) admitResources(sr *stepRun, caps [3]int) bool {
	w := [3]int{
		sr.step.ResourceRequirements.Memory.Weight(),
		sr.step.ResourceRequirements.CPU.Weight(),
		sr.step.ResourceRequirements.Network.Weight(),
	}
	used := [3]int{e.usage.memory, e.usage.cpu, e.usage.network}
	for i := range caps {
		if caps[i] > 0 && used[i]+w[i] > caps[i] {
			return false
		}
	}
	e.usage.memory += w[0]
	e.usage.cpu += w[1]
	e.usage.network += w[2]
	if e.usage.memory > e.peakUsage.memory {
		e.peakUsage.memory = e.usage.memory
	}
	if e.usage.cpu > e.peakUsage.cpu {
		e.peakUsage.cpu = e.usage.cpu
	}
	if e.usage.network > e.peakUsage.network {
		e.peakUsage.network = e.usage.network
	}
	return true
}

func (e *execution) releaseResources(sr *stepRun) {
	e.usage.memory -= sr.step.ResourceRequirements.Memory.Weight()
	e.usage.cpu -= sr.step.ResourceRequirements.CPU.Weight()
	e.usage.network -= sr.step.ResourceRequirements.Network.Weight()
}
