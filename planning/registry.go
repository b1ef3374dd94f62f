package planning

import (
	"sync"
	"time"

	"github.com/kart-io/agentflow/errors"
)

// Registry owns every live plan. Plans are retired once terminal for longer
// than the retention window.
type Registry struct {
	mu        sync.Mutex
	plans     map[string]*registryEntry
	retention time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type registryEntry struct {
	plan       *Plan
	terminalAt time.Time
}

// NewRegistry builds a plan registry. With positive retention and sweep
// intervals a background sweeper retires terminal plans.
func NewRegistry(retention, sweepInterval time.Duration) *Registry {
	r := &Registry{
		plans:     make(map[string]*registryEntry),
		retention: retention,
		stop:      make(chan struct{}),
	}
	if retention > 0 && sweepInterval > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					r.Sweep()
				case <-r.stop:
					return
				}
			}
		}()
	}
	return r
}

// Register stores a copy of the plan.
func (r *Registry) Register(plan *Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plans[plan.ID]; exists {
		return errors.New(errors.CodeAlreadyExists, "plan already registered").
			WithComponent("planning").
			WithOperation("register").
			WithContext("plan_id", plan.ID)
	}
	r.plans[plan.ID] = &registryEntry{plan: plan.Clone()}
	return nil
}

// Get returns a copy of the plan.
func (r *Registry) Get(planID string) (*Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.plans[planID]
	if !ok {
		return nil, errors.New(errors.CodePlanNotFound, "plan not found").
			WithComponent("planning").
			WithOperation("get").
			WithContext("plan_id", planID)
	}
	return entry.plan.Clone(), nil
}

// UpdateStatus advances a plan's lifecycle status. Terminal statuses are
// absorbing.
func (r *Registry) UpdateStatus(planID string, status PlanStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.plans[planID]
	if !ok {
		return errors.New(errors.CodePlanNotFound, "plan not found").
			WithComponent("planning").
			WithOperation("update_status").
			WithContext("plan_id", planID)
	}
	if entry.plan.Status.IsTerminal() {
		return errors.New(errors.CodeInvalidInput, "plan status is terminal").
			WithComponent("planning").
			WithOperation("update_status").
			WithContext("plan_id", planID).
			WithContext("status", string(entry.plan.Status))
	}
	entry.plan.Status = status
	if status.IsTerminal() {
		entry.terminalAt = time.Now()
	}
	return nil
}

// List returns copies of all live plans.
func (r *Registry) List() []*Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Plan, 0, len(r.plans))
	for _, entry := range r.plans {
		out = append(out, entry.plan.Clone())
	}
	return out
}

// Count returns the number of live plans.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.plans)
}

// Sweep retires terminal plans past the retention window and returns how
// many were removed.
func (r *Registry) Sweep() int {
	if r.retention <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, entry := range r.plans {
		if !entry.terminalAt.IsZero() && entry.terminalAt.Before(cutoff) {
			delete(r.plans, id)
			removed++
		}
	}
	return removed
}

// Close stops the background sweeper.
func (r *Registry) Close() error {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
	return nil
}
