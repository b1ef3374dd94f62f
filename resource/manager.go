// Package resource provides scoped lifecycle management for the framework's
// background machinery: tracked timers, tasks, and listeners that are
// disposed together when their owning scope ends, plus a leak detector that
// watches the counters and the heap.
package resource

import (
	"sync"
	"time"

	"github.com/kart-io/logger/core"

	"github.com/kart-io/agentflow/errors"
	"github.com/kart-io/agentflow/observability"
)

// Kind classifies a tracked resource.
type Kind string

const (
	KindTimer    Kind = "timer"
	KindTask     Kind = "task"
	KindListener Kind = "listener"
	KindGeneric  Kind = "generic"
)

// Resource is a handle to one tracked resource.
type Resource struct {
	ID        string
	Kind      Kind
	Name      string
	CreatedAt time.Time

	dispose func() error
	owner   string
	seq     uint64
	gone    bool
}

// Age returns how long the resource has been alive.
func (r *Resource) Age() time.Duration { return time.Since(r.CreatedAt) }

// Manager owns a scope of resources and disposes them in reverse
// registration order. Dispose is idempotent; individual resources can be
// released early.
type Manager struct {
	mu        sync.Mutex
	resources map[uint64]*Resource
	order     []uint64
	seq       uint64
	disposed  bool

	pendingTasks int

	logger  core.Logger
	metrics *observability.Metrics
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l core.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics exports tracked-resource gauges on mx.
func WithMetrics(mx *observability.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mx }
}

// NewManager builds an empty resource scope.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		resources: make(map[uint64]*Resource),
		logger:    core.NewNoOpLogger(nil),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Track registers a resource with its disposer. Returns an error once the
// scope is disposed.
func (m *Manager) Track(kind Kind, name string, dispose func() error) (*Resource, error) {
	return m.track(kind, name, "", dispose)
}

func (m *Manager) track(kind Kind, name, owner string, dispose func() error) (*Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return nil, errors.New(errors.CodeResourceDisposed, "resource scope is disposed").
			WithComponent("resource").
			WithOperation("track").
			WithContext("kind", string(kind)).
			WithContext("name", name)
	}

	m.seq++
	r := &Resource{
		ID:        name,
		Kind:      kind,
		Name:      name,
		CreatedAt: time.Now(),
		dispose:   dispose,
		owner:     owner,
		seq:       m.seq,
	}
	m.resources[r.seq] = r
	m.order = append(m.order, r.seq)
	if m.metrics != nil {
		m.metrics.TrackedResources.WithLabelValues(string(kind)).Inc()
	}
	return r, nil
}

// Release disposes and forgets a single resource. Releasing twice is a
// no-op.
func (m *Manager) Release(r *Resource) error {
	if r == nil {
		return nil
	}
	m.mu.Lock()
	if r.gone {
		m.mu.Unlock()
		return nil
	}
	r.gone = true
	delete(m.resources, r.seq)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.TrackedResources.WithLabelValues(string(r.Kind)).Dec()
	}
	if r.dispose == nil {
		return nil
	}
	return r.dispose()
}

// NewTimer schedules fn after d as a tracked timer. The timer untracks
// itself when it fires; disposing the scope stops it.
func (m *Manager) NewTimer(name string, d time.Duration, fn func()) (*Resource, error) {
	var r *Resource
	t := time.AfterFunc(d, func() {
		fn()
		_ = m.Release(r)
	})
	r, err := m.Track(KindTimer, name, func() error {
		t.Stop()
		return nil
	})
	if err != nil {
		t.Stop()
		return nil, err
	}
	return r, nil
}

// Go runs fn as a tracked task. The pending-task counter reflects tasks that
// have been started and not yet finished.
func (m *Manager) Go(name string, fn func()) error {
	r, err := m.Track(KindTask, name, nil)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.pendingTasks++
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.pendingTasks--
			m.mu.Unlock()
			_ = m.Release(r)
		}()
		fn()
	}()
	return nil
}

// AddListener tracks an event listener attached to the named object. The
// leak detector flags objects accumulating too many listeners.
func (m *Manager) AddListener(object, event string, remove func() error) (*Resource, error) {
	return m.track(KindListener, object+"/"+event, object, remove)
}

// Counts returns the live resource count per kind.
func (m *Manager) Counts() map[Kind]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Kind]int)
	for _, r := range m.resources {
		out[r.Kind]++
	}
	return out
}

// PendingTasks returns the number of tracked tasks still running.
func (m *Manager) PendingTasks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingTasks
}

// ListenersPerObject returns live listener counts grouped by object.
func (m *Manager) ListenersPerObject() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, r := range m.resources {
		if r.Kind == KindListener {
			out[r.owner]++
		}
	}
	return out
}

// ReleaseOlderThan disposes resources older than maxAge and returns how many
// were released.
func (m *Manager) ReleaseOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var aged []*Resource
	for _, r := range m.resources {
		if r.CreatedAt.Before(cutoff) {
			aged = append(aged, r)
		}
	}
	m.mu.Unlock()

	for _, r := range aged {
		if err := m.Release(r); err != nil {
			m.logger.Warnw("aged resource dispose failed",
				"kind", string(r.Kind), "name", r.Name, "error", err.Error())
		}
	}
	return len(aged)
}

// Dispose releases every tracked resource in reverse registration order.
// Disposer errors are collected; the first is returned with the rest
// attached as context. Dispose is idempotent.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	var pending []*Resource
	for i := len(m.order) - 1; i >= 0; i-- {
		if r, ok := m.resources[m.order[i]]; ok && !r.gone {
			r.gone = true
			pending = append(pending, r)
		}
	}
	m.resources = make(map[uint64]*Resource)
	m.order = nil
	m.mu.Unlock()

	var failures []string
	for _, r := range pending {
		if m.metrics != nil {
			m.metrics.TrackedResources.WithLabelValues(string(r.Kind)).Dec()
		}
		if r.dispose == nil {
			continue
		}
		if err := r.dispose(); err != nil {
			failures = append(failures, r.Name+": "+err.Error())
		}
	}
	if len(failures) > 0 {
		return errors.New(errors.CodeResourceLeak, "resource dispose failures").
			WithComponent("resource").
			WithOperation("dispose").
			WithContext("failures", failures)
	}
	return nil
}

// Disposed reports whether the scope has been disposed.
func (m *Manager) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}
