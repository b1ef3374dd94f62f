package timeline

import (
	"sync"
	"time"

	"github.com/kart-io/logger/core"

	"github.com/kart-io/agentflow/bus"
	"github.com/kart-io/agentflow/config"
	"github.com/kart-io/agentflow/errors"
	"github.com/kart-io/agentflow/ids"
)

// Entry is one recorded event on a timeline.
type Entry struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	State         State                  `json:"state"`
	EventType     string                 `json:"event_type"`
	EventData     interface{}            `json:"event_data,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Duration      time.Duration          `json:"duration,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Timeline is the per-execution entry log plus its machine state.
type Timeline struct {
	ExecutionID  string    `json:"execution_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	CurrentState State     `json:"current_state"`
	Entries      []Entry   `json:"entries"`

	// Anomalies counts entries appended despite an illegal transition.
	Anomalies int `json:"anomalies,omitempty"`
}

// Manager owns all live timelines and their retention.
type Manager struct {
	mu        sync.Mutex
	timelines map[string]*Timeline
	opts      config.TimelineOptions
	logger    core.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l core.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager builds a timeline manager. With a positive CleanupInterval a
// background sweeper enforces MaxAge retention.
func NewManager(opts config.TimelineOptions, options ...ManagerOption) *Manager {
	m := &Manager{
		timelines: make(map[string]*Timeline),
		opts:      opts,
		logger:    core.NewNoOpLogger(nil),
		stop:      make(chan struct{}),
	}
	for _, o := range options {
		o(m)
	}
	if opts.CleanupInterval > 0 && opts.MaxAge > 0 {
		m.wg.Add(1)
		go m.sweeper(opts.CleanupInterval)
	}
	return m
}

// RecordEvent appends an event to the execution's timeline, creating the
// timeline on first sight. An illegal transition is appended anyway and
// counted as an anomaly, unless strict mode rejects it.
func (m *Manager) RecordEvent(executionID, eventType string, eventData interface{}, correlationID string, metadata map[string]interface{}) (Entry, error) {
	if executionID == "" {
		return Entry{}, errors.New(errors.CodeInvalidInput, "execution id must not be empty").
			WithComponent("timeline").
			WithOperation("record_event")
	}

	target := StateForEventType(eventType)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	tl, ok := m.timelines[executionID]
	if !ok {
		tl = &Timeline{
			ExecutionID:  executionID,
			CreatedAt:    now,
			CurrentState: StateInitialized,
		}
		m.timelines[executionID] = tl
	}

	valid := len(tl.Entries) == 0 || CanTransition(tl.CurrentState, target)
	if !valid {
		if m.opts.Strict {
			return Entry{}, errors.New(errors.CodeInvalidTransition, "illegal timeline transition").
				WithComponent("timeline").
				WithOperation("record_event").
				WithContext("execution_id", executionID).
				WithContext("from", string(tl.CurrentState)).
				WithContext("to", string(target)).
				WithContext("event_type", eventType)
		}
		tl.Anomalies++
		m.logger.Warnw("illegal timeline transition recorded",
			"execution_id", executionID,
			"from", tl.CurrentState,
			"to", target,
			"event_type", eventType)
	}

	entry := Entry{
		ID:            ids.NewEventID(),
		Timestamp:     now,
		State:         target,
		EventType:     eventType,
		EventData:     eventData,
		CorrelationID: correlationID,
		Metadata:      metadata,
	}
	if n := len(tl.Entries); n > 0 {
		entry.Duration = now.Sub(tl.Entries[n-1].Timestamp)
	}
	tl.Entries = append(tl.Entries, entry)
	tl.CurrentState = target
	tl.UpdatedAt = now
	return entry, nil
}

// Observe wires the manager to an event bus: every event carrying an
// execution id in its metadata lands on that execution's timeline.
func (m *Manager) Observe(b *bus.EventBus) (*bus.Subscription, error) {
	return b.Subscribe(func(e bus.Event) error {
		if e.Metadata.ExecutionID == "" {
			return nil
		}
		_, err := m.RecordEvent(e.Metadata.ExecutionID, e.Type, e.Data, e.Metadata.CorrelationID, nil)
		return err
	}, bus.WithName("timeline"))
}

// Get returns a deep copy of the execution's timeline.
func (m *Manager) Get(executionID string) (*Timeline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tl, ok := m.timelines[executionID]
	if !ok {
		return nil, false
	}
	return tl.clone(), true
}

// CurrentState returns the execution's machine state.
func (m *Manager) CurrentState(executionID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tl, ok := m.timelines[executionID]
	if !ok {
		return "", false
	}
	return tl.CurrentState, true
}

// Remove deletes a timeline.
func (m *Manager) Remove(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timelines, executionID)
}

// Sweep removes timelines idle longer than MaxAge and returns how many were
// evicted. It is also invoked periodically by the background sweeper.
func (m *Manager) Sweep() int {
	if m.opts.MaxAge <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-m.opts.MaxAge)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, tl := range m.timelines {
		if tl.UpdatedAt.Before(cutoff) {
			delete(m.timelines, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debugw("timeline retention sweep", "removed", removed)
	}
	return removed
}

// Count returns the number of live timelines.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timelines)
}

func (m *Manager) sweeper(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stop:
			return
		}
	}
}

// Close stops the background sweeper.
func (m *Manager) Close() error {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
	return nil
}

func (t *Timeline) clone() *Timeline {
	cp := *t
	cp.Entries = make([]Entry, len(t.Entries))
	copy(cp.Entries, t.Entries)
	return &cp
}
