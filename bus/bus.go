package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kart-io/logger/core"

	"github.com/kart-io/agentflow/config"
	"github.com/kart-io/agentflow/errors"
	"github.com/kart-io/agentflow/ids"
)

// Handler consumes a delivered event. A returned error or a panic counts
// against the subscriber's error budget.
type Handler func(Event) error

// minHeadroom is the smallest number of buffer slots reserved for critical
// events.
const minHeadroom = 8

// EventBus is a bounded, correlated pub/sub hub. Producers may publish
// concurrently; delivery happens on a single dispatcher goroutine, so each
// subscriber observes events in buffer order.
type EventBus struct {
	mu       sync.Mutex
	buffer   []Event
	capacity int
	headroom int
	lastTS   time.Time

	subs      []*subscriber
	threshold int

	published   uint64
	dropped     uint64
	errored     uint64
	quarantined uint64

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool

	logger core.Logger
}

type subscriber struct {
	id          string
	name        string
	handler     Handler
	types       []string
	sources     []string
	errorCount  int
	quarantined bool
}

// Option configures an EventBus.
type Option func(*EventBus)

// WithLogger sets the bus logger.
func WithLogger(l core.Logger) Option {
	return func(b *EventBus) { b.logger = l }
}

// New builds an EventBus from opts and starts its dispatcher.
func New(opts config.EventBusOptions, options ...Option) *EventBus {
	capacity := opts.BufferSize
	if capacity <= 0 {
		capacity = 1000
	}
	headroom := capacity / 8
	if headroom < minHeadroom {
		headroom = minHeadroom
	}
	if headroom >= capacity {
		headroom = capacity / 2
	}

	b := &EventBus{
		buffer:    make([]Event, 0, capacity),
		capacity:  capacity,
		headroom:  headroom,
		threshold: opts.ErrorThreshold,
		flushCh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
		logger:    core.NewNoOpLogger(nil),
	}
	for _, o := range options {
		o(b)
	}

	// A negative flush interval disables the dispatcher; events are then
	// delivered only by explicit Flush calls.
	interval := opts.FlushInterval
	if interval == 0 {
		interval = 100 * time.Millisecond
	}
	if interval > 0 {
		b.wg.Add(1)
		go b.dispatch(interval)
	}
	return b
}

// SubscribeOption narrows what a subscriber receives.
type SubscribeOption func(*subscriber)

// WithTypes filters delivery to events whose type matches one of the given
// patterns ("step.completed", "step.*", "*").
func WithTypes(patterns ...string) SubscribeOption {
	return func(s *subscriber) { s.types = patterns }
}

// WithSources filters delivery to events whose metadata source matches.
func WithSources(sources ...string) SubscribeOption {
	return func(s *subscriber) { s.sources = sources }
}

// WithName labels the subscriber in logs and quarantine alerts.
func WithName(name string) SubscribeOption {
	return func(s *subscriber) { s.name = name }
}

// Subscription identifies a registered subscriber.
type Subscription struct {
	ID   string
	Name string
}

// Subscribe registers handler. Without type filters the subscriber receives
// every event.
func (b *EventBus) Subscribe(handler Handler, opts ...SubscribeOption) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New(errors.CodeInvalidInput, "handler must not be nil").
			WithComponent("bus").
			WithOperation("subscribe")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New(errors.CodeBusClosed, "event bus is closed").
			WithComponent("bus").
			WithOperation("subscribe")
	}

	sub := &subscriber{
		id:      uuid.NewString(),
		handler: handler,
	}
	for _, o := range opts {
		o(sub)
	}
	if sub.name == "" {
		sub.name = sub.id[:8]
	}
	b.subs = append(b.subs, sub)
	return &Subscription{ID: sub.id, Name: sub.name}, nil
}

// Unsubscribe removes the subscriber. Unknown IDs are ignored.
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish enqueues evt for delivery. Missing ID and timestamp are filled in.
// Under backpressure, non-critical events may be dropped; the call itself
// never blocks on delivery.
func (b *EventBus) Publish(evt Event) error {
	if evt.Type == "" {
		return errors.New(errors.CodeInvalidInput, "event type must not be empty").
			WithComponent("bus").
			WithOperation("publish")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New(errors.CodeBusClosed, "event bus is closed").
			WithComponent("bus").
			WithOperation("publish").
			WithContext("event_type", evt.Type)
	}

	if evt.ID == "" {
		evt.ID = ids.NewEventID()
	}
	now := time.Now()
	if !now.After(b.lastTS) {
		now = b.lastTS.Add(time.Nanosecond)
	}
	b.lastTS = now
	if evt.Timestamp.IsZero() {
		evt.Timestamp = now
	}

	critical := evt.IsCritical()
	limit := b.capacity
	if !critical {
		limit = b.capacity - b.headroom
	}

	if len(b.buffer) >= limit {
		if !b.evictOldestNonCritical() {
			if critical {
				// Reserved headroom exhausted by critical traffic; sacrifice
				// the oldest event rather than the newest.
				b.buffer = b.buffer[1:]
				b.dropped++
			} else {
				b.dropped++
				b.mu.Unlock()
				return nil
			}
		}
	}

	b.buffer = append(b.buffer, evt)
	b.published++
	highWater := len(b.buffer) >= b.capacity*3/4
	b.mu.Unlock()

	if highWater {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// evictOldestNonCritical removes the oldest droppable event. Caller holds mu.
func (b *EventBus) evictOldestNonCritical() bool {
	for i := range b.buffer {
		if !b.buffer[i].IsCritical() {
			b.buffer = append(b.buffer[:i], b.buffer[i+1:]...)
			b.dropped++
			return true
		}
	}
	return false
}

func (b *EventBus) dispatch(interval time.Duration) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.Flush()
		case <-b.flushCh:
			b.Flush()
		case <-b.done:
			b.Flush()
			return
		}
	}
}

// Flush synchronously delivers all buffered events.
func (b *EventBus) Flush() {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buffer
	b.buffer = make([]Event, 0, b.capacity)
	subs := make([]*subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, evt := range batch {
		for _, sub := range subs {
			if sub.quarantined || !sub.matches(&evt) {
				continue
			}
			if err := b.deliver(sub, evt); err != nil {
				b.recordSubscriberError(sub, evt, err)
			}
		}
	}
}

func (b *EventBus) deliver(sub *subscriber, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.CodeSubscriberError, "subscriber panic: %v", r).
				WithComponent("bus").
				WithContext("subscriber", sub.name)
		}
	}()
	return sub.handler(evt)
}

func (b *EventBus) recordSubscriberError(sub *subscriber, evt Event, err error) {
	b.mu.Lock()
	b.errored++
	sub.errorCount++
	quarantine := b.threshold > 0 && sub.errorCount >= b.threshold && !sub.quarantined
	if quarantine {
		sub.quarantined = true
		b.quarantined++
	}
	b.mu.Unlock()

	b.logger.Warnw("event subscriber error",
		"subscriber", sub.name,
		"event_type", evt.Type,
		"error_count", sub.errorCount,
		"error", err.Error())

	if quarantine {
		b.logger.Errorw("event subscriber quarantined",
			"subscriber", sub.name,
			"error_count", sub.errorCount,
			"threshold", b.threshold)
		_ = b.Publish(Event{
			Type:     TopicSubscriberQuarantined,
			Critical: true,
			Data: map[string]interface{}{
				"subscriber_id":   sub.id,
				"subscriber_name": sub.name,
				"error_count":     sub.errorCount,
				"threshold":       b.threshold,
				"last_error":      err.Error(),
			},
			Metadata: EventMetadata{Source: "bus"},
		})
	}
}

func (s *subscriber) matches(evt *Event) bool {
	if len(s.types) > 0 {
		ok := false
		for _, p := range s.types {
			if MatchTopic(p, evt.Type) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(s.sources) > 0 {
		ok := false
		for _, src := range s.sources {
			if src == evt.Metadata.Source {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	ActiveListeners int    `json:"active_listeners"`
	Published       uint64 `json:"published"`
	Dropped         uint64 `json:"dropped"`
	Errors          uint64 `json:"errors"`
	Quarantined     uint64 `json:"quarantined"`
	Buffered        int    `json:"buffered"`
}

// Stats returns current counters.
func (b *EventBus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	active := 0
	for _, s := range b.subs {
		if !s.quarantined {
			active++
		}
	}
	return Stats{
		ActiveListeners: active,
		Published:       b.published,
		Dropped:         b.dropped,
		Errors:          b.errored,
		Quarantined:     b.quarantined,
		Buffered:        len(b.buffer),
	}
}

// Close flushes remaining events and stops the dispatcher. Subsequent
// publishes fail with CodeBusClosed.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
	b.Flush()
	return nil
}
