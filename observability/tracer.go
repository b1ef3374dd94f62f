package observability

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/kart-io/logger/core"

	"github.com/kart-io/agentflow/ids"
)

// SpanKind classifies a span's role.
type SpanKind string

const (
	SpanKindInternal SpanKind = "internal"
	SpanKindClient   SpanKind = "client"
	SpanKindProducer SpanKind = "producer"
	SpanKindConsumer SpanKind = "consumer"
)

// SpanStatus is the terminal disposition of a span.
type SpanStatus string

const (
	StatusUnset   SpanStatus = "unset"
	StatusOK      SpanStatus = "ok"
	StatusError   SpanStatus = "error"
	StatusTimeout SpanStatus = "timeout"
)

// SpanContext identifies a span within its trace.
type SpanContext struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

// SpanEvent is a timestamped annotation on a span.
type SpanEvent struct {
	Name       string                 `json:"name"`
	Timestamp  time.Time              `json:"timestamp"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// TraceItem is a completed span as handed to trace processors.
type TraceItem struct {
	Name          string                 `json:"name"`
	Context       SpanContext            `json:"context"`
	Kind          SpanKind               `json:"kind"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
	Events        []SpanEvent            `json:"events,omitempty"`
	Status        SpanStatus             `json:"status"`
	StatusMessage string                 `json:"status_message,omitempty"`
	StartTime     time.Time              `json:"start_time"`
	EndTime       time.Time              `json:"end_time"`
}

// Span is a live trace span handle. All methods are safe for concurrent use
// and become no-ops after End.
type Span interface {
	Context() SpanContext
	Name() string
	SetAttribute(key string, value interface{})
	SetAttributes(attrs map[string]interface{})
	SetStatus(status SpanStatus, message string)
	RecordException(err error)
	AddEvent(name string, attrs map[string]interface{})
	End()
	// IsRecording reports whether the span was sampled in.
	IsRecording() bool
}

// TraceProcessor receives batches of completed spans for export.
type TraceProcessor func(items []TraceItem)

// ContextAttributeProvider extracts attributes to stamp on every span started
// under ctx.
type ContextAttributeProvider func(ctx context.Context) map[string]interface{}

// Tracer creates spans.
type Tracer interface {
	// StartSpan begins a span as a child of the span in ctx, if any, and
	// returns a context carrying the new span.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)

	// AddTraceProcessor registers fn for completed-span batches.
	AddTraceProcessor(fn TraceProcessor)

	// ForceFlush synchronously delivers all pending completed spans.
	ForceFlush()

	// Dispose ends all active spans with an error status and flushes.
	Dispose()
}

// SpanOption customizes span creation.
type SpanOption func(*spanOptions)

type spanOptions struct {
	kind       SpanKind
	attributes map[string]interface{}
	startTime  time.Time
	timeout    time.Duration
}

// WithKind sets the span kind.
func WithKind(kind SpanKind) SpanOption {
	return func(o *spanOptions) { o.kind = kind }
}

// WithAttributes sets initial attributes.
func WithAttributes(attrs map[string]interface{}) SpanOption {
	return func(o *spanOptions) {
		if o.attributes == nil {
			o.attributes = make(map[string]interface{}, len(attrs))
		}
		for k, v := range attrs {
			o.attributes[k] = v
		}
	}
}

// WithStartTime overrides the span start time.
func WithStartTime(t time.Time) SpanOption {
	return func(o *spanOptions) { o.startTime = t }
}

// WithSpanTimeout overrides the tracer's default span timeout. Zero disables
// the timer for this span.
func WithSpanTimeout(d time.Duration) SpanOption {
	return func(o *spanOptions) { o.timeout = d }
}

const (
	defaultSpanTimeout  = 5 * time.Minute
	defaultMaxCompleted = 1000
	defaultBatchSize    = 64
)

// InMemoryTracer keeps active spans in a map and completed spans in a
// bounded FIFO history. Sampling, per-span timeouts, and processor export
// follow the tracer configuration.
type InMemoryTracer struct {
	mu         sync.Mutex
	active     map[string]*memorySpan
	completed  []TraceItem
	pending    []TraceItem
	processors []TraceProcessor
	disposed   bool

	samplingRate float64
	spanTimeout  time.Duration
	maxCompleted int
	batchSize    int
	provider     ContextAttributeProvider
	logger       core.Logger
	rng          *rand.Rand
}

// TracerOption configures an InMemoryTracer.
type TracerOption func(*InMemoryTracer)

// WithSampling sets the probability in [0, 1] that a span is recorded.
func WithSampling(rate float64) TracerOption {
	return func(t *InMemoryTracer) { t.samplingRate = rate }
}

// WithDefaultSpanTimeout sets the timer armed on every span. On expiry the
// span is ended with a timeout status.
func WithDefaultSpanTimeout(d time.Duration) TracerOption {
	return func(t *InMemoryTracer) { t.spanTimeout = d }
}

// WithMaxCompleted bounds the completed-span history.
func WithMaxCompleted(n int) TracerOption {
	return func(t *InMemoryTracer) { t.maxCompleted = n }
}

// WithBatchSize sets how many completed spans accumulate before processors
// run.
func WithBatchSize(n int) TracerOption {
	return func(t *InMemoryTracer) { t.batchSize = n }
}

// WithContextProvider sets the provider that stamps ambient attributes
// (tenant, correlation, execution) onto new spans.
func WithContextProvider(p ContextAttributeProvider) TracerOption {
	return func(t *InMemoryTracer) { t.provider = p }
}

// WithTracerLogger sets the tracer's logger.
func WithTracerLogger(l core.Logger) TracerOption {
	return func(t *InMemoryTracer) { t.logger = l }
}

// NewInMemoryTracer builds a tracer with full sampling, a five-minute span
// timeout, and correlation attributes from the ambient context.
func NewInMemoryTracer(opts ...TracerOption) *InMemoryTracer {
	t := &InMemoryTracer{
		active:       make(map[string]*memorySpan),
		samplingRate: 1.0,
		spanTimeout:  defaultSpanTimeout,
		maxCompleted: defaultMaxCompleted,
		batchSize:    defaultBatchSize,
		provider:     CorrelationAttributes,
		logger:       core.NewNoOpLogger(nil),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// StartSpan implements Tracer. A sampled-out or post-dispose start returns a
// non-recording span.
func (t *InMemoryTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	so := spanOptions{kind: SpanKindInternal, timeout: t.spanTimeout}
	for _, o := range opts {
		o(&so)
	}

	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return ctx, noopSpan{}
	}
	sampled := t.samplingRate >= 1.0 || t.rng.Float64() < t.samplingRate
	t.mu.Unlock()

	if !sampled {
		return ctx, noopSpan{}
	}

	sc := SpanContext{SpanID: ids.NewSpanID()}
	if parent := SpanFromContext(ctx); parent != nil && parent.IsRecording() {
		psc := parent.Context()
		sc.TraceID = psc.TraceID
		sc.ParentSpanID = psc.SpanID
	} else {
		sc.TraceID = ids.NewTraceID()
	}

	start := so.startTime
	if start.IsZero() {
		start = time.Now()
	}

	attrs := make(map[string]interface{}, len(so.attributes)+4)
	if t.provider != nil {
		for k, v := range t.provider(ctx) {
			attrs[k] = v
		}
	}
	for k, v := range so.attributes {
		attrs[k] = v
	}

	span := &memorySpan{
		tracer: t,
		name:   name,
		sctx:   sc,
		kind:   so.kind,
		attrs:  attrs,
		status: StatusUnset,
		start:  start,
	}
	if so.timeout > 0 {
		span.timer = time.AfterFunc(so.timeout, span.expire)
	}

	t.mu.Lock()
	t.active[sc.SpanID] = span
	t.mu.Unlock()

	return ContextWithSpan(ctx, span), span
}

// complete moves an ended span into history and dispatches full batches.
func (t *InMemoryTracer) complete(spanID string, item TraceItem) {
	t.mu.Lock()
	delete(t.active, spanID)
	t.completed = append(t.completed, item)
	if len(t.completed) > t.maxCompleted {
		t.completed = t.completed[len(t.completed)-t.maxCompleted:]
	}
	t.pending = append(t.pending, item)
	var batch []TraceItem
	var procs []TraceProcessor
	if len(t.pending) >= t.batchSize {
		batch = t.pending
		t.pending = nil
		procs = append(procs, t.processors...)
	}
	t.mu.Unlock()

	t.dispatch(batch, procs)
}

// AddTraceProcessor implements Tracer.
func (t *InMemoryTracer) AddTraceProcessor(fn TraceProcessor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processors = append(t.processors, fn)
}

// ForceFlush implements Tracer.
func (t *InMemoryTracer) ForceFlush() {
	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	procs := append([]TraceProcessor(nil), t.processors...)
	t.mu.Unlock()

	t.dispatch(batch, procs)
}

func (t *InMemoryTracer) dispatch(batch []TraceItem, procs []TraceProcessor) {
	if len(batch) == 0 || len(procs) == 0 {
		return
	}
	for _, p := range procs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Warnw("trace processor panic", "panic", r)
				}
			}()
			p(batch)
		}()
	}
}

// Dispose implements Tracer: every active span ends with an error status,
// pending batches flush, and subsequent StartSpan calls return non-recording
// spans.
func (t *InMemoryTracer) Dispose() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.disposed = true
	spans := make([]*memorySpan, 0, len(t.active))
	for _, s := range t.active {
		spans = append(spans, s)
	}
	t.mu.Unlock()

	for _, s := range spans {
		s.SetStatus(StatusError, "tracer disposed")
		s.End()
	}
	t.ForceFlush()
}

// ActiveSpanCount returns the number of spans started but not ended.
func (t *InMemoryTracer) ActiveSpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// CompletedSpans returns a copy of the bounded completed-span history.
func (t *InMemoryTracer) CompletedSpans() []TraceItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceItem, len(t.completed))
	copy(out, t.completed)
	return out
}

type memorySpan struct {
	tracer *InMemoryTracer
	name   string
	sctx   SpanContext
	kind   SpanKind
	start  time.Time
	timer  *time.Timer

	mu        sync.Mutex
	attrs     map[string]interface{}
	events    []SpanEvent
	status    SpanStatus
	statusMsg string
	ended     bool
}

func (s *memorySpan) Context() SpanContext { return s.sctx }
func (s *memorySpan) Name() string         { return s.name }
func (s *memorySpan) IsRecording() bool    { return true }

func (s *memorySpan) SetAttribute(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.attrs[key] = value
}

func (s *memorySpan) SetAttributes(attrs map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	for k, v := range attrs {
		s.attrs[k] = v
	}
}

func (s *memorySpan) SetStatus(status SpanStatus, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.status = status
	s.statusMsg = message
}

func (s *memorySpan) RecordException(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events = append(s.events, SpanEvent{
		Name:      "exception",
		Timestamp: time.Now(),
		Attributes: map[string]interface{}{
			"exception.message": err.Error(),
		},
	})
	s.status = StatusError
	s.statusMsg = err.Error()
}

func (s *memorySpan) AddEvent(name string, attrs map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events = append(s.events, SpanEvent{Name: name, Timestamp: time.Now(), Attributes: attrs})
}

// expire is the span timeout path: mark and end.
func (s *memorySpan) expire() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.status = StatusTimeout
	s.statusMsg = "span exceeded timeout"
	s.mu.Unlock()
	s.End()
}

func (s *memorySpan) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	if s.timer != nil {
		s.timer.Stop()
	}
	status := s.status
	if status == StatusUnset {
		status = StatusOK
	}
	item := TraceItem{
		Name:          s.name,
		Context:       s.sctx,
		Kind:          s.kind,
		Attributes:    copyAttrs(s.attrs),
		Events:        append([]SpanEvent(nil), s.events...),
		Status:        status,
		StatusMessage: s.statusMsg,
		StartTime:     s.start,
		EndTime:       time.Now(),
	}
	s.mu.Unlock()

	s.tracer.complete(s.sctx.SpanID, item)
}

func copyAttrs(attrs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// noopSpan is returned for sampled-out spans and after dispose.
type noopSpan struct{}

func (noopSpan) Context() SpanContext                          { return SpanContext{} }
func (noopSpan) Name() string                                  { return "" }
func (noopSpan) SetAttribute(string, interface{})              {}
func (noopSpan) SetAttributes(map[string]interface{})          {}
func (noopSpan) SetStatus(SpanStatus, string)                  {}
func (noopSpan) RecordException(error)                         {}
func (noopSpan) AddEvent(string, map[string]interface{})       {}
func (noopSpan) End()                                          {}
func (noopSpan) IsRecording() bool                             { return false }
