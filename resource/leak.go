package resource

import (
	"runtime"
	"sync"
	"time"

	"github.com/kart-io/logger/core"
	"golang.org/x/time/rate"

	"github.com/kart-io/agentflow/bus"
	"github.com/kart-io/agentflow/config"
	"github.com/kart-io/agentflow/ids"
	"github.com/kart-io/agentflow/observability"
)

// Alert types raised by the leak detector.
const (
	AlertMemoryGrowth = "MEMORY_GROWTH"
	AlertListenerLeak = "LISTENER_LEAK"
	AlertTimerLeak    = "TIMER_LEAK"
	AlertTaskLeak     = "PROMISE_LEAK"
	AlertResourceLeak = "RESOURCE_LEAK"
	AlertHeapOverflow = "HEAP_OVERFLOW"
)

// Severity grades how far past its threshold a signal is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is one leak detector finding.
type Alert struct {
	ID                string                 `json:"id"`
	Type              string                 `json:"type"`
	Severity          Severity               `json:"severity"`
	Message           string                 `json:"message"`
	Metrics           map[string]interface{} `json:"metrics,omitempty"`
	Source            string                 `json:"source"`
	RecommendedAction string                 `json:"recommended_action,omitempty"`
	Timestamp         time.Time              `json:"timestamp"`
}

// AlertHandler receives alerts as they are raised.
type AlertHandler func(Alert)

// LeakDetector probes resource counters and the heap on an interval,
// raising rate-limited alerts when thresholds are crossed.
type LeakDetector struct {
	opts    config.LeakDetectorOptions
	manager *Manager
	bus     *bus.EventBus
	metrics *observability.Metrics
	logger  core.Logger
	handler AlertHandler

	mu           sync.Mutex
	baselineHeap uint64
	baselineSet  bool
	limiters     map[string]*rate.Limiter
	alerts       []Alert

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// DetectorOption configures a LeakDetector.
type DetectorOption func(*LeakDetector)

// WithDetectorBus publishes alerts as critical events on b.
func WithDetectorBus(b *bus.EventBus) DetectorOption {
	return func(d *LeakDetector) { d.bus = b }
}

// WithDetectorMetrics counts alerts on m.
func WithDetectorMetrics(m *observability.Metrics) DetectorOption {
	return func(d *LeakDetector) { d.metrics = m }
}

// WithDetectorLogger sets the detector logger.
func WithDetectorLogger(l core.Logger) DetectorOption {
	return func(d *LeakDetector) { d.logger = l }
}

// WithAlertHandler installs a synchronous alert callback.
func WithAlertHandler(h AlertHandler) DetectorOption {
	return func(d *LeakDetector) { d.handler = h }
}

// NewLeakDetector builds a detector watching the given resource scope.
func NewLeakDetector(opts config.LeakDetectorOptions, manager *Manager, o ...DetectorOption) *LeakDetector {
	if opts.MonitoringInterval <= 0 {
		opts.MonitoringInterval = 30 * time.Second
	}
	d := &LeakDetector{
		opts:     opts,
		manager:  manager,
		logger:   core.NewNoOpLogger(nil),
		limiters: make(map[string]*rate.Limiter),
		stop:     make(chan struct{}),
	}
	for _, opt := range o {
		opt(d)
	}
	return d
}

// Start launches the background probe loop. No-op when the detector is
// disabled by configuration.
func (d *LeakDetector) Start() {
	if !d.opts.Enabled {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.opts.MonitoringInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.Probe()
			case <-d.stop:
				return
			}
		}
	}()
}

// Stop halts the probe loop.
func (d *LeakDetector) Stop() {
	d.once.Do(func() { close(d.stop) })
	d.wg.Wait()
}

// Alerts returns the alerts raised so far.
func (d *LeakDetector) Alerts() []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Alert, len(d.alerts))
	copy(out, d.alerts)
	return out
}

// Probe runs one detection pass. Exported so callers can trigger a check
// deterministically; the background loop calls it on the interval.
func (d *LeakDetector) Probe() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	d.mu.Lock()
	if !d.baselineSet {
		d.baselineHeap = ms.HeapAlloc
		d.baselineSet = true
	}
	baseline := d.baselineHeap
	d.mu.Unlock()

	th := d.opts.Thresholds

	if th.MemoryGrowthMB > 0 && ms.HeapAlloc > baseline {
		growthMB := float64(ms.HeapAlloc-baseline) / (1 << 20)
		if growthMB > float64(th.MemoryGrowthMB) {
			d.raise(Alert{
				Type:     AlertMemoryGrowth,
				Severity: severity(growthMB, float64(th.MemoryGrowthMB)),
				Message:  "heap allocation grew past the configured budget",
				Metrics: map[string]interface{}{
					"growth_mb":    growthMB,
					"threshold_mb": th.MemoryGrowthMB,
					"heap_alloc":   ms.HeapAlloc,
				},
				RecommendedAction: "inspect recent allocations; consider lowering retention windows",
			})
		}
	}

	if th.MaxHeapUsagePercent > 0 && ms.HeapSys > 0 {
		usage := float64(ms.HeapAlloc) / float64(ms.HeapSys) * 100
		if usage > th.MaxHeapUsagePercent {
			d.raise(Alert{
				Type:     AlertHeapOverflow,
				Severity: severity(usage, th.MaxHeapUsagePercent),
				Message:  "heap usage exceeds the configured ceiling",
				Metrics: map[string]interface{}{
					"usage_percent":     usage,
					"threshold_percent": th.MaxHeapUsagePercent,
				},
				RecommendedAction: "trigger a heap profile and review live set growth",
			})
		}
	}

	if d.manager != nil {
		counts := d.manager.Counts()

		if th.MaxActiveTimers > 0 && counts[KindTimer] > th.MaxActiveTimers {
			d.raise(Alert{
				Type:     AlertTimerLeak,
				Severity: severity(float64(counts[KindTimer]), float64(th.MaxActiveTimers)),
				Message:  "active timers exceed the configured maximum",
				Metrics: map[string]interface{}{
					"active_timers": counts[KindTimer],
					"threshold":     th.MaxActiveTimers,
				},
				RecommendedAction: "audit timer creation sites for missing stops",
			})
		}

		if th.MaxPendingTasks > 0 && d.manager.PendingTasks() > th.MaxPendingTasks {
			d.raise(Alert{
				Type:     AlertTaskLeak,
				Severity: severity(float64(d.manager.PendingTasks()), float64(th.MaxPendingTasks)),
				Message:  "pending tasks exceed the configured maximum",
				Metrics: map[string]interface{}{
					"pending_tasks": d.manager.PendingTasks(),
					"threshold":     th.MaxPendingTasks,
				},
				RecommendedAction: "check for tasks blocked on unavailable dependencies",
			})
		}

		if th.MaxListenersPerObject > 0 {
			for object, n := range d.manager.ListenersPerObject() {
				if n > th.MaxListenersPerObject {
					d.raise(Alert{
						Type:     AlertListenerLeak,
						Severity: severity(float64(n), float64(th.MaxListenersPerObject)),
						Message:  "listener count on a single object exceeds the configured maximum",
						Metrics: map[string]interface{}{
							"object":    object,
							"listeners": n,
							"threshold": th.MaxListenersPerObject,
						},
						RecommendedAction: "remove listeners when their subscription scope ends",
					})
				}
			}
		}

		if d.opts.AutoCleanup.Enabled && d.opts.AutoCleanup.MaxResourceAge > 0 {
			if released := d.manager.ReleaseOlderThan(d.opts.AutoCleanup.MaxResourceAge); released > 0 {
				d.raise(Alert{
					Type:     AlertResourceLeak,
					Severity: SeverityLow,
					Message:  "aged resources were released by auto-cleanup",
					Metrics: map[string]interface{}{
						"released":    released,
						"max_age_sec": d.opts.AutoCleanup.MaxResourceAge.Seconds(),
					},
					RecommendedAction: "release resources explicitly when their work completes",
				})
				if d.opts.AutoCleanup.ForceGC {
					runtime.GC()
				}
			}
		}
	}
}

// raise records, publishes, and hands off an alert, rate-limited per type to
// one alert per probe interval burst.
func (d *LeakDetector) raise(a Alert) {
	d.mu.Lock()
	limiter, ok := d.limiters[a.Type]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(d.opts.MonitoringInterval), 1)
		d.limiters[a.Type] = limiter
	}
	if !limiter.Allow() {
		d.mu.Unlock()
		return
	}
	a.ID = ids.NewAlertID()
	a.Source = "leak_detector"
	a.Timestamp = time.Now()
	d.alerts = append(d.alerts, a)
	d.mu.Unlock()

	d.logger.Warnw("leak alert",
		"alert_id", a.ID,
		"type", a.Type,
		"severity", string(a.Severity),
		"message", a.Message)

	if d.metrics != nil {
		d.metrics.LeakAlertsTotal.WithLabelValues(a.Type).Inc()
	}
	if d.bus != nil {
		_ = d.bus.Publish(bus.Event{
			Type:     bus.TopicLeakDetected,
			Data:     a,
			Critical: true,
			Metadata: bus.EventMetadata{Source: "leak_detector"},
		})
	}
	if d.handler != nil {
		d.handler(a)
	}
}

// severity grades a measured value against its threshold.
func severity(value, threshold float64) Severity {
	if threshold <= 0 {
		return SeverityLow
	}
	ratio := value / threshold
	switch {
	case ratio >= 2:
		return SeverityCritical
	case ratio >= 1.5:
		return SeverityHigh
	case ratio >= 1.2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
