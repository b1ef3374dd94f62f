package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the prometheus instruments exported by the framework.
type Metrics struct {
	StepsTotal        *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec
	PlansTotal        *prometheus.CounterVec
	ReplansTotal      prometheus.Counter
	EventsPublished   prometheus.Counter
	EventsDropped     prometheus.Counter
	SubscriberErrors  prometheus.Counter
	ActiveSpans       prometheus.Gauge
	SpansCompleted    *prometheus.CounterVec
	LeakAlertsTotal   *prometheus.CounterVec
	TrackedResources  *prometheus.GaugeVec
	ExecutionsRunning prometheus.Gauge
}

// NewMetrics creates and registers the instrument set. Pass
// prometheus.DefaultRegisterer in binaries; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "steps_total",
			Help:      "Plan steps by terminal status.",
		}, []string{"status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentflow",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of plan steps.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"tool"}),
		PlansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "plans_total",
			Help:      "Plans by strategy.",
		}, []string{"strategy"}),
		ReplansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "replans_total",
			Help:      "Replan operations initiated.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "bus_events_published_total",
			Help:      "Events accepted by the bus.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "bus_events_dropped_total",
			Help:      "Events dropped under backpressure.",
		}),
		SubscriberErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "bus_subscriber_errors_total",
			Help:      "Subscriber handler errors and panics.",
		}),
		ActiveSpans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentflow",
			Name:      "tracer_active_spans",
			Help:      "Spans started but not yet ended.",
		}),
		SpansCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "tracer_spans_completed_total",
			Help:      "Completed spans by status.",
		}, []string{"status"}),
		LeakAlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "leak_alerts_total",
			Help:      "Leak detector alerts by type.",
		}, []string{"type"}),
		TrackedResources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentflow",
			Name:      "tracked_resources",
			Help:      "Resources currently tracked, by kind.",
		}, []string{"kind"}),
		ExecutionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentflow",
			Name:      "executions_running",
			Help:      "Executions currently in flight.",
		}),
	}

	reg.MustRegister(
		m.StepsTotal, m.StepDuration, m.PlansTotal, m.ReplansTotal,
		m.EventsPublished, m.EventsDropped, m.SubscriberErrors,
		m.ActiveSpans, m.SpansCompleted,
		m.LeakAlertsTotal, m.TrackedResources, m.ExecutionsRunning,
	)
	return m
}
