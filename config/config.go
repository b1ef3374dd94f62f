// Package config defines the single typed configuration surface for the
// framework. Every tunable lives in a named section; unknown keys are
// rejected at parse time rather than silently ignored.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Environment selects the default profile.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTest        Environment = "test"
)

// Config is the root configuration object.
type Config struct {
	Environment  Environment         `mapstructure:"environment" yaml:"environment" json:"environment"`
	Logger       LoggerOptions       `mapstructure:"logger" yaml:"logger" json:"logger"`
	EventBus     EventBusOptions     `mapstructure:"event_bus" yaml:"event_bus" json:"event_bus"`
	Telemetry    TelemetryOptions    `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`
	Timeline     TimelineOptions     `mapstructure:"timeline" yaml:"timeline" json:"timeline"`
	Scheduler    SchedulerOptions    `mapstructure:"scheduler" yaml:"scheduler" json:"scheduler"`
	LeakDetector LeakDetectorOptions `mapstructure:"leak_detector" yaml:"leak_detector" json:"leak_detector"`
}

// LoggerOptions configures structured logging.
type LoggerOptions struct {
	// Level is one of fatal, error, warn, info, debug, trace, silent.
	Level string `mapstructure:"level" yaml:"level" json:"level"`

	// PrettyPrint switches from JSON to console output.
	PrettyPrint bool `mapstructure:"pretty_print" yaml:"pretty_print" json:"pretty_print"`

	// Redact lists field names whose values are masked in log output.
	Redact []string `mapstructure:"redact" yaml:"redact" json:"redact"`
}

// EventBusOptions configures the in-process event bus.
type EventBusOptions struct {
	// BufferSize is the ring-buffer capacity per subscriber.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size" json:"buffer_size"`

	// FlushInterval is how often buffered events are delivered.
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval" json:"flush_interval"`

	// ErrorThreshold is the number of subscriber errors tolerated before
	// the subscriber is quarantined.
	ErrorThreshold int `mapstructure:"error_threshold" yaml:"error_threshold" json:"error_threshold"`
}

// TelemetryOptions configures tracing.
type TelemetryOptions struct {
	Enabled     bool             `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	ServiceName string           `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	Exporter    string           `mapstructure:"exporter" yaml:"exporter" json:"exporter"` // "otlp", "noop"
	Endpoint    string           `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Sampling    SamplingOptions  `mapstructure:"sampling" yaml:"sampling" json:"sampling"`
	Features    TelemetryFeatures `mapstructure:"features" yaml:"features" json:"features"`
}

// SamplingOptions controls span sampling.
type SamplingOptions struct {
	// Rate is the probability a trace is sampled, in [0, 1].
	Rate float64 `mapstructure:"rate" yaml:"rate" json:"rate"`
}

// TelemetryFeatures toggles individual instrumentation points.
type TelemetryFeatures struct {
	TraceEvents      bool `mapstructure:"trace_events" yaml:"trace_events" json:"trace_events"`
	TraceKernel      bool `mapstructure:"trace_kernel" yaml:"trace_kernel" json:"trace_kernel"`
	TraceSnapshots   bool `mapstructure:"trace_snapshots" yaml:"trace_snapshots" json:"trace_snapshots"`
	TracePersistence bool `mapstructure:"trace_persistence" yaml:"trace_persistence" json:"trace_persistence"`
	MetricsEnabled   bool `mapstructure:"metrics_enabled" yaml:"metrics_enabled" json:"metrics_enabled"`
}

// TimelineOptions configures the execution timeline manager.
type TimelineOptions struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// MaxAge is how long finished timelines are retained.
	MaxAge time.Duration `mapstructure:"max_age" yaml:"max_age" json:"max_age"`

	// CleanupInterval is the period of the retention sweep.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval" json:"cleanup_interval"`

	// Strict rejects invalid state transitions instead of appending them.
	Strict bool `mapstructure:"strict" yaml:"strict" json:"strict"`
}

// SchedulerOptions configures the step executor.
type SchedulerOptions struct {
	MaxParallelSteps int           `mapstructure:"max_parallel_steps" yaml:"max_parallel_steps" json:"max_parallel_steps"`
	DefaultTimeout   time.Duration `mapstructure:"default_timeout" yaml:"default_timeout" json:"default_timeout"`
	DefaultRetryLimit int          `mapstructure:"default_retry_limit" yaml:"default_retry_limit" json:"default_retry_limit"`
	RetryDelay       time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" json:"retry_delay"`

	// ResourceAware enables admission control against ResourceCaps.
	ResourceAware bool         `mapstructure:"resource_aware" yaml:"resource_aware" json:"resource_aware"`
	ResourceCaps  ResourceCaps `mapstructure:"resource_caps" yaml:"resource_caps" json:"resource_caps"`
}

// ResourceCaps bounds the summed per-category weights of admitted steps.
type ResourceCaps struct {
	Memory  int `mapstructure:"memory" yaml:"memory" json:"memory"`
	CPU     int `mapstructure:"cpu" yaml:"cpu" json:"cpu"`
	Network int `mapstructure:"network" yaml:"network" json:"network"`
}

// LeakDetectorOptions configures the resource leak detector.
type LeakDetectorOptions struct {
	Enabled            bool           `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MonitoringInterval time.Duration  `mapstructure:"monitoring_interval" yaml:"monitoring_interval" json:"monitoring_interval"`
	Thresholds         LeakThresholds `mapstructure:"thresholds" yaml:"thresholds" json:"thresholds"`
	AutoCleanup        AutoCleanup    `mapstructure:"auto_cleanup" yaml:"auto_cleanup" json:"auto_cleanup"`
}

// LeakThresholds are the counters that trigger alerts when crossed.
type LeakThresholds struct {
	MemoryGrowthMB        int     `mapstructure:"memory_growth_mb" yaml:"memory_growth_mb" json:"memory_growth_mb"`
	MaxActiveTimers       int     `mapstructure:"max_active_timers" yaml:"max_active_timers" json:"max_active_timers"`
	MaxPendingTasks       int     `mapstructure:"max_pending_tasks" yaml:"max_pending_tasks" json:"max_pending_tasks"`
	MaxHeapUsagePercent   float64 `mapstructure:"max_heap_usage_percent" yaml:"max_heap_usage_percent" json:"max_heap_usage_percent"`
	MaxListenersPerObject int     `mapstructure:"max_listeners_per_object" yaml:"max_listeners_per_object" json:"max_listeners_per_object"`
}

// AutoCleanup controls the periodic disposal of aged tracked resources.
type AutoCleanup struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MaxResourceAge  time.Duration `mapstructure:"max_resource_age" yaml:"max_resource_age" json:"max_resource_age"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval" json:"cleanup_interval"`
	ForceGC         bool          `mapstructure:"force_gc" yaml:"force_gc" json:"force_gc"`
}

// Default returns the development-profile configuration.
func Default() *Config {
	return Preset(PresetDevelopment)
}

var validLogLevels = map[string]bool{
	"fatal": true, "error": true, "warn": true, "info": true,
	"debug": true, "trace": true, "silent": true,
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("environment must be one of development, production, test; got %q", c.Environment)
	}

	if !validLogLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("logger.level %q is not recognized", c.Logger.Level)
	}

	if c.EventBus.BufferSize <= 0 {
		return fmt.Errorf("event_bus.buffer_size must be > 0; got %d", c.EventBus.BufferSize)
	}
	if c.EventBus.FlushInterval <= 0 {
		return fmt.Errorf("event_bus.flush_interval must be > 0; got %s", c.EventBus.FlushInterval)
	}
	if c.EventBus.ErrorThreshold < 0 {
		return fmt.Errorf("event_bus.error_threshold must be >= 0; got %d", c.EventBus.ErrorThreshold)
	}

	if c.Telemetry.Sampling.Rate < 0 || c.Telemetry.Sampling.Rate > 1 {
		return fmt.Errorf("telemetry.sampling.rate must be in [0, 1]; got %g", c.Telemetry.Sampling.Rate)
	}
	switch c.Telemetry.Exporter {
	case "", "otlp", "noop":
	default:
		return fmt.Errorf("telemetry.exporter %q is not supported", c.Telemetry.Exporter)
	}

	if c.Timeline.MaxAge < 0 {
		return fmt.Errorf("timeline.max_age must be >= 0; got %s", c.Timeline.MaxAge)
	}

	if c.Scheduler.MaxParallelSteps <= 0 {
		return fmt.Errorf("scheduler.max_parallel_steps must be > 0; got %d", c.Scheduler.MaxParallelSteps)
	}
	if c.Scheduler.DefaultTimeout <= 0 {
		return fmt.Errorf("scheduler.default_timeout must be > 0; got %s", c.Scheduler.DefaultTimeout)
	}
	if c.Scheduler.DefaultRetryLimit < 0 {
		return fmt.Errorf("scheduler.default_retry_limit must be >= 0; got %d", c.Scheduler.DefaultRetryLimit)
	}

	if c.LeakDetector.Enabled && c.LeakDetector.MonitoringInterval <= 0 {
		return fmt.Errorf("leak_detector.monitoring_interval must be > 0 when enabled; got %s", c.LeakDetector.MonitoringInterval)
	}

	return nil
}

// AddFlags registers the most commonly overridden options on fs.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar((*string)(&c.Environment), "environment", string(c.Environment), "Runtime environment (development|production|test)")
	fs.StringVar(&c.Logger.Level, "log-level", c.Logger.Level, "Log level (fatal|error|warn|info|debug|trace|silent)")
	fs.BoolVar(&c.Logger.PrettyPrint, "log-pretty", c.Logger.PrettyPrint, "Pretty-print log output")
	fs.IntVar(&c.EventBus.BufferSize, "bus-buffer-size", c.EventBus.BufferSize, "Event bus buffer size")
	fs.DurationVar(&c.EventBus.FlushInterval, "bus-flush-interval", c.EventBus.FlushInterval, "Event bus flush interval")
	fs.BoolVar(&c.Telemetry.Enabled, "telemetry-enabled", c.Telemetry.Enabled, "Enable tracing")
	fs.Float64Var(&c.Telemetry.Sampling.Rate, "telemetry-sampling-rate", c.Telemetry.Sampling.Rate, "Trace sampling rate [0,1]")
	fs.IntVar(&c.Scheduler.MaxParallelSteps, "max-parallel-steps", c.Scheduler.MaxParallelSteps, "Maximum concurrently running steps")
	fs.DurationVar(&c.Scheduler.DefaultTimeout, "step-timeout", c.Scheduler.DefaultTimeout, "Default per-step timeout")
}

// Dump renders the effective configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

// String returns a one-line summary safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{env:%s, log:%s, bus:%d, sampling:%g, parallel:%d}",
		c.Environment, c.Logger.Level, c.EventBus.BufferSize,
		c.Telemetry.Sampling.Rate, c.Scheduler.MaxParallelSteps)
}
