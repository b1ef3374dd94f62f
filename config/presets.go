package config

import "time"

// PresetName selects a bundled configuration profile.
type PresetName string

const (
	PresetDevelopment     PresetName = "development"
	PresetProduction      PresetName = "production"
	PresetTest            PresetName = "test"
	PresetHighPerformance PresetName = "high-performance"
	PresetMinimal         PresetName = "minimal"
	PresetDebug           PresetName = "debug"
)

// Preset returns the named profile. Unknown names fall back to development.
func Preset(name PresetName) *Config {
	base := &Config{
		Environment: EnvDevelopment,
		Logger: LoggerOptions{
			Level:       "debug",
			PrettyPrint: true,
			Redact:      []string{"password", "token", "api_key", "secret"},
		},
		EventBus: EventBusOptions{
			BufferSize:     1000,
			FlushInterval:  100 * time.Millisecond,
			ErrorThreshold: 10,
		},
		Telemetry: TelemetryOptions{
			Enabled:     true,
			ServiceName: "agentflow",
			Exporter:    "noop",
			Sampling:    SamplingOptions{Rate: 1.0},
			Features: TelemetryFeatures{
				TraceEvents:      true,
				TraceKernel:      true,
				TraceSnapshots:   true,
				TracePersistence: true,
				MetricsEnabled:   true,
			},
		},
		Timeline: TimelineOptions{
			Enabled:         true,
			MaxAge:          time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
		Scheduler: SchedulerOptions{
			MaxParallelSteps:  3,
			DefaultTimeout:    2 * time.Minute,
			DefaultRetryLimit: 1,
			RetryDelay:        time.Second,
		},
		LeakDetector: LeakDetectorOptions{
			Enabled:            true,
			MonitoringInterval: 30 * time.Second,
			Thresholds: LeakThresholds{
				MemoryGrowthMB:        100,
				MaxActiveTimers:       1000,
				MaxPendingTasks:       500,
				MaxHeapUsagePercent:   85,
				MaxListenersPerObject: 50,
			},
			AutoCleanup: AutoCleanup{
				Enabled:         false,
				MaxResourceAge:  10 * time.Minute,
				CleanupInterval: time.Minute,
			},
		},
	}

	switch name {
	case PresetProduction:
		base.Environment = EnvProduction
		base.Logger.Level = "info"
		base.Logger.PrettyPrint = false
		base.EventBus.BufferSize = 5000
		base.Telemetry.Exporter = "otlp"
		base.Telemetry.Endpoint = "localhost:4317"
		base.Telemetry.Sampling.Rate = 0.1
		base.Scheduler.MaxParallelSteps = 5
		base.LeakDetector.AutoCleanup.Enabled = true

	case PresetTest:
		base.Environment = EnvTest
		base.Logger.Level = "silent"
		base.EventBus.BufferSize = 100
		base.EventBus.FlushInterval = 10 * time.Millisecond
		base.Telemetry.Enabled = false
		base.Timeline.MaxAge = time.Minute
		base.Scheduler.DefaultTimeout = 5 * time.Second
		base.Scheduler.RetryDelay = 10 * time.Millisecond
		base.LeakDetector.Enabled = false

	case PresetHighPerformance:
		base.Environment = EnvProduction
		base.Logger.Level = "warn"
		base.Logger.PrettyPrint = false
		base.EventBus.BufferSize = 10000
		base.EventBus.FlushInterval = 50 * time.Millisecond
		base.Telemetry.Sampling.Rate = 0.01
		base.Telemetry.Features.TraceSnapshots = false
		base.Telemetry.Features.TracePersistence = false
		base.Scheduler.MaxParallelSteps = 10
		base.LeakDetector.MonitoringInterval = 5 * time.Minute

	case PresetMinimal:
		base.Logger.Level = "error"
		base.Logger.PrettyPrint = false
		base.EventBus.BufferSize = 100
		base.Telemetry.Enabled = false
		base.Timeline.Enabled = false
		base.LeakDetector.Enabled = false

	case PresetDebug:
		base.Logger.Level = "trace"
		base.EventBus.BufferSize = 10000
		base.Timeline.MaxAge = 24 * time.Hour
		base.LeakDetector.MonitoringInterval = 10 * time.Second
	}

	return base
}
