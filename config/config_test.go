package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/agentflow/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name   PresetName
		verify func(t *testing.T, cfg *Config)
	}{
		{
			name: PresetProduction,
			verify: func(t *testing.T, cfg *Config) {
				assert.Equal(t, EnvProduction, cfg.Environment)
				assert.Equal(t, "info", cfg.Logger.Level)
				assert.False(t, cfg.Logger.PrettyPrint)
				assert.Equal(t, "otlp", cfg.Telemetry.Exporter)
				assert.Equal(t, 0.1, cfg.Telemetry.Sampling.Rate)
				assert.True(t, cfg.LeakDetector.AutoCleanup.Enabled)
			},
		},
		{
			name: PresetTest,
			verify: func(t *testing.T, cfg *Config) {
				assert.Equal(t, EnvTest, cfg.Environment)
				assert.Equal(t, "silent", cfg.Logger.Level)
				assert.False(t, cfg.Telemetry.Enabled)
				assert.False(t, cfg.LeakDetector.Enabled)
				assert.Equal(t, 5*time.Second, cfg.Scheduler.DefaultTimeout)
			},
		},
		{
			name: PresetHighPerformance,
			verify: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 10000, cfg.EventBus.BufferSize)
				assert.Equal(t, 0.01, cfg.Telemetry.Sampling.Rate)
				assert.Equal(t, 10, cfg.Scheduler.MaxParallelSteps)
				assert.False(t, cfg.Telemetry.Features.TraceSnapshots)
			},
		},
		{
			name: PresetMinimal,
			verify: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Telemetry.Enabled)
				assert.False(t, cfg.Timeline.Enabled)
				assert.False(t, cfg.LeakDetector.Enabled)
			},
		},
		{
			name: PresetDebug,
			verify: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "trace", cfg.Logger.Level)
				assert.Equal(t, 24*time.Hour, cfg.Timeline.MaxAge)
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			cfg := Preset(tt.name)
			require.NoError(t, cfg.Validate())
			tt.verify(t, cfg)
		})
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"bad environment", func(c *Config) { c.Environment = "staging" }},
		{"bad log level", func(c *Config) { c.Logger.Level = "verbose" }},
		{"zero buffer", func(c *Config) { c.EventBus.BufferSize = 0 }},
		{"negative error threshold", func(c *Config) { c.EventBus.ErrorThreshold = -1 }},
		{"sampling above one", func(c *Config) { c.Telemetry.Sampling.Rate = 1.5 }},
		{"unknown exporter", func(c *Config) { c.Telemetry.Exporter = "jaeger" }},
		{"zero parallel steps", func(c *Config) { c.Scheduler.MaxParallelSteps = 0 }},
		{"zero timeout", func(c *Config) { c.Scheduler.DefaultTimeout = 0 }},
		{"negative retry limit", func(c *Config) { c.Scheduler.DefaultRetryLimit = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentflow.yaml")
	content := `
environment: production
logger:
  level: warn
  pretty_print: false
event_bus:
  buffer_size: 2048
scheduler:
  max_parallel_steps: 7
  default_timeout: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, cfg.Environment)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Equal(t, 2048, cfg.EventBus.BufferSize)
	assert.Equal(t, 7, cfg.Scheduler.MaxParallelSteps)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.DefaultTimeout)

	// Untouched sections keep their defaults.
	assert.Equal(t, 100*time.Millisecond, cfg.EventBus.FlushInterval)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schedular:\n  max_parallel_steps: 4\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/agentflow.yaml")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}

func TestLoadInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: shouty\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}

func TestAddFlags(t *testing.T) {
	cfg := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--log-level=warn",
		"--max-parallel-steps=8",
		"--telemetry-sampling-rate=0.25",
	}))

	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Equal(t, 8, cfg.Scheduler.MaxParallelSteps)
	assert.Equal(t, 0.25, cfg.Telemetry.Sampling.Rate)
	require.NoError(t, cfg.Validate())
}

func TestDumpRoundTrip(t *testing.T) {
	cfg := Preset(PresetProduction)
	out, err := cfg.Dump()
	require.NoError(t, err)
	assert.Contains(t, string(out), "environment: production")
	assert.Contains(t, string(out), "buffer_size: 5000")
}

func TestStringDoesNotLeakRedactList(t *testing.T) {
	cfg := Default()
	s := cfg.String()
	assert.NotContains(t, s, "password")
	assert.Contains(t, s, "development")
}
