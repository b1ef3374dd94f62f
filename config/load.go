package config

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/kart-io/agentflow/errors"
)

// Load reads configuration from the given file path, layered over the
// development defaults. Environment variables prefixed with AGENTFLOW_
// override file values (AGENTFLOW_LOGGER_LEVEL, AGENTFLOW_SCHEDULER_MAX_PARALLEL_STEPS,
// ...). Unknown keys in the file are rejected.
func Load(path string) (*Config, error) {
	return load(path, Default())
}

// LoadPreset is Load layered over a named preset instead of the defaults.
func LoadPreset(path string, preset PresetName) (*Config, error) {
	return load(path, Preset(preset))
}

func load(path string, base *Config) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to read config file").
				WithComponent("config").
				WithOperation("load").
				WithContext("path", path)
		}
	}

	cfg := base
	err := v.Unmarshal(cfg,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)),
		func(dc *mapstructure.DecoderConfig) { dc.ErrorUnused = true },
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to parse config").
			WithComponent("config").
			WithOperation("load").
			WithContext("path", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid configuration").
			WithComponent("config").
			WithOperation("load")
	}

	return cfg, nil
}
