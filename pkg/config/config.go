// Package config loads the policy file of a loom server: engine limits, HIL
// timeouts and thresholds, and trigger retention. Connection settings (database,
// event bus, ports) come from CLI flags and the environment instead.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dukex/loom/pkg/engine"
	"github.com/dukex/loom/pkg/hil"
	"github.com/dukex/loom/pkg/triggerindex"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// EnvRetention overrides triggers.retention.
const EnvRetention = "LOOM_TRIGGER_RETENTION"

type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	HIL      HILConfig      `toml:"hil"`
	Triggers TriggersConfig `toml:"triggers"`
}

type EngineConfig struct {
	MaxParallelNodes int      `toml:"max_parallel_nodes" validate:"gte=1,lte=256"`
	NodeTimeout      Duration `toml:"node_timeout" validate:"gte=0"`
	ExecutionTimeout Duration `toml:"execution_timeout" validate:"gte=0"`
	RetryBaseDelay   Duration `toml:"retry_base_delay" validate:"gt=0"`
	RetryMaxDelay    Duration `toml:"retry_max_delay" validate:"gtefield=RetryBaseDelay"`
}

type HILConfig struct {
	WarningLead       Duration `toml:"warning_lead" validate:"gt=0"`
	DefaultTimeout    Duration `toml:"default_timeout" validate:"gt=0"`
	SweepInterval     Duration `toml:"sweep_interval" validate:"gte=1000000000"`
	RelevantThreshold float64  `toml:"relevant_threshold" validate:"gt=0,lte=1"`
	FilteredThreshold float64  `toml:"filtered_threshold" validate:"gte=0,ltfield=RelevantThreshold"`
}

type TriggersConfig struct {
	Retention string `toml:"retention" validate:"oneof=soft hard"`
}

// Duration is a time.Duration written as a Go duration string ("90s", "15m").
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = Duration(parsed)

	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the policy used when no file is given.
func Default() *Config {
	engineDefaults := engine.DefaultConfig()
	hilDefaults := hil.DefaultConfig()

	return &Config{
		Engine: EngineConfig{
			MaxParallelNodes: engineDefaults.MaxParallelNodes,
			NodeTimeout:      Duration(engineDefaults.NodeTimeout),
			ExecutionTimeout: Duration(engineDefaults.ExecutionTimeout),
			RetryBaseDelay:   Duration(engineDefaults.RetryBaseDelay),
			RetryMaxDelay:    Duration(engineDefaults.RetryMaxDelay),
		},
		HIL: HILConfig{
			WarningLead:       Duration(hilDefaults.WarningLead),
			DefaultTimeout:    Duration(hilDefaults.DefaultTimeout),
			SweepInterval:     Duration(time.Minute),
			RelevantThreshold: hilDefaults.RelevantThreshold,
			FilteredThreshold: hilDefaults.FilteredThreshold,
		},
		Triggers: TriggersConfig{Retention: string(triggerindex.RetentionSoft)},
	}
}

// Load reads a TOML policy file over the defaults. Keys the file leaves out keep
// their default. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		err = Parse(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvRetention); v != "" {
		cfg.Triggers.Retention = v
	}

	return cfg, cfg.Validate()
}

// Parse decodes TOML into cfg, rejecting unknown keys.
func Parse(data []byte, cfg *Config) error {
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	err := decoder.Decode(cfg)
	if err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("unknown keys:\n%s", strict.String())
		}

		return fmt.Errorf("parse config: %w", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}

	errs := make([]error, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		errs = append(errs, fmt.Errorf("%s: failed %q validation", fieldError.Namespace(), fieldError.Tag()))
	}

	return errors.Join(errs...)
}

func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxParallelNodes: c.Engine.MaxParallelNodes,
		NodeTimeout:      time.Duration(c.Engine.NodeTimeout),
		ExecutionTimeout: time.Duration(c.Engine.ExecutionTimeout),
		RetryBaseDelay:   time.Duration(c.Engine.RetryBaseDelay),
		RetryMaxDelay:    time.Duration(c.Engine.RetryMaxDelay),
	}
}

func (c *Config) HILConfig() hil.Config {
	return hil.Config{
		WarningLead:       time.Duration(c.HIL.WarningLead),
		DefaultTimeout:    time.Duration(c.HIL.DefaultTimeout),
		RelevantThreshold: c.HIL.RelevantThreshold,
		FilteredThreshold: c.HIL.FilteredThreshold,
	}
}

func (c *Config) Retention() triggerindex.Retention {
	return triggerindex.Retention(c.Triggers.Retention)
}
