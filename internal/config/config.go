// Package config loads the driversynth YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"driversynth/internal/constraints"
	"driversynth/internal/logging"
	"driversynth/internal/mangle"
	"driversynth/internal/synth"
)

// DefaultPath is where the CLI looks for a config file.
const DefaultPath = ".driversynth/config.yaml"

// Config holds all driversynth configuration.
type Config struct {
	Inputs    InputsConfig    `yaml:"inputs"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Mangle    MangleConfig    `yaml:"mangle"`
	Store     StoreConfig     `yaml:"store"`
	Watch     WatchConfig     `yaml:"watch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InputsConfig names the catalog, contract and layout files.
type InputsConfig struct {
	Catalog   string `yaml:"catalog"`
	Contracts string `yaml:"contracts"`
	Layout    string `yaml:"layout"`
}

// SynthesisConfig tunes the driver-building loop.
type SynthesisConfig struct {
	Seed     int64  `yaml:"seed"`
	Strategy string `yaml:"strategy"` // grammar, explicit, target
	Target   string `yaml:"target"`
	MaxCalls int    `yaml:"max_calls"`
	MaxArgs  int    `yaml:"max_args"`
	Attempts int    `yaml:"attempts"`
	Workers  int    `yaml:"workers"`

	MaxArraySize  int `yaml:"max_array_size"`
	DoublePtrSize int `yaml:"double_ptr_size"`

	CompatStrategy    string `yaml:"compat_strategy"`
	VoidPointerPolicy string `yaml:"void_pointer_policy"`
	SetterExclusion   string `yaml:"setter_exclusion"`
	ReturnLengths     bool   `yaml:"return_lengths"`

	AttemptTimeout string `yaml:"attempt_timeout"`
}

// MangleConfig configures the knowledge base.
type MangleConfig struct {
	FactLimit    int    `yaml:"fact_limit"`
	QueryTimeout string `yaml:"query_timeout"`
}

// StoreConfig configures the corpus.
type StoreConfig struct {
	Dir string `yaml:"dir"`
}

// WatchConfig configures the input watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// LoggingConfig configures category logging.
type LoggingConfig struct {
	Dir        string          `yaml:"dir"`
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// Strategies lists the accepted synthesis strategies.
var Strategies = []string{"grammar", "explicit", "target"}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	limits := constraints.DefaultLimits()
	return &Config{
		Inputs: InputsConfig{
			Catalog:   "apis.json",
			Contracts: "conditions.json",
			Layout:    "layout.yaml",
		},
		Synthesis: SynthesisConfig{
			Seed:              1,
			Strategy:          "grammar",
			MaxCalls:          10,
			Attempts:          64,
			Workers:           4,
			MaxArraySize:      limits.MaxArraySize,
			DoublePtrSize:     limits.DoublePtrSize,
			CompatStrategy:    constraints.FilePathOnly{}.Name(),
			VoidPointerPolicy: string(constraints.VoidPointerExcludeAmbiguous),
			SetterExclusion:   string(constraints.SetterSole),
			AttemptTimeout:    "30s",
		},
		Mangle: MangleConfig{
			FactLimit:    200000,
			QueryTimeout: "10s",
		},
		Store: StoreConfig{
			Dir: ".driversynth/corpus",
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
		Logging: LoggingConfig{
			Dir:   ".driversynth/logs",
			Level: "info",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. Unparsable
// numbers are ignored with a warning.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DRIVERSYNTH_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Synthesis.Seed = n
		} else {
			logging.BootWarn("ignoring DRIVERSYNTH_SEED=%q: %v", v, err)
		}
	}
	if v := os.Getenv("DRIVERSYNTH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Synthesis.Workers = n
		} else {
			logging.BootWarn("ignoring DRIVERSYNTH_WORKERS=%q: %v", v, err)
		}
	}
	if v := os.Getenv("DRIVERSYNTH_CORPUS"); v != "" {
		c.Store.Dir = v
	}
	if v := os.Getenv("DRIVERSYNTH_COMPAT"); v != "" {
		c.Synthesis.CompatStrategy = v
	}
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// GetAttemptTimeout returns the per-attempt timeout, 0 for none.
func (c *Config) GetAttemptTimeout() time.Duration {
	if c.Synthesis.AttemptTimeout == "" || c.Synthesis.AttemptTimeout == "0" {
		return 0
	}
	return parseDuration(c.Synthesis.AttemptTimeout, 30*time.Second)
}

// GetQueryTimeout returns the knowledge base query timeout.
func (c *Config) GetQueryTimeout() time.Duration {
	return parseDuration(c.Mangle.QueryTimeout, 10*time.Second)
}

// GetDebounce returns the watcher debounce interval.
func (c *Config) GetDebounce() time.Duration {
	return parseDuration(c.Watch.Debounce, 500*time.Millisecond)
}

// LoggingSettings converts the logging section.
func (c *Config) LoggingSettings() logging.Settings {
	return logging.Settings{
		DebugMode:  c.Logging.DebugMode,
		Level:      c.Logging.Level,
		JSONFormat: c.Logging.JSONFormat,
		Categories: c.Logging.Categories,
	}
}

// KBConfig converts the mangle section.
func (c *Config) KBConfig() mangle.Config {
	cfg := mangle.DefaultConfig()
	if c.Mangle.FactLimit > 0 {
		cfg.FactLimit = c.Mangle.FactLimit
	}
	cfg.QueryTimeout = c.GetQueryTimeout()
	return cfg
}

// SessionInputs returns the input file paths.
func (c *Config) SessionInputs() synth.Inputs {
	return synth.Inputs{
		Catalog:   c.Inputs.Catalog,
		Contracts: c.Inputs.Contracts,
		Layout:    c.Inputs.Layout,
	}
}

// SynthOptions converts the synthesis section. Call Validate first;
// unknown policy names fall back to the defaults here.
func (c *Config) SynthOptions() synth.Options {
	opts := synth.DefaultOptions()
	s := c.Synthesis
	if compat, err := constraints.ParseCompatStrategy(s.CompatStrategy); err == nil {
		opts.Compat = compat
	}
	if vp, err := constraints.ParseVoidPointerPolicy(s.VoidPointerPolicy); err == nil {
		opts.Roles.VoidPointer = vp
	}
	if se, err := constraints.ParseSetterExclusion(s.SetterExclusion); err == nil {
		opts.Roles.Setters = se
	}
	if s.MaxArraySize > 0 {
		opts.Limits.MaxArraySize = s.MaxArraySize
	}
	if s.DoublePtrSize > 0 {
		opts.Limits.DoublePtrSize = s.DoublePtrSize
	}
	opts.MaxArgs = s.MaxArgs
	opts.ReturnLengths = s.ReturnLengths
	return opts
}

// Validate checks ranges and policy names.
func (c *Config) Validate() error {
	s := c.Synthesis
	if s.MaxCalls <= 0 {
		return fmt.Errorf("synthesis.max_calls must be positive, got %d", s.MaxCalls)
	}
	if s.Attempts <= 0 {
		return fmt.Errorf("synthesis.attempts must be positive, got %d", s.Attempts)
	}
	if s.Workers < 0 {
		return fmt.Errorf("synthesis.workers must not be negative, got %d", s.Workers)
	}
	if s.MaxArraySize < 0 || s.DoublePtrSize < 0 {
		return fmt.Errorf("synthesis buffer limits must not be negative")
	}

	valid := false
	for _, st := range Strategies {
		if s.Strategy == st {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid synthesis strategy: %s (valid: %v)", s.Strategy, Strategies)
	}
	if s.Strategy == "target" && s.Target == "" {
		return fmt.Errorf("synthesis.target is required by the target strategy")
	}

	if _, err := constraints.ParseCompatStrategy(s.CompatStrategy); err != nil {
		return err
	}
	if _, err := constraints.ParseVoidPointerPolicy(s.VoidPointerPolicy); err != nil {
		return err
	}
	if _, err := constraints.ParseSetterExclusion(s.SetterExclusion); err != nil {
		return err
	}
	if s.AttemptTimeout != "" && s.AttemptTimeout != "0" {
		if _, err := time.ParseDuration(s.AttemptTimeout); err != nil {
			return fmt.Errorf("invalid synthesis.attempt_timeout: %w", err)
		}
	}
	return nil
}
