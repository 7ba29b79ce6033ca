package sched

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Configuration keys consumed by this package.
const (
	KeyLearningRate                 = "learning_rate"
	KeyLearningRateControl          = "learning_rate_control"
	KeyErrorMeasure                 = "learning_rate_control_error_measure"
	KeyLearningRateFile             = "learning_rate_file"
	KeyNewbobRelativeErrorThreshold = "newbob_relative_error_threshold"
	KeyNewbobLearningRateDecay      = "newbob_learning_rate_decay"
	KeyNewbobErrorThreshold         = "newbob_error_threshold"
)

// Config is a flat key-value view over a training configuration mapping.
// Lookups fall back to caller-supplied defaults for unset keys.
type Config struct {
	values map[string]any
}

// NewConfig wraps an already-parsed configuration mapping.
func NewConfig(values map[string]any) *Config {
	if values == nil {
		values = map[string]any{}
	}
	return &Config{values: values}
}

// LoadConfig reads a YAML configuration file into a Config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &Config{values: values}, nil
}

// Float returns the float value for key, or def when the key is unset.
// Integer and numeric-string values are converted; anything else logs a
// warning and falls back to def.
func (c *Config) Float(key string, def float64) float64 {
	v, ok := c.values[key]
	if !ok || v == nil {
		return def
	}
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f
		}
	}
	logrus.Warnf("config key %q: cannot interpret %v as float, using default %g", key, v, def)
	return def
}

// Value returns the string value for key, or def when the key is unset.
func (c *Config) Value(key, def string) string {
	v, ok := c.values[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// FromConfig assembles the configured rate policy and its history store.
// The policy name comes from learning_rate_control (default "constant"); the
// history file named by learning_rate_file is loaded when it exists.
func FromConfig(cfg *Config) (*History, error) {
	name := cfg.Value(KeyLearningRateControl, "constant")
	policy, err := NewRatePolicy(name, cfg)
	if err != nil {
		return nil, err
	}
	return NewHistory(
		cfg.Float(KeyLearningRate, 1.0),
		cfg.Value(KeyErrorMeasure, ""),
		cfg.Value(KeyLearningRateFile, ""),
		policy,
	)
}
