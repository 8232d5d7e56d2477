// Package gwconfig is the gateway's configuration surface. It loads a YAML
// document (original_source's settings.{hpp,cpp} used an ini-style file;
// SPEC_FULL.md's domain stack calls for YAML instead, named but not grounded in
// actual pack code beyond the dependency manifests listing
// gopkg.in/yaml.v3 — see DESIGN.md) into a typed struct, with defaults
// applied for anything left unset.
package gwconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full gateway configuration. Only RequestTimeout is read by
// the dispatch core itself (spec.md §6); everything else configures
// collaborators (transport, processors, throttling).
type Config struct {
	Listen string `yaml:"listen"`

	// RequestTimeoutSeconds is the rolling per-request deadline fed to
	// dispatch.New. Restarted on every reply activity, per spec.md §4.4.4.
	RequestTimeoutSeconds float64 `yaml:"request_timeout_seconds"`

	Processors ProcessorsConfig `yaml:"processors"`

	LogLevel string `yaml:"log_level"`
}

// ProcessorsConfig carries the per-class concurrency caps and throttle rates
// that original_source's SProcessorConcurrency/SProcessorThrottling read
// from settings.ini, one entry per registered class name.
type ProcessorsConfig struct {
	Limits   map[string]uint32          `yaml:"limits"`
	Throttle map[string]ThrottleConfig `yaml:"throttle"`
}

// ThrottleConfig is a sliding-window rate: N events per Window. Each class
// has at most one ThrottleConfig, so only a single window per class can be
// configured.
type ThrottleConfig struct {
	Window time.Duration `yaml:"window"`
	Events int           `yaml:"events"`
}

func defaults() Config {
	return Config{
		Listen:                ":8080",
		RequestTimeoutSeconds: 10,
		LogLevel:              "info",
	}
}

// Load reads and parses path, applying defaults for zero-valued fields the
// file leaves unset.
func Load(path string) (Config, error) {
	cfg := defaults()

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("gwconfig: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("gwconfig: parsing %s: %w", path, err)
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		return Config{}, fmt.Errorf("gwconfig: request_timeout_seconds must be positive, got %v", cfg.RequestTimeoutSeconds)
	}
	return cfg, nil
}

// RequestTimeout converts the configured seconds into a time.Duration for
// dispatch.New.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds * float64(time.Second))
}

// IPRates converts one class's ThrottleConfig map into the
// dispatch.Registration.IPRates shape (nanosecond-duration key -> count).
func (c Config) IPRates(className string) map[int64]int {
	tc, ok := c.Processors.Throttle[className]
	if !ok || tc.Events <= 0 || tc.Window <= 0 {
		return nil
	}
	return map[int64]int{int64(tc.Window): tc.Events}
}

// Limit returns the configured concurrency cap for className, or def if
// unset.
func (c Config) Limit(className string, def uint32) uint32 {
	if v, ok := c.Processors.Limits[className]; ok {
		return v
	}
	return def
}
