package config

import (
	"maps"
	"time"
)

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Registry RegistryConfig `json:"registry"`
	Engine   EngineConfig   `json:"engine"`

	// Timers are kept loosely typed; the registry validates them on add.
	Timers []TimerRecord `json:"timers,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// RegistryConfig controls the timer registry.
//
// WatchdogGrace is a Go duration string added to the longest timer delay
// when the watchdog is armed. Defaults to "10s".
type RegistryConfig struct {
	WatchdogGrace string `json:"watchdog_grace,omitempty"`
	Autostart     bool   `json:"autostart"`
	PrintOnExit   bool   `json:"print_on_exit"`
}

// EngineConfig controls the job execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 1 (jobs run one at a time, in trigger order)
//   - queue_size: 256
//   - history_size: 200
//   - default_timeout: "0s" (disabled)
type EngineConfig struct {
	Workers     int `json:"workers,omitempty"`
	QueueSize   int `json:"queue_size,omitempty"`
	HistorySize int `json:"history_size,omitempty"`

	// DefaultTimeout is a Go duration string (e.g. "10s", "1m").
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// TimerRecord is one declared timer:
//
//	{ "name": "tick", "delay": 500, "interval": true, "job": "echo", "params": ["hi"] }
//
// "job" names a catalog job. "params" is optional.
type TimerRecord map[string]any

func (t TimerRecord) Name() string {
	s, _ := t["name"].(string)
	return s
}

// Params returns the declared params, or nil when absent or not a list.
func (t TimerRecord) Params() []any {
	p, _ := t["params"].([]any)
	return p
}

// Definition returns the record without its params, ready for the registry.
func (t TimerRecord) Definition() map[string]any {
	m := maps.Clone(map[string]any(t))
	delete(m, "params")
	return m
}

// WatchdogGraceDuration parses registry.watchdog_grace; 0 means default.
func (c *Config) WatchdogGraceDuration() (time.Duration, error) {
	return ParseDurationField("registry.watchdog_grace", c.Registry.WatchdogGrace)
}

func (c *Config) EngineTimeout() (time.Duration, error) {
	return ParseDurationField("engine.default_timeout", c.Engine.DefaultTimeout)
}

// Validate checks the parts of the config that do not belong to the
// registry's own validation.
func (c *Config) Validate() error {
	if _, err := c.WatchdogGraceDuration(); err != nil {
		return err
	}
	if _, err := c.EngineTimeout(); err != nil {
		return err
	}
	return nil
}
