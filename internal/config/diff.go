package config

import (
	"slices"
	"sort"
	"strings"

	logx "timerbox/pkg/logx"
)

// TimerChanges lists declared timers by name between two configs. A timer
// whose definition or params changed appears in Changed, not in Added.
type TimerChanges struct {
	Added   []string
	Removed []string
	Changed []string
}

func (c TimerChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// SummarizeConfigChange returns the changed sections, fields for logging,
// and the per-timer changes.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, TimerChanges) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Registry.WatchdogGrace) != strings.TrimSpace(newCfg.Registry.WatchdogGrace) ||
		oldCfg.Registry.Autostart != newCfg.Registry.Autostart ||
		oldCfg.Registry.PrintOnExit != newCfg.Registry.PrintOnExit {
		changed = append(changed, "registry")
		attrs = append(attrs,
			logx.String("registry.watchdog_grace", strings.TrimSpace(newCfg.Registry.WatchdogGrace)),
			logx.Bool("registry.autostart", newCfg.Registry.Autostart),
			logx.Bool("registry.print_on_exit", newCfg.Registry.PrintOnExit),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.workers", newCfg.Engine.Workers),
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
			logx.Int("engine.history_size", newCfg.Engine.HistorySize),
			logx.String("engine.default_timeout", strings.TrimSpace(newCfg.Engine.DefaultTimeout)),
		)
	}

	tc := diffTimers(oldCfg.Timers, newCfg.Timers)
	if !tc.Empty() {
		changed = append(changed, "timers")
		attrs = append(attrs,
			logx.Int("timers.added", len(tc.Added)),
			logx.Int("timers.removed", len(tc.Removed)),
			logx.Int("timers.changed", len(tc.Changed)),
			logx.Int("timers.total", len(newCfg.Timers)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, tc
}

// diffTimers compares records by name. Records without a string name are
// ignored here; the registry reports them when they are added.
func diffTimers(oldT, newT []TimerRecord) TimerChanges {
	index := func(ts []TimerRecord) (map[string]uint64, []string) {
		m := make(map[string]uint64, len(ts))
		order := make([]string, 0, len(ts))
		for _, t := range ts {
			name := t.Name()
			if name == "" {
				continue
			}
			if _, dup := m[name]; !dup {
				order = append(order, name)
			}
			m[name] = hashValue(t)
		}
		return m, order
	}
	om, oOrder := index(oldT)
	nm, nOrder := index(newT)

	var tc TimerChanges
	for _, name := range nOrder {
		oh, ok := om[name]
		switch {
		case !ok:
			tc.Added = append(tc.Added, name)
		case oh != nm[name]:
			tc.Changed = append(tc.Changed, name)
		}
	}
	for _, name := range oOrder {
		if _, ok := nm[name]; !ok {
			tc.Removed = append(tc.Removed, name)
		}
	}
	slices.Sort(tc.Removed)
	return tc
}
