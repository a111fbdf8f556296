package timers

import (
	"time"

	"timerbox/internal/eventbus"
	logx "timerbox/pkg/logx"
)

// WatchdogEvent is the payload of watchdog.* bus events.
type WatchdogEvent struct {
	Due      time.Time     `json:"due"`
	MaxDelay time.Duration `json:"max_delay"`
	Removed  []string      `json:"removed,omitempty"`
}

// armWatchdogLocked replaces any pending watchdog with one that fires after
// maxDelay plus the grace period. Call with r.mu held.
func (r *Registry) armWatchdogLocked(maxDelay time.Duration) time.Time {
	if r.watchdog != nil {
		r.watchdog.stop()
	}
	b := &binding{}
	wait := maxDelay + r.grace
	b.cancel = r.sched.After("watchdog", wait, func() { r.fireWatchdog(b, maxDelay) })
	r.watchdog = b
	r.wdDue = r.now().Add(wait)
	return r.wdDue
}

// fireWatchdog removes every registered timer by name. Inactive timers
// survive because Remove only deletes what it could pause.
func (r *Registry) fireWatchdog(b *binding, maxDelay time.Duration) {
	r.mu.Lock()
	if b.canceled.Load() || r.watchdog != b {
		r.mu.Unlock()
		return
	}
	r.watchdog = nil
	r.wdDue = time.Time{}
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	r.mu.Unlock()

	var removed []string
	for _, name := range names {
		before := r.Len()
		_ = r.Remove(name)
		if r.Len() < before {
			removed = append(removed, name)
		}
	}
	r.log.Info("watchdog fired", logx.Int("removed", len(removed)), logx.Int("kept", len(names)-len(removed)))
	r.publish(eventbus.WatchdogFired, WatchdogEvent{MaxDelay: maxDelay, Removed: removed})
}
