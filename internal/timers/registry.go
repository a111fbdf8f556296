package timers

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"timerbox/internal/eventbus"
	"timerbox/internal/task/engine"
	logx "timerbox/pkg/logx"
)

// Results of Pause and Resume besides a valid index.
const (
	// NotFound means no timer has the given name.
	NotFound = -1
	// Unchanged means the timer was already in the requested state.
	Unchanged = -2
)

// DefaultWatchdogGrace is added to the longest delay when arming the watchdog.
const DefaultWatchdogGrace = 10 * time.Second

// Scheduler provides the trigger primitives. The returned funcs cancel the
// trigger; after cancel returns the trigger must not start fn again.
type Scheduler interface {
	Every(name string, period time.Duration, fn func()) (cancel func())
	After(name string, delay time.Duration, fn func()) (cancel func())
}

// Executor runs job invocations handed over by triggers.
type Executor interface {
	Enqueue(t engine.Task) error
}

type Options struct {
	// Scheduler is required.
	Scheduler Scheduler
	// Executor is optional. Without one, jobs run on the trigger goroutine.
	Executor Executor

	Log logx.Logger
	Bus eventbus.Bus

	// Output receives Print. Defaults to stdout.
	Output io.Writer

	// WatchdogGrace defaults to DefaultWatchdogGrace when <= 0.
	WatchdogGrace time.Duration

	// Now stamps LogRecord.Created. Defaults to time.Now.
	Now func() time.Time
}

// Registry is a set of named timers. It is safe for concurrent use; jobs may
// call back into it.
type Registry struct {
	mu       sync.Mutex
	entries  []*entry
	started  bool
	watchdog *binding
	wdDue    time.Time

	sched Scheduler
	exec  Executor
	log   logx.Logger
	bus   eventbus.Bus
	out   io.Writer
	grace time.Duration
	now   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	journal journal
	warn    warnLimiter
}

func New(opt Options) *Registry {
	if opt.Scheduler == nil {
		panic("timers: Options.Scheduler is required")
	}
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Output == nil {
		opt.Output = logx.Stdout()
	}
	if opt.WatchdogGrace <= 0 {
		opt.WatchdogGrace = DefaultWatchdogGrace
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		sched:  opt.Scheduler,
		exec:   opt.Executor,
		log:    log.With(logx.String("comp", "timers")),
		bus:    opt.Bus,
		out:    opt.Output,
		grace:  opt.WatchdogGrace,
		now:    opt.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add validates def and appends it as an Inactive entry holding params.
// Nothing is added when validation fails.
func (r *Registry) Add(def Definition, params ...any) error {
	if err := def.validate(); err != nil {
		return err
	}
	stored := append([]any{}, params...)

	r.mu.Lock()
	if r.indexLocked(def.Name) >= 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicateName, def.Name)
	}
	e := &entry{name: def.Name, delay: def.Delay, interval: def.Interval, job: def.Job, params: stored}
	r.entries = append(r.entries, e)
	idx := len(r.entries) - 1
	r.mu.Unlock()

	r.log.Debug("timer added", logx.String("timer", def.Name), logx.Duration("delay", def.Delay), logx.Bool("interval", def.Interval), logx.Int("params", len(stored)))
	r.publish(eventbus.TimerAdded, e.event(idx))
	return nil
}

// AddAny is Add for a loosely typed definition (see ParseDefinition).
func (r *Registry) AddAny(v any, params ...any) error {
	def, err := ParseDefinition(v)
	if err != nil {
		return err
	}
	return r.Add(def, params...)
}

// MustAdd is Add for chaining; it panics on error.
func (r *Registry) MustAdd(def Definition, params ...any) *Registry {
	if err := r.Add(def, params...); err != nil {
		panic(err)
	}
	return r
}

// Remove pauses the named timer and deletes it if the pause took effect.
// A timer that is already Inactive is left in place.
func (r *Registry) Remove(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	r.mu.Lock()
	idx, e := r.pauseLocked(name)
	if idx >= 0 {
		r.entries = slices.Delete(r.entries, idx, idx+1)
	}
	r.mu.Unlock()

	if idx >= 0 {
		r.warn.forget("job:" + name)
		r.warn.forget("dispatch:" + name)
		r.log.Debug("timer removed", logx.String("timer", name), logx.Int("index", idx))
		r.publish(eventbus.TimerDeactivated, e.event(idx))
		r.publish(eventbus.TimerRemoved, e.event(idx))
	} else if idx == Unchanged {
		r.log.Debug("timer not removed: inactive", logx.String("timer", name))
	}
	return nil
}

// Start activates every Inactive timer and re-arms the watchdog at the
// longest delay plus the grace period. Active timers are left untouched.
func (r *Registry) Start() {
	r.mu.Lock()
	var (
		maxDelay  time.Duration
		activated []TimerEvent
	)
	for i, e := range r.entries {
		if e.task == nil {
			r.startTaskLocked(e)
			activated = append(activated, e.event(i))
		}
		maxDelay = max(maxDelay, e.delay)
	}
	r.started = true
	due := r.armWatchdogLocked(maxDelay)
	total := len(r.entries)
	r.mu.Unlock()

	r.log.Info("timers started", logx.Int("timers", total), logx.Int("activated", len(activated)), logx.Duration("watchdog_in", maxDelay+r.grace))
	for _, ev := range activated {
		r.publish(eventbus.TimerActivated, ev)
	}
	r.publish(eventbus.WatchdogArmed, WatchdogEvent{Due: due, MaxDelay: maxDelay})
}

// Stop deactivates every Active timer. Definitions are kept.
func (r *Registry) Stop() {
	r.mu.Lock()
	var deactivated []TimerEvent
	for i, e := range r.entries {
		if e.task != nil {
			r.clearTaskLocked(e)
			deactivated = append(deactivated, e.event(i))
		}
	}
	r.started = false
	r.mu.Unlock()

	r.log.Info("timers stopped", logx.Int("deactivated", len(deactivated)))
	for _, ev := range deactivated {
		r.publish(eventbus.TimerDeactivated, ev)
	}
}

// Pause deactivates the named timer and returns its index. It returns
// NotFound for an unknown name and Unchanged if the timer is not Active.
func (r *Registry) Pause(name string) (int, error) {
	if name == "" {
		return NotFound, ErrInvalidName
	}
	r.mu.Lock()
	idx, e := r.pauseLocked(name)
	r.mu.Unlock()

	if idx >= 0 {
		r.log.Debug("timer paused", logx.String("timer", name), logx.Int("index", idx))
		r.publish(eventbus.TimerDeactivated, e.event(idx))
	}
	return idx, nil
}

// Resume activates the named timer and returns its index. It returns
// NotFound for an unknown name and Unchanged if the timer is already Active.
func (r *Registry) Resume(name string) (int, error) {
	if name == "" {
		return NotFound, ErrInvalidName
	}
	r.mu.Lock()
	idx := r.indexLocked(name)
	var e *entry
	switch {
	case idx < 0:
	case r.entries[idx].task != nil:
		idx = Unchanged
	default:
		e = r.entries[idx]
		r.startTaskLocked(e)
	}
	r.mu.Unlock()

	if e != nil {
		r.log.Debug("timer resumed", logx.String("timer", name), logx.Int("index", idx))
		r.publish(eventbus.TimerActivated, e.event(idx))
	}
	return idx, nil
}

// pauseLocked returns the entry's index (and the entry) if it was Active.
func (r *Registry) pauseLocked(name string) (int, *entry) {
	idx := r.indexLocked(name)
	if idx < 0 {
		return NotFound, nil
	}
	e := r.entries[idx]
	if e.task == nil {
		return Unchanged, nil
	}
	r.clearTaskLocked(e)
	return idx, e
}

func (r *Registry) indexLocked(name string) int {
	for i, e := range r.entries {
		if e.name == name {
			return i
		}
	}
	return NotFound
}

// Print writes the execution log, oldest first, to the configured output.
func (r *Registry) Print() {
	if err := r.PrintTo(r.out); err != nil {
		r.log.Warn("print failed", logx.Err(err))
	}
}

// PrintTo writes the execution log to w, one JSON record per line.
func (r *Registry) PrintTo(w io.Writer) error {
	return writeRecords(w, r.journal.snapshot())
}

// Logs returns a copy of the execution log.
func (r *Registry) Logs() []LogRecord { return r.journal.snapshot() }

// Close stops every timer, disarms the watchdog and cancels the context
// passed to inline jobs.
func (r *Registry) Close() {
	r.Stop()
	r.mu.Lock()
	if r.watchdog != nil {
		r.watchdog.stop()
		r.watchdog = nil
		r.wdDue = time.Time{}
	}
	r.mu.Unlock()
	r.cancel()
}

func (r *Registry) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
