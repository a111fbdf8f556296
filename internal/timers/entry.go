package timers

import (
	"context"
	"sync/atomic"
	"time"

	"timerbox/internal/eventbus"
	"timerbox/internal/task/engine"
	logx "timerbox/pkg/logx"
)

type entry struct {
	name     string
	delay    time.Duration
	interval bool
	job      Job
	params   []any

	// task is non-nil iff the entry is Active.
	task *binding
}

// binding ties an entry (or the watchdog) to one scheduler trigger.
// Once canceled, a late callback from that trigger is ignored.
type binding struct {
	canceled atomic.Bool
	cancel   func()
}

func (b *binding) stop() {
	b.canceled.Store(true)
	if b.cancel != nil {
		b.cancel()
	}
}

// TimerEvent is the payload of timer.* bus events.
type TimerEvent struct {
	Name     string        `json:"name"`
	Index    int           `json:"index"`
	Delay    time.Duration `json:"delay"`
	Interval bool          `json:"interval"`
	Error    string        `json:"error,omitempty"`
}

func (e *entry) event(idx int) TimerEvent {
	return TimerEvent{Name: e.name, Index: idx, Delay: e.delay, Interval: e.interval}
}

// startTaskLocked moves e from Inactive to Active. Call with r.mu held.
func (r *Registry) startTaskLocked(e *entry) {
	b := &binding{}
	fire := func() { r.fire(e, b) }
	if e.interval {
		b.cancel = r.sched.Every(e.name, e.delay, fire)
	} else {
		b.cancel = r.sched.After(e.name, e.delay, fire)
	}
	e.task = b
}

// clearTaskLocked moves e from Active to Inactive. Callers check e.task first.
// Call with r.mu held.
func (r *Registry) clearTaskLocked(e *entry) {
	e.task.stop()
	e.task = nil
}

// fire runs on the scheduler's goroutine for every trigger of e.
func (r *Registry) fire(e *entry, b *binding) {
	r.mu.Lock()
	if b.canceled.Load() {
		r.mu.Unlock()
		return
	}
	// The one-shot primitive does not report completion; drop the handle here.
	if !e.interval && e.task == b {
		e.task = nil
	}
	r.mu.Unlock()

	r.publish(eventbus.TimerFired, e.event(-1))
	r.dispatch(e)
}

func (r *Registry) dispatch(e *entry) {
	if r.exec == nil {
		_ = r.invoke(r.ctx, e)
		return
	}
	err := r.exec.Enqueue(engine.Task{
		Name: "timer:" + e.name,
		Run:  func(ctx context.Context) error { return r.invoke(ctx, e) },
	})
	if err != nil && r.warn.allow("dispatch:"+e.name) {
		r.log.Warn("timer dispatch failed", logx.String("timer", e.name), logx.Err(err))
	}
}

// invoke calls the job and journals the outcome. The returned error only
// feeds the executor's history; it never reaches registry callers.
func (r *Registry) invoke(ctx context.Context, e *entry) error {
	out, jerr := callJob(ctx, e.job, e.params)
	rec := LogRecord{Name: e.name, In: e.params, Out: out, Created: r.now()}
	if jerr != nil {
		rec.Error = jerr
	}
	r.journal.append(rec)

	if jerr != nil {
		if r.warn.allow("job:" + e.name) {
			r.log.Warn("timer job failed", logx.String("timer", e.name), logx.String("kind", jerr.Kind), logx.String("msg", jerr.Message), logx.Stack(jerr.Stack))
		}
		ev := e.event(-1)
		ev.Error = jerr.Error()
		r.publish(eventbus.TimerFailed, ev)
		return jerr
	}
	r.log.Trace("timer job completed", logx.String("timer", e.name))
	r.publish(eventbus.TimerCompleted, e.event(-1))
	return nil
}
