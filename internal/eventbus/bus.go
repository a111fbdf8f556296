package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the registry and the task engine.
const (
	TimerAdded       = "timer.added"
	TimerRemoved     = "timer.removed"
	TimerActivated   = "timer.activated"
	TimerDeactivated = "timer.deactivated"
	TimerFired       = "timer.fired"
	TimerCompleted   = "timer.completed"
	TimerFailed      = "timer.failed"
	WatchdogArmed    = "watchdog.armed"
	WatchdogFired    = "watchdog.fired"

	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskDropped  = "task.dropped"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch between snapshot and send.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Wait blocks until an event of type typ (and matching pred, if non-nil)
// arrives on ch or timeout elapses.
func Wait(ch <-chan Event, typ string, timeout time.Duration, pred func(Event) bool) (Event, bool) {
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return Event{}, false
			}
			if e.Type != typ {
				continue
			}
			if pred != nil && !pred(e) {
				continue
			}
			return e, true
		case <-tmr.C:
			return Event{}, false
		}
	}
}
