package engine

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"timerbox/internal/eventbus"
	logx "timerbox/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t, ok := <-queue:
			if !ok {
				return
			}
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, t)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	s.log.Trace("task.started", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Time: start, Data: TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay}})
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if qt.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
	}
	err := runGuarded(runCtx, qt.task.Run)
	if cancel != nil {
		cancel()
	}

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, Duration: dur, QueueDelay: queueDelay}
	if err != nil {
		item.Error = err.Error()
	}
	s.record(item)

	if err != nil {
		atomic.AddUint64(&s.failed, 1)
		fields := []logx.Field{logx.String("task", qt.task.Name), logx.Err(err), logx.Duration("dur", dur)}
		if pe, ok := err.(*PanicError); ok {
			fields = append(fields, logx.Stack(pe.Stack))
		}
		s.log.Debug("task.failed", fields...)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Data: TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Error: item.Error}})
		}
	} else {
		atomic.AddUint64(&s.completed, 1)
		if dur >= 750*time.Millisecond {
			s.log.Info("task.completed", logx.String("task", qt.task.Name), logx.Duration("dur", dur))
		} else {
			s.log.Trace("task.completed", logx.String("task", qt.task.Name), logx.Duration("dur", dur))
		}
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Data: TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur}})
		}
	}
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	historySize := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

// runGuarded converts a panic in run into a *PanicError so one bad task
// cannot kill a worker.
func runGuarded(ctx context.Context, run func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return run(ctx)
}
