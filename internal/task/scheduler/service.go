package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	logx "timerbox/pkg/logx"
)

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "scheduler"))
	cl := cronLogger{log: log}
	return &Service{
		log: log,
		c: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		every: map[uint64]everyDef{},
		once:  map[uint64]*onceDef{},
	}
}

// Start starts the cron loop. Repeating triggers registered before Start
// begin firing now; one-shot triggers run independently of Start.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.c.Start()
	s.running = true
	s.log.Debug("scheduler started", logx.Int("every", len(s.every)))
}

// Stop stops the cron loop and all pending one-shot timers.
// It waits for in-flight cron callbacks until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()

	if running {
		select {
		case <-s.c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	n := len(s.once)
	for id, d := range s.once {
		d.timer.Stop()
		delete(s.once, id)
	}
	s.tmu.Unlock()

	s.log.Debug("scheduler stopped", logx.Int("once_dropped", n))
}

// cronLogger adapts logx to cron.Logger. Cron logs every wake-up at info,
// which is trace-level noise here.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if !l.log.Enabled(logx.LevelTrace) {
		return
	}
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		if t, ok := kv[i+1].(time.Time); ok {
			out = append(out, logx.Time(k, t))
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
