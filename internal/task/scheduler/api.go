package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	logx "timerbox/pkg/logx"
)

// Every registers fn to run every period until the returned cancel func is
// called. Cancel is idempotent; after it returns the cron loop will not start
// fn again.
func (s *Service) Every(name string, period time.Duration, fn func()) (cancel func()) {
	if period < MinEvery {
		period = MinEvery
	}
	id := s.seq.Add(1)

	s.mu.Lock()
	eid := s.c.Schedule(everySchedule{every: period}, cron.FuncJob(fn))
	s.every[id] = everyDef{name: name, every: period, entryID: eid}
	s.mu.Unlock()

	s.log.Trace("trigger registered", logx.String("name", name), logx.String("kind", string(KindEvery)), logx.Duration("every", period))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.every, id)
			s.mu.Unlock()
			s.c.Remove(eid)
			s.log.Trace("trigger canceled", logx.String("name", name), logx.String("kind", string(KindEvery)))
		})
	}
}

// After runs fn once after delay unless the returned cancel func is called
// first. A negative delay is treated as 0.
func (s *Service) After(name string, delay time.Duration, fn func()) (cancel func()) {
	if delay < 0 {
		delay = 0
	}
	id := s.seq.Add(1)
	def := &onceDef{name: name, due: time.Now().Add(delay)}

	s.tmu.Lock()
	def.timer = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		_, live := s.once[id]
		delete(s.once, id)
		s.tmu.Unlock()
		if !live {
			return
		}
		fn()
	})
	s.once[id] = def
	s.tmu.Unlock()

	s.log.Trace("trigger registered", logx.String("name", name), logx.String("kind", string(KindOnce)), logx.Duration("delay", delay))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.tmu.Lock()
			def.timer.Stop()
			delete(s.once, id)
			s.tmu.Unlock()
		})
	}
}

// Snapshot lists live triggers ordered by next fire time.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.running}
	for id, d := range s.every {
		snap.Triggers = append(snap.Triggers, TriggerInfo{
			ID:    id,
			Name:  d.name,
			Kind:  KindEvery,
			Every: d.every,
			Next:  s.c.Entry(d.entryID).Next,
		})
	}
	s.mu.Unlock()

	s.tmu.Lock()
	for id, d := range s.once {
		snap.Triggers = append(snap.Triggers, TriggerInfo{ID: id, Name: d.name, Kind: KindOnce, Next: d.due})
	}
	s.tmu.Unlock()

	sort.Slice(snap.Triggers, func(i, j int) bool {
		a, b := snap.Triggers[i], snap.Triggers[j]
		if !a.Next.Equal(b.Next) {
			return a.Next.Before(b.Next)
		}
		return a.ID < b.ID
	})
	return snap
}
