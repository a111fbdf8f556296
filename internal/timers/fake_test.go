package timers

import (
	"sync"
	"time"
)

// fakeSched records triggers and fires them only when told to.
type fakeSched struct {
	mu       sync.Mutex
	triggers []*fakeTrigger
}

type fakeTrigger struct {
	name     string
	every    bool
	d        time.Duration
	fn       func()
	canceled bool
	fired    int
}

func (s *fakeSched) add(name string, every bool, d time.Duration, fn func()) func() {
	tr := &fakeTrigger{name: name, every: every, d: d, fn: fn}
	s.mu.Lock()
	s.triggers = append(s.triggers, tr)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		tr.canceled = true
		s.mu.Unlock()
	}
}

func (s *fakeSched) Every(name string, period time.Duration, fn func()) func() {
	return s.add(name, true, period, fn)
}

func (s *fakeSched) After(name string, delay time.Duration, fn func()) func() {
	return s.add(name, false, delay, fn)
}

// live returns the live triggers registered under name.
func (s *fakeSched) live(name string) []*fakeTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTrigger
	for _, tr := range s.triggers {
		if tr.name == name && !tr.canceled && (tr.every || tr.fired == 0) {
			out = append(out, tr)
		}
	}
	return out
}

// fire triggers every live trigger named name once and reports how many ran.
func (s *fakeSched) fire(name string) int {
	trs := s.live(name)
	for _, tr := range trs {
		s.mu.Lock()
		tr.fired++
		s.mu.Unlock()
		tr.fn()
	}
	return len(trs)
}

// fireStale runs the callback of a canceled trigger, mimicking a timer that
// was already on its way when it got canceled.
func (s *fakeSched) fireStale(name string) int {
	s.mu.Lock()
	var trs []*fakeTrigger
	for _, tr := range s.triggers {
		if tr.name == name && tr.canceled {
			trs = append(trs, tr)
		}
	}
	s.mu.Unlock()
	for _, tr := range trs {
		tr.fn()
	}
	return len(trs)
}
