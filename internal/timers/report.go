package timers

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	warnEvery      = 5 * time.Second
	maxWarnLimiter = 1024
)

// warnLimiter throttles repeated warnings per key, so an interval timer
// whose job keeps failing logs at most once per warnEvery.
type warnLimiter struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
}

func (w *warnLimiter) allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.m == nil {
		w.m = make(map[string]*rate.Limiter)
	}
	lim := w.m[key]
	if lim == nil {
		if len(w.m) >= maxWarnLimiter {
			clear(w.m)
		}
		lim = rate.NewLimiter(rate.Every(warnEvery), 1)
		w.m[key] = lim
	}
	return lim.Allow()
}

func (w *warnLimiter) forget(key string) {
	w.mu.Lock()
	delete(w.m, key)
	w.mu.Unlock()
}
