// Package jobs provides the named jobs that config-declared timers refer to.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"timerbox/internal/timers"
	logx "timerbox/pkg/logx"
)

// ErrUnknownJob is returned by Lookup for names not in the catalog.
var ErrUnknownJob = errors.New("unknown job")

// Factory builds a fresh Job. Stateful jobs (count) keep their state per
// built instance, so two timers never share a counter.
type Factory func() timers.Job

type Catalog struct {
	mu  sync.RWMutex
	log logx.Logger
	m   map[string]Factory
}

// NewCatalog returns a catalog with the built-in jobs registered.
func NewCatalog(log logx.Logger) *Catalog {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Catalog{log: log.With(logx.String("comp", "jobs")), m: map[string]Factory{}}
	c.registerBuiltins()
	return c
}

// Register adds or replaces a named job.
func (c *Catalog) Register(name string, f Factory) {
	c.mu.Lock()
	c.m[name] = f
	c.mu.Unlock()
}

func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.m))
}

func (c *Catalog) Lookup(name string) (timers.Job, error) {
	c.mu.RLock()
	f, ok := c.m[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return f(), nil
}

// Resolve returns a copy of rec whose "job" string is replaced by the
// catalog job of that name. Unknown names and non-string values are left
// as they are, so the registry's own validation reports them.
func (c *Catalog) Resolve(rec map[string]any) map[string]any {
	if rec == nil {
		return nil
	}
	out := maps.Clone(rec)
	name, ok := rec["job"].(string)
	if !ok {
		return out
	}
	if job, err := c.Lookup(name); err == nil {
		out["job"] = job
	} else {
		c.log.Warn("timer refers to unknown job", logx.String("job", name), logx.Any("timer", rec["name"]))
	}
	return out
}

func (c *Catalog) registerBuiltins() {
	c.Register("noop", func() timers.Job {
		return func(context.Context, ...any) (any, error) { return nil, nil }
	})
	c.Register("echo", func() timers.Job { return echo })
	c.Register("sum", func() timers.Job { return sum })
	c.Register("count", func() timers.Job {
		var n atomic.Int64
		return func(context.Context, ...any) (any, error) { return n.Add(1), nil }
	})
	c.Register("fail", func() timers.Job { return fail })
	c.Register("panic", func() timers.Job {
		return func(_ context.Context, p ...any) (any, error) {
			if len(p) > 0 {
				panic(p[0])
			}
			panic("job panicked")
		}
	})
	c.Register("sleep", func() timers.Job { return sleep })
	c.Register("log", func() timers.Job {
		return func(_ context.Context, p ...any) (any, error) {
			c.log.Info("timer job", logx.Any("params", p))
			return len(p), nil
		}
	})
}

// echo returns its single param, or all of them.
func echo(_ context.Context, p ...any) (any, error) {
	if len(p) == 1 {
		return p[0], nil
	}
	return p, nil
}

func sum(_ context.Context, p ...any) (any, error) {
	var total float64
	for i, v := range p {
		f, ok := number(v)
		if !ok {
			return nil, fmt.Errorf("sum: param %d is %T, not a number", i, v)
		}
		total += f
	}
	return total, nil
}

func fail(_ context.Context, p ...any) (any, error) {
	if len(p) > 0 {
		return nil, fmt.Errorf("%v", p[0])
	}
	return nil, errors.New("job failed")
}

// sleep waits for its first param in milliseconds, or until ctx is done.
func sleep(ctx context.Context, p ...any) (any, error) {
	var ms float64
	if len(p) > 0 {
		f, ok := number(p[0])
		if !ok {
			return nil, fmt.Errorf("sleep: duration is %T, not a number", p[0])
		}
		ms = f
	}
	d := time.Duration(ms * float64(time.Millisecond))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return d.Milliseconds(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
