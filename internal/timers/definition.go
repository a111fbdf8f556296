package timers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// MaxDelay is the largest accepted timer delay.
const MaxDelay = 5000 * time.Millisecond

// Job is the work bound to a timer. params are the values captured by Add.
type Job func(ctx context.Context, params ...any) (any, error)

// Definition describes a timer. Name and Job are required; Delay must be
// within [0, MaxDelay].
type Definition struct {
	Name     string
	Delay    time.Duration
	Interval bool
	Job      Job
}

func (d Definition) validate() error {
	if d.Delay < 0 || d.Delay > MaxDelay {
		return invalidField("delay", fmt.Sprintf("must be between 0 and %d ms, got %d ms", MaxDelay.Milliseconds(), d.Delay.Milliseconds()))
	}
	if d.Name == "" {
		return missingField("name")
	}
	if d.Job == nil {
		return missingField("job")
	}
	return nil
}

// requiredFields is also the order in which record fields are checked.
var requiredFields = []string{"name", "delay", "interval", "job"}

// ParseDefinition builds a Definition from a loosely typed value, typically a
// record decoded from a config file. It accepts Definition, *Definition and
// map[string]any. For records every present field is type checked first, then
// presence of the required fields. Unknown keys are ignored.
func ParseDefinition(v any) (Definition, error) {
	switch x := v.(type) {
	case Definition:
		return x, nil
	case *Definition:
		if x == nil {
			return Definition{}, fmt.Errorf("%w, got nil", ErrNotRecord)
		}
		return *x, nil
	case map[string]any:
		return parseRecord(x)
	default:
		return Definition{}, fmt.Errorf("%w, got %T", ErrNotRecord, v)
	}
}

func parseRecord(m map[string]any) (Definition, error) {
	if m == nil {
		return Definition{}, fmt.Errorf("%w, got nil", ErrNotRecord)
	}
	var d Definition
	for _, key := range requiredFields {
		raw, ok := m[key]
		if !ok {
			continue
		}
		switch key {
		case "name":
			s, ok := raw.(string)
			if !ok {
				return Definition{}, invalidField("name", "must be a string")
			}
			d.Name = s
		case "delay":
			ms, ok := toMillis(raw)
			if !ok || ms < 0 || ms > float64(MaxDelay.Milliseconds()) {
				return Definition{}, invalidField("delay", fmt.Sprintf("must be a number and cannot be less than 0 or greater than %d", MaxDelay.Milliseconds()))
			}
			d.Delay = time.Duration(ms * float64(time.Millisecond))
		case "interval":
			b, ok := raw.(bool)
			if !ok {
				return Definition{}, invalidField("interval", "must be a boolean")
			}
			d.Interval = b
		case "job":
			j, ok := AsJob(raw)
			if !ok {
				return Definition{}, invalidField("job", "must be a function")
			}
			d.Job = j
		}
	}
	for _, key := range requiredFields {
		if _, ok := m[key]; !ok {
			return Definition{}, missingField(key)
		}
	}
	return d, nil
}

func toMillis(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		v, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = v
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// AsJob adapts the common func shapes to Job. A nil func is not a Job.
func AsJob(v any) (Job, bool) {
	switch fn := v.(type) {
	case Job:
		return fn, fn != nil
	case func(context.Context, ...any) (any, error):
		return Job(fn), fn != nil
	case func(...any) (any, error):
		if fn == nil {
			return nil, false
		}
		return func(_ context.Context, p ...any) (any, error) { return fn(p...) }, true
	case func(...any) any:
		if fn == nil {
			return nil, false
		}
		return func(_ context.Context, p ...any) (any, error) { return fn(p...), nil }, true
	case func() (any, error):
		if fn == nil {
			return nil, false
		}
		return func(context.Context, ...any) (any, error) { return fn() }, true
	case func() any:
		if fn == nil {
			return nil, false
		}
		return func(context.Context, ...any) (any, error) { return fn(), nil }, true
	case func() error:
		if fn == nil {
			return nil, false
		}
		return func(context.Context, ...any) (any, error) { return nil, fn() }, true
	case func():
		if fn == nil {
			return nil, false
		}
		return func(context.Context, ...any) (any, error) { fn(); return nil, nil }, true
	default:
		return nil, false
	}
}
