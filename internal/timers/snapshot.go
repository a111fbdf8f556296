package timers

import "time"

// EntryInfo is a read-only view of one registered timer.
type EntryInfo struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Delay    time.Duration `json:"delay"`
	Interval bool          `json:"interval"`
	Active   bool          `json:"active"`
	Params   []any         `json:"params"`
}

type Snapshot struct {
	Entries       []EntryInfo `json:"entries"`
	Started       bool        `json:"started"`
	WatchdogArmed bool        `json:"watchdog_armed"`
	WatchdogDue   time.Time   `json:"watchdog_due,omitzero"`
	Logs          int         `json:"logs"`
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Names returns timer names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.name
	}
	return out
}

func (r *Registry) Entries() []EntryInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entriesLocked()
}

func (r *Registry) entriesLocked() []EntryInfo {
	out := make([]EntryInfo, len(r.entries))
	for i, e := range r.entries {
		out[i] = EntryInfo{
			Index:    i,
			Name:     e.name,
			Delay:    e.delay,
			Interval: e.interval,
			Active:   e.task != nil,
			Params:   append([]any{}, e.params...),
		}
	}
	return out
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	s := Snapshot{
		Entries:       r.entriesLocked(),
		Started:       r.started,
		WatchdogArmed: r.watchdog != nil,
		WatchdogDue:   r.wdDue,
	}
	r.mu.Unlock()
	s.Logs = r.journal.len()
	return s
}
