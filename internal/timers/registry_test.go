package timers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) (*Registry, *fakeSched) {
	t.Helper()
	fs := &fakeSched{}
	r := New(Options{Scheduler: fs, Output: &bytes.Buffer{}})
	t.Cleanup(r.Close)
	return r, fs
}

func constJob(v any) Job {
	return func(context.Context, ...any) (any, error) { return v, nil }
}

func def(name string, delay time.Duration, interval bool) Definition {
	return Definition{Name: name, Delay: delay, Interval: interval, Job: constJob(42)}
}

func TestAddValidation(t *testing.T) {
	t.Parallel()
	job := func() any { return 1 }
	tests := []struct {
		name string
		in   any
		want Kind
	}{
		{"not a record", 42, KindType},
		{"nil record", map[string]any(nil), KindType},
		{"name not string", map[string]any{"name": 1, "delay": 0, "interval": false, "job": job}, KindValidation},
		{"delay too large", map[string]any{"name": "a", "delay": 6000, "interval": false, "job": job}, KindValidation},
		{"delay negative", map[string]any{"name": "a", "delay": -1, "interval": false, "job": job}, KindValidation},
		{"delay not number", map[string]any{"name": "a", "delay": "100", "interval": false, "job": job}, KindValidation},
		{"interval not bool", map[string]any{"name": "a", "delay": 1, "interval": "yes", "job": job}, KindValidation},
		{"job not callable", map[string]any{"name": "a", "delay": 1, "interval": true, "job": "echo"}, KindValidation},
		{"missing name", map[string]any{"delay": 1, "interval": true, "job": job}, KindMissingField},
		{"missing delay", map[string]any{"name": "a", "interval": true, "job": job}, KindMissingField},
		{"missing interval", map[string]any{"name": "a", "delay": 1, "job": job}, KindMissingField},
		{"missing job", map[string]any{"name": "a", "delay": 1, "interval": true}, KindMissingField},
		{"type error wins over missing", map[string]any{"delay": "x"}, KindValidation},
		{"struct delay too large", Definition{Name: "a", Delay: 6 * time.Second, Job: constJob(1)}, KindValidation},
		{"struct empty name", Definition{Delay: time.Second, Job: constJob(1)}, KindMissingField},
		{"struct nil job", &Definition{Name: "a"}, KindMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, _ := newTestRegistry(t)
			err := r.AddAny(tt.in)
			if got := KindOf(err); got != tt.want {
				t.Fatalf("KindOf(%v) = %q, want %q", err, got, tt.want)
			}
			if r.Len() != 0 {
				t.Fatalf("Len = %d after failed add", r.Len())
			}
		})
	}
}

func TestAddRecordAcceptsBoundaries(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	for i, d := range []any{0, 5000, 2.5, json.Number("100")} {
		rec := map[string]any{"name": string(rune('a' + i)), "delay": d, "interval": false, "job": func() {}, "extra": true}
		if err := r.AddAny(rec); err != nil {
			t.Fatalf("delay %v: %v", d, err)
		}
	}
	if got := r.Entries()[2].Delay; got != 2500*time.Microsecond {
		t.Fatalf("fractional delay = %v", got)
	}
}

func TestAddDuplicateLeavesRegistryUnchanged(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	if err := r.Add(def("a", 10*time.Millisecond, false)); err != nil {
		t.Fatal(err)
	}
	err := r.Add(def("a", 20*time.Millisecond, true))
	if !errors.Is(err, ErrDuplicateName) || KindOf(err) != KindDuplicateName {
		t.Fatalf("err = %v", err)
	}
	if r.Len() != 1 || r.Entries()[0].Delay != 10*time.Millisecond {
		t.Fatalf("registry changed: %+v", r.Entries())
	}
}

func TestMustAddChainsAndPanics(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	r.MustAdd(def("a", 0, false)).MustAdd(def("b", 0, false), 1, 2)
	if got := r.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Names = %v", got)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("MustAdd on duplicate did not panic")
		}
	}()
	r.MustAdd(def("a", 0, false))
}

func TestPauseResumeSentinels(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	r.MustAdd(def("a", 10*time.Millisecond, true)).MustAdd(def("b", 10*time.Millisecond, false))

	if idx, _ := r.Pause("b"); idx != Unchanged {
		t.Fatalf("Pause before Start = %d, want Unchanged", idx)
	}
	if idx, _ := r.Pause("nope"); idx != NotFound {
		t.Fatalf("Pause unknown = %d", idx)
	}
	if idx, _ := r.Resume("nope"); idx != NotFound {
		t.Fatalf("Resume unknown = %d", idx)
	}

	r.Start()
	if idx, _ := r.Resume("b"); idx != Unchanged {
		t.Fatalf("Resume active = %d, want Unchanged", idx)
	}
	if idx, _ := r.Pause("b"); idx != 1 {
		t.Fatalf("Pause = %d, want 1", idx)
	}
	if r.Entries()[1].Active {
		t.Fatal("paused entry still active")
	}
	if idx, _ := r.Resume("b"); idx != 1 {
		t.Fatalf("Resume = %d, want 1", idx)
	}
	if !r.Entries()[1].Active {
		t.Fatal("resumed entry not active")
	}
}

func TestPauseResumeRejectBlankName(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	for _, op := range []func(string) (int, error){r.Pause, r.Resume} {
		if _, err := op(""); KindOf(err) != KindInvalidArgument {
			t.Fatalf("err = %v", err)
		}
	}
	if err := r.Remove(""); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Remove err = %v", err)
	}
}

func TestPausedTriggerNoLongerFires(t *testing.T) {
	t.Parallel()
	r, fs := newTestRegistry(t)
	r.MustAdd(def("a", time.Millisecond, true))
	r.Start()
	if _, err := r.Pause("a"); err != nil {
		t.Fatal(err)
	}
	if n := fs.fire("a"); n != 0 {
		t.Fatalf("%d live triggers after pause", n)
	}
	// A callback that was already in flight must be dropped as well.
	fs.fireStale("a")
	if len(r.Logs()) != 0 {
		t.Fatalf("logs = %+v", r.Logs())
	}
}

func TestRemoveActiveDeletesInactiveIsNoop(t *testing.T) {
	t.Parallel()
	r, fs := newTestRegistry(t)
	r.MustAdd(def("a", time.Millisecond, true)).MustAdd(def("b", time.Millisecond, true))

	// Never started: Remove leaves the entry in place.
	if err := r.Remove("a"); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d, inactive entry was removed", r.Len())
	}

	r.Start()
	if err := r.Remove("a"); err != nil {
		t.Fatal(err)
	}
	if got := r.Names(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("Names = %v", got)
	}
	if n := fs.fire("a"); n != 0 {
		t.Fatal("removed timer still scheduled")
	}
	if err := r.Remove("missing"); err != nil {
		t.Fatal(err)
	}
}

func TestStartIsIdempotentPerEntry(t *testing.T) {
	t.Parallel()
	r, fs := newTestRegistry(t)
	r.MustAdd(def("a", time.Millisecond, true)).MustAdd(def("b", time.Millisecond, true))
	r.Start()
	r.Pause("b")
	r.Start()
	if n := len(fs.live("a")); n != 1 {
		t.Fatalf("a has %d live triggers", n)
	}
	if n := len(fs.live("b")); n != 1 {
		t.Fatalf("b has %d live triggers", n)
	}
}

func TestStopKeepsDefinitions(t *testing.T) {
	t.Parallel()
	r, fs := newTestRegistry(t)
	r.MustAdd(def("a", time.Millisecond, true)).MustAdd(def("b", time.Millisecond, false))
	r.Start()
	r.Stop()
	if r.Len() != 2 {
		t.Fatalf("Len = %d", r.Len())
	}
	for _, e := range r.Entries() {
		if e.Active {
			t.Fatalf("%s still active", e.Name)
		}
	}
	if fs.fire("a")+fs.fire("b") != 0 {
		t.Fatal("triggers survived Stop")
	}
	if r.Snapshot().Started {
		t.Fatal("Started after Stop")
	}
}

func TestOneShotFiresOnceAndLogs(t *testing.T) {
	t.Parallel()
	r, fs := newTestRegistry(t)
	r.MustAdd(def("a", 100*time.Millisecond, false))
	r.Start()

	if n := fs.fire("a"); n != 1 {
		t.Fatalf("fired %d triggers", n)
	}
	if n := fs.fire("a"); n != 0 {
		t.Fatal("one-shot fired twice")
	}
	logs := r.Logs()
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	rec := logs[0]
	if rec.Name != "a" || rec.Out != 42 || rec.Failed() || len(rec.In) != 0 || rec.Created.IsZero() {
		t.Fatalf("record = %+v", rec)
	}
	if r.Entries()[0].Active {
		t.Fatal("one-shot still active after firing")
	}
	if idx, _ := r.Pause("a"); idx != Unchanged {
		t.Fatalf("Pause after fire = %d", idx)
	}
	if idx, _ := r.Resume("a"); idx != 0 {
		t.Fatalf("Resume after fire = %d", idx)
	}
}

func TestIntervalFiresRepeatedly(t *testing.T) {
	t.Parallel()
	r, fs := newTestRegistry(t)
	var seen []any
	r.MustAdd(Definition{Name: "tick", Delay: time.Millisecond, Interval: true, Job: func(_ context.Context, p ...any) (any, error) {
		seen = append(seen, p...)
		return len(seen), nil
	}}, "x")
	r.Start()
	for range 3 {
		fs.fire("tick")
	}
	if got := len(r.Logs()); got != 3 {
		t.Fatalf("logs = %d", got)
	}
	if !r.Entries()[0].Active {
		t.Fatal("interval timer went inactive")
	}
	if len(seen) != 3 || seen[0] != "x" {
		t.Fatalf("params = %v", seen)
	}
}

func TestJobFailuresAreContained(t *testing.T) {
	t.Parallel()
	r, fs := newTestRegistry(t)
	boom := errors.New("boom")
	r.MustAdd(Definition{Name: "err", Delay: 0, Job: func(context.Context, ...any) (any, error) { return "ignored", boom }})
	r.MustAdd(Definition{Name: "panic", Delay: 0, Job: func(context.Context, ...any) (any, error) { panic("kaboom") }})
	r.MustAdd(def("ok", 0, false))
	r.Start()

	fs.fire("err")
	fs.fire("panic")
	fs.fire("ok")

	logs := r.Logs()
	if len(logs) != 3 {
		t.Fatalf("logs = %d", len(logs))
	}
	if e := logs[0].Error; e == nil || e.Message != "boom" || e.Kind != "*errors.errorString" || logs[0].Out != nil {
		t.Fatalf("error record = %+v", logs[0])
	}
	if e := logs[1].Error; e == nil || e.Kind != "panic" || e.Message != "kaboom" || e.Stack == "" {
		t.Fatalf("panic record = %+v", logs[1])
	}
	if logs[2].Failed() {
		t.Fatalf("ok record = %+v", logs[2])
	}

	// Still usable.
	if err := r.Add(def("later", 0, false)); err != nil {
		t.Fatal(err)
	}
}

func TestParamsAreCapturedAtAdd(t *testing.T) {
	t.Parallel()
	r, fs := newTestRegistry(t)
	params := []any{"a", 1}
	r.MustAdd(Definition{Name: "p", Interval: true, Job: func(_ context.Context, p ...any) (any, error) {
		p[0] = "mutated"
		return nil, nil
	}}, params...)
	params[1] = 99
	r.Start()
	fs.fire("p")
	fs.fire("p")

	for _, rec := range r.Logs() {
		if rec.In[0] != "a" || rec.In[1] != 1 {
			t.Fatalf("in = %v", rec.In)
		}
	}
}

func TestJobMayCallBackIntoRegistry(t *testing.T) {
	t.Parallel()
	fs := &fakeSched{}
	var r *Registry
	r = New(Options{Scheduler: fs})
	t.Cleanup(r.Close)
	r.MustAdd(Definition{Name: "self", Interval: true, Job: func(context.Context, ...any) (any, error) {
		return r.Pause("self")
	}})
	r.Start()
	fs.fire("self")
	if r.Entries()[0].Active {
		t.Fatal("job did not pause itself")
	}
	if out := r.Logs()[0].Out; out != 0 {
		t.Fatalf("out = %v", out)
	}
}

func TestWatchdogRemovesActiveEntries(t *testing.T) {
	t.Parallel()
	r, fs := newTestRegistry(t)
	r.MustAdd(def("a", 100*time.Millisecond, true)).
		MustAdd(def("b", 200*time.Millisecond, true)).
		MustAdd(def("c", 50*time.Millisecond, true))
	r.Start()

	wd := fs.live("watchdog")
	if len(wd) != 1 {
		t.Fatalf("%d watchdogs", len(wd))
	}
	if want := 200*time.Millisecond + DefaultWatchdogGrace; wd[0].d != want {
		t.Fatalf("watchdog delay = %v, want %v", wd[0].d, want)
	}
	if !r.Snapshot().WatchdogArmed {
		t.Fatal("watchdog not reported armed")
	}

	r.Pause("c")
	fs.fire("watchdog")

	if got := r.Names(); len(got) != 1 || got[0] != "c" {
		t.Fatalf("Names after watchdog = %v, paused entry should survive", got)
	}
	if fs.fire("a")+fs.fire("b") != 0 {
		t.Fatal("removed timers still scheduled")
	}
	if r.Snapshot().WatchdogArmed {
		t.Fatal("watchdog still armed after firing")
	}
}

func TestStartReplacesWatchdog(t *testing.T) {
	t.Parallel()
	r, fs := newTestRegistry(t)
	r.MustAdd(def("a", time.Second, true))
	r.Start()
	r.MustAdd(def("b", 3*time.Second, true))
	r.Start()

	wd := fs.live("watchdog")
	if len(wd) != 1 || wd[0].d != 3*time.Second+DefaultWatchdogGrace {
		t.Fatalf("watchdogs = %+v", wd)
	}
	// The replaced watchdog must be inert even if its callback runs late.
	fs.fireStale("watchdog")
	if r.Len() != 2 {
		t.Fatalf("stale watchdog removed entries: %v", r.Names())
	}
}

func TestWatchdogGraceOption(t *testing.T) {
	t.Parallel()
	fs := &fakeSched{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := New(Options{Scheduler: fs, WatchdogGrace: time.Second, Now: func() time.Time { return now }})
	t.Cleanup(r.Close)
	r.Start()

	wd := fs.live("watchdog")
	if len(wd) != 1 || wd[0].d != time.Second {
		t.Fatalf("empty registry watchdog = %+v", wd)
	}
	if due := r.Snapshot().WatchdogDue; !due.Equal(now.Add(time.Second)) {
		t.Fatalf("due = %v", due)
	}
}

func TestCloseDisarmsEverything(t *testing.T) {
	t.Parallel()
	fs := &fakeSched{}
	r := New(Options{Scheduler: fs})
	r.MustAdd(def("a", time.Millisecond, true))
	r.Start()
	r.Close()
	if fs.fire("a")+fs.fire("watchdog") != 0 {
		t.Fatal("triggers survived Close")
	}
	if s := r.Snapshot(); s.WatchdogArmed || s.Started {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestPrintWritesRecordsInOrder(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	fs := &fakeSched{}
	r := New(Options{Scheduler: fs, Output: &buf})
	t.Cleanup(r.Close)
	r.MustAdd(def("a", 0, true), "x").MustAdd(Definition{Name: "b", Job: func(context.Context, ...any) (any, error) {
		return nil, errors.New("nope")
	}})
	r.Start()
	fs.fire("a")
	fs.fire("b")
	r.Print()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}
	if first["name"] != "a" || first["out"] != float64(42) || first["error"] != nil {
		t.Fatalf("first = %v", first)
	}
	if second["name"] != "b" || second["error"] == nil {
		t.Fatalf("second = %v", second)
	}
	if _, ok := second["out"]; ok {
		t.Fatalf("failed record carries out: %v", second)
	}
}

func TestPrintFallsBackForUnencodableOutput(t *testing.T) {
	t.Parallel()
	r, fs := newTestRegistry(t)
	r.MustAdd(Definition{Name: "ch", Job: func(context.Context, ...any) (any, error) { return make(chan int), nil }})
	r.Start()
	fs.fire("ch")

	var buf bytes.Buffer
	if err := r.PrintTo(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Name:ch") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestParamsEncodeAsEmptyArray(t *testing.T) {
	t.Parallel()
	r, fs := newTestRegistry(t)
	r.MustAdd(def("a", 0, false))
	r.Start()
	fs.fire("a")
	var buf bytes.Buffer
	if err := r.PrintTo(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"in":[]`) {
		t.Fatalf("output = %q", buf.String())
	}
}
