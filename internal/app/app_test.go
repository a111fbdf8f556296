package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"timerbox/internal/eventbus"
	"timerbox/internal/timers"
)

const baseConfig = `
logging:
  level: error
registry:
  watchdog_grace: 5s
  autostart: true
  print_on_exit: true
timers:
  - name: once
    delay: 20
    interval: false
    job: echo
    params: [hello]
  - name: broken
    delay: 20
    interval: false
    job: nope
  - name: slow
    delay: 5000
    interval: true
    job: noop
`

// syncBuffer guards a bytes.Buffer shared with the registry's Print.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// startApp subscribes to the bus before Start so no early event is missed.
func startApp(t *testing.T, body string) (*App, string, *syncBuffer, <-chan eventbus.Event) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timerbox.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	out := &syncBuffer{}
	a, err := NewApp(path, WithOutput(out))
	if err != nil {
		t.Fatal(err)
	}
	ch, unsub := a.Bus().Subscribe(256)
	t.Cleanup(unsub)
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return a, path, out, ch
}

func TestAppRunsDeclaredTimers(t *testing.T) {
	t.Parallel()
	a, _, out, ch := startApp(t, baseConfig)

	if got := a.Registry().Names(); strings.Join(got, ",") != "once,slow" {
		t.Fatalf("Names = %v, unknown job should be rejected", got)
	}
	if !a.Registry().Snapshot().Started {
		t.Fatal("autostart did not start the registry")
	}

	if _, ok := eventbus.Wait(ch, eventbus.TimerCompleted, 3*time.Second, func(e eventbus.Event) bool {
		return e.Data.(timers.TimerEvent).Name == "once"
	}); !ok {
		t.Fatal("declared timer did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"name":"once"`) || !strings.Contains(out.String(), `"out":"hello"`) {
		t.Fatalf("print on exit = %q", out.String())
	}
	if a.Registry().Snapshot().Started {
		t.Fatal("registry still started after Stop")
	}
}

func TestAppReloadReconcilesTimers(t *testing.T) {
	t.Parallel()
	a, path, _, ch := startApp(t, baseConfig)
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopAppStop) })

	// Let the watcher register the directory.
	time.Sleep(200 * time.Millisecond)
	next := strings.Replace(baseConfig, `  - name: slow
    delay: 5000
    interval: true
    job: noop`, `  - name: fresh
    delay: 4000
    interval: true
    job: count`, 1)
	if err := os.WriteFile(path, []byte(next), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := eventbus.Wait(ch, eventbus.TimerActivated, 5*time.Second, func(e eventbus.Event) bool {
		return e.Data.(timers.TimerEvent).Name == "fresh"
	}); !ok {
		t.Fatal("new timer was not added and resumed")
	}
	names := strings.Join(a.Registry().Names(), ",")
	if strings.Contains(names, "slow") || !strings.Contains(names, "fresh") {
		t.Fatalf("Names = %s", names)
	}
}

func TestDropTimerRemovesInactive(t *testing.T) {
	t.Parallel()
	a, _, _, _ := startApp(t, baseConfig)
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopAppStop) })

	if _, err := a.Registry().Pause("slow"); err != nil {
		t.Fatal(err)
	}
	a.dropTimer("slow")
	a.dropTimer("missing")
	for _, n := range a.Registry().Names() {
		if n == "slow" {
			t.Fatal("inactive timer survived dropTimer")
		}
	}
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"engine":{"workers":-1}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewApp(path); err == nil || !strings.Contains(err.Error(), "engine.workers") {
		t.Fatalf("err = %v", err)
	}
}
