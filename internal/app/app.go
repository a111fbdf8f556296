package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"timerbox/internal/config"
	"timerbox/internal/eventbus"
	"timerbox/internal/jobs"
	"timerbox/internal/runtime/supervisor"
	"timerbox/internal/task/engine"
	"timerbox/internal/task/scheduler"
	"timerbox/internal/timers"
	logx "timerbox/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	engine *engine.Service
	sched  *scheduler.Service
	reg    *timers.Registry
	jobs   *jobs.Catalog

	out         io.Writer
	printOnExit atomic.Bool
}

type Option func(*options)

type options struct {
	out io.Writer
}

// WithOutput sets where the execution log is printed. Defaults to stdout.
func WithOutput(w io.Writer) Option { return func(o *options) { o.out = w } }

// Status is a point-in-time view of every component.
type Status struct {
	Registry   timers.Snapshot     `json:"registry"`
	Engine     engine.Snapshot     `json:"engine"`
	Scheduler  scheduler.Snapshot  `json:"scheduler"`
	Supervisor supervisor.Counters `json:"supervisor"`
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.out == nil {
		o.out = logx.Stdout()
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	grace, err := watchdogGrace(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	bus := eventbus.New()

	engineSvc := engine.New(engCfg, log, bus)
	schedSvc := scheduler.New(log)
	reg := timers.New(timers.Options{
		Scheduler:     schedSvc,
		Executor:      engineSvc,
		Log:           log,
		Bus:           bus,
		Output:        o.out,
		WatchdogGrace: grace,
	})

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		engine:  engineSvc,
		sched:   schedSvc,
		reg:     reg,
		jobs:    jobs.NewCatalog(log),
		out:     o.out,
	}
	a.printOnExit.Store(cfg.Registry.PrintOnExit)
	return a, nil
}

func (a *App) Registry() *timers.Registry { return a.reg }
func (a *App) Jobs() *jobs.Catalog        { return a.jobs }
func (a *App) Bus() eventbus.Bus          { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Status() Status {
	return Status{
		Registry:   a.reg.Snapshot(),
		Engine:     a.engine.Snapshot(),
		Scheduler:  a.sched.Snapshot(),
		Supervisor: a.sup.Counters(),
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return a.validate(cfg)
	})

	cfg := a.cfgm.Get()
	if err := a.validate(cfg); err != nil {
		return err
	}

	a.engine.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	added := 0
	for _, rec := range cfg.Timers {
		if a.addTimer(rec) {
			added++
		}
	}
	if cfg.Registry.Autostart {
		a.reg.Start()
	}

	a.sup.Go0("eventbus.log", a.logEvents)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				newCfg = latest(sub, newCfg)
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	notifySystemd(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.Int("timers", added),
		logx.Bool("autostart", cfg.Registry.Autostart),
	)
	return nil
}

func latest(ch <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-ch:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

// validate rejects configs whose engine section or timer names are unusable.
// Individual timer definitions are validated by the registry when added.
func (a *App) validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(cfg.Timers))
	for i, rec := range cfg.Timers {
		name := rec.Name()
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("timers[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// addTimer registers one declared timer. Failures are logged, not fatal.
func (a *App) addTimer(rec config.TimerRecord) bool {
	err := a.reg.AddAny(a.jobs.Resolve(rec.Definition()), rec.Params()...)
	if err != nil {
		a.log.Warn("timer rejected",
			logx.Any("timer", rec["name"]),
			logx.String("kind", string(timers.KindOf(err))),
			logx.Err(err),
		)
		return false
	}
	return true
}

// dropTimer removes a timer whatever its state. Remove alone only deletes
// Active timers, so an Inactive one is resumed first.
func (a *App) dropTimer(name string) {
	if idx, _ := a.reg.Resume(name); idx == timers.NotFound {
		return
	}
	_ = a.reg.Remove(name)
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, tc := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	a.logs.Apply(mapLoggingConfig(newCfg))

	if engCfg, err := mapEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(c, engCfg)
	}

	if strings.TrimSpace(oldCfg.Registry.WatchdogGrace) != strings.TrimSpace(newCfg.Registry.WatchdogGrace) {
		a.log.Warn("registry.watchdog_grace changed; restart required for changes to take effect")
	}
	a.printOnExit.Store(newCfg.Registry.PrintOnExit)

	if !tc.Empty() {
		started := a.reg.Snapshot().Started
		for _, name := range tc.Removed {
			a.dropTimer(name)
		}
		for _, name := range tc.Changed {
			a.dropTimer(name)
		}
		wanted := make(map[string]struct{}, len(tc.Added)+len(tc.Changed))
		for _, name := range tc.Added {
			wanted[name] = struct{}{}
		}
		for _, name := range tc.Changed {
			wanted[name] = struct{}{}
		}
		for _, rec := range newCfg.Timers {
			name := rec.Name()
			if _, ok := wanted[name]; !ok {
				continue
			}
			if a.addTimer(rec) && started {
				_, _ = a.reg.Resume(name)
			}
		}
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if !a.log.Enabled(logx.LevelDebug) {
				continue
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)

	// Timers go first so nothing new reaches the engine.
	a.reg.Stop()
	if a.printOnExit.Load() {
		a.reg.Print()
	}
	a.reg.Close()

	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "engine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	st := a.Status()
	a.log.Info("stopped",
		logx.Int("timers", len(st.Registry.Entries)),
		logx.Int("records", st.Registry.Logs),
		logx.Uint64("jobs_completed", st.Engine.Completed),
		logx.Uint64("jobs_failed", st.Engine.Failed),
		logx.Uint64("jobs_dropped", st.Engine.Dropped),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
