// Package app wires the recurplan daemon: config, logging, storage, the job
// engine, the tick scheduler, the dispatcher, the notifier and the status
// server.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"

	"recurplan/internal/clock"
	"recurplan/internal/config"
	"recurplan/internal/dispatch"
	"recurplan/internal/eventbus"
	"recurplan/internal/notifier"
	"recurplan/internal/observability/status"
	"recurplan/internal/runtime/supervisor"
	"recurplan/internal/storage"
	"recurplan/internal/task/engine"
	"recurplan/internal/task/scheduler"
	logx "recurplan/pkg/logx"
)

// TickSchedule is the scheduler entry that drives the dispatcher.
const TickSchedule = "dispatch.tick"

// Options override collaborators, mostly for tests and one-shot CLI runs.
type Options struct {
	// Fs backs the file storage driver; nil means the OS filesystem.
	Fs afero.Fs
	// Clock feeds the dispatcher; nil means the wall clock in the scheduler zone.
	Clock clock.Clock
	// Sender replaces the Telegram sender built from config.
	Sender notifier.Sender
	// DisableWatch skips the config file watcher.
	DisableWatch bool
}

type App struct {
	cfgm *config.Manager
	opts Options

	sup *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	engine *engine.Service
	sched  *scheduler.Service
	disp   *dispatch.Dispatcher
	notif  *notifier.Service
	status *status.Service

	tick    string
	started time.Time

	tmu      sync.Mutex
	lastTick *tickRecord
}

// New loads the config and builds every component without starting any.
func New(cfgm *config.Manager, opts Options) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, base := logx.New(cfg.Logging.Logx())
	log := base.With(logx.String("comp", "app"))
	fail := func(err error) (*App, error) {
		_ = logs.Close()
		return nil, err
	}

	sc, enabled, err := mapStorageConfig(cfg, opts.Fs)
	if err != nil {
		return fail(err)
	}
	if !enabled {
		return fail(errors.New("storage.driver must be file or sqlite"))
	}
	store, err := storage.Open(sc, base)
	if err != nil {
		return fail(fmt.Errorf("open storage: %w", err))
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	a, err := build(cfg, cfgm, opts, base, store)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}
	a.logs = logs
	return a, nil
}

// build assembles the components around an open store. base carries no
// component field; each component adds its own.
func build(cfg *config.Config, cfgm *config.Manager, opts Options, base logx.Logger, store storage.Store) (*App, error) {
	bus := eventbus.New()

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engCfg, base, bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, eng, base)

	settings, err := mapDispatchSettings(cfg)
	if err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{Location: settings.Location}
	}
	disp := dispatch.New(store, eng, clk, bus, base, settings)

	ncfg, token, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	sender := opts.Sender
	if sender == nil && ncfg.Enabled {
		tg, err := notifier.NewTelegram(token)
		if err != nil {
			return nil, fmt.Errorf("notifier: %w", err)
		}
		sender = tg
	}
	notif := notifier.New(ncfg, sender, base, bus)

	stcfg, err := mapStatusConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:   cfgm,
		opts:   opts,
		log:    base.With(logx.String("comp", "app")),
		bus:    bus,
		store:  store,
		engine: eng,
		sched:  sched,
		disp:   disp,
		notif:  notif,
	}
	a.status = status.New(stcfg, a.report, base)
	if err := a.armTick(cfg.Scheduler.TickSpec()); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) armTick(spec string) error {
	err := a.sched.AddSchedule(TickSchedule, spec, 0, func(ctx context.Context) error {
		rep, err := a.disp.Tick(ctx)
		a.recordTick(rep, err)
		if err != nil {
			return err
		}
		if rep.Due > 0 {
			a.log.Debug("tick", logx.Int("checked", rep.Checked), logx.Int("due", rep.Due),
				logx.Int("enqueued", rep.Enqueued), logx.Int("skipped", rep.Skipped))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scheduler.tick: %w", err)
	}
	a.tick = spec
	return nil
}

func (a *App) Config() *config.Config          { return a.cfgm.Get() }
func (a *App) Store() storage.Store             { return a.store }
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.disp }
func (a *App) Engine() *engine.Service          { return a.engine }
func (a *App) Scheduler() *scheduler.Service    { return a.sched }
func (a *App) Notifier() *notifier.Service      { return a.notif }
func (a *App) Status() *status.Service          { return a.status }
func (a *App) Bus() eventbus.Bus                { return a.bus }
func (a *App) Logger() logx.Logger              { return a.log }

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

// validate rejects a reloaded config that the running components cannot apply.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := scheduler.ParseSchedule(cfg.Scheduler.TickSpec()); err != nil {
		return fmt.Errorf("scheduler.tick: %w", err)
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatchSettings(cfg); err != nil {
		return err
	}
	if _, _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStatusConfig(cfg); err != nil {
		return err
	}
	if _, enabled, err := mapStorageConfig(cfg, a.opts.Fs); err != nil {
		return err
	} else if !enabled {
		return errors.New("storage cannot be disabled while running")
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.started = time.Now()
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	// Engine first: the scheduler and the notifier feed it or its events.
	a.engine.Start(run)
	a.notif.Start(run)
	a.sched.Start(run)
	a.status.Start(run)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	if !a.opts.DisableWatch {
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.startSystemd()
	a.log.Info("app started", logx.String("tick", a.tick))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, sdStopping)

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < limit {
				limit = rem
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
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
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Scheduler first so no new ticks land in a stopping engine.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("status", 2*time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Close releases storage and logging for an app that was never started.
func (a *App) Close() error {
	err := a.store.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
