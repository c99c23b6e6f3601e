package app

import (
	"context"
	"strings"

	"recurplan/internal/config"
	logx "recurplan/pkg/logx"
)

// reloadLoop applies every config published by the manager, coalescing
// bursts so only the latest one is applied.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			closed := false
		drain:
			for {
				select {
				case newer, ok := <-sub:
					if !ok {
						closed = true
						break drain
					}
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if next != nil {
				a.apply(ctx, last, next)
				last = next
			}
			if closed {
				return
			}
		}
	}
}

// apply pushes the changed sections of next into the running components.
// Storage changes need a restart.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.Summarize(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := make(map[string]bool, len(sections))
	for _, s := range sections {
		changed[s] = true
	}
	sdNotify(a.log, sdReloading)
	defer sdNotify(a.log, sdReady)

	if changed["logging"] && a.logs != nil {
		a.logs.Apply(next.Logging.Logx())
	}
	if changed["storage"] {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if changed["task_engine"] {
		if ec, err := mapEngineConfig(next); err != nil {
			a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		} else {
			a.engine.Apply(ctx, ec)
		}
	}

	if changed["scheduler"] {
		if spec := next.Scheduler.TickSpec(); spec != a.tick {
			if err := a.armTick(spec); err != nil {
				a.log.Warn("invalid tick; keeping previous", logx.Err(err))
			}
		}
		if sc, err := mapSchedulerConfig(next); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(ctx, sc)
		}
	}

	if changed["scheduler"] || changed["calendar"] || changed["priority_durations"] {
		if s, err := mapDispatchSettings(next); err != nil {
			a.log.Warn("invalid dispatch settings; keeping previous", logx.Err(err))
		} else {
			a.disp.Apply(s)
		}
	}

	if changed["notifier"] {
		a.applyNotifier(ctx, prev, next)
	}

	if changed["http"] {
		if sc, err := mapStatusConfig(next); err != nil {
			a.log.Warn("invalid http config; keeping previous", logx.Err(err))
		} else {
			a.status.Reconfigure(ctx, sc)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) applyNotifier(ctx context.Context, prev, next *config.Config) {
	ncfg, token, err := mapNotifierConfig(next)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	if _, prevToken, _ := mapNotifierConfig(prev); ncfg.Enabled && token != prevToken && a.opts.Sender == nil {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}
	wasEnabled := a.notif.Enabled()
	a.notif.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		a.notif.Stop(ctx)
	case !wasEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}
}
