package app

import (
	"context"
	"time"

	"recurplan/internal/dispatch"
	"recurplan/internal/task/engine"
	"recurplan/internal/task/scheduler"
)

type tickRecord struct {
	At     time.Time           `json:"at"`
	Report dispatch.TickReport `json:"report"`
	Error  string              `json:"error,omitempty"`
}

// StatusReport is the body of GET /status.
type StatusReport struct {
	Time      time.Time                `json:"time"`
	Uptime    string                   `json:"uptime"`
	Tick      string                   `json:"tick"`
	LastTick  *tickRecord              `json:"last_tick,omitempty"`
	Templates int                      `json:"templates"`
	Active    int                      `json:"active_templates"`
	Schedules []scheduler.ScheduleInfo `json:"schedules"`
	Engine    engine.Snapshot          `json:"engine"`
	Notifier  NotifierStatus           `json:"notifier"`
}

type NotifierStatus struct {
	Enabled bool `json:"enabled"`
	Sent    int  `json:"sent"`
}

func (a *App) recordTick(rep dispatch.TickReport, err error) {
	r := &tickRecord{At: time.Now(), Report: rep}
	if err != nil {
		r.Error = err.Error()
	}
	a.tmu.Lock()
	a.lastTick = r
	a.tmu.Unlock()
}

func (a *App) report(ctx context.Context) (any, error) {
	tpls, err := a.store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	rep := StatusReport{
		Time:      time.Now(),
		Tick:      a.tick,
		Templates: len(tpls),
		Schedules: a.sched.Schedules(),
		Engine:    a.engine.Snapshot(),
		Notifier:  NotifierStatus{Enabled: a.notif.Enabled(), Sent: len(a.notif.Snapshot())},
	}
	if !a.started.IsZero() {
		rep.Uptime = time.Since(a.started).Round(time.Second).String()
	}
	for _, t := range tpls {
		if t.Active {
			rep.Active++
		}
	}
	a.tmu.Lock()
	rep.LastTick = a.lastTick
	a.tmu.Unlock()
	return rep, nil
}
