// Package dispatch turns templates into persisted projects.
//
// On every scheduler tick the Dispatcher lists the active templates, decides
// which ones are due and enqueues one "generate:<id>" job per due template
// into the task engine. A job re-reads its template, runs the generation
// coordinator and commits the result with a check-and-set on the template's
// LastGeneratedAt marker, so two concurrent generations of the same
// occurrence can never both persist.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"recurplan/internal/calendar"
	"recurplan/internal/clock"
	"recurplan/internal/domain"
	"recurplan/internal/eventbus"
	"recurplan/internal/generation"
	"recurplan/internal/recurrence"
	"recurplan/internal/storage"
	"recurplan/internal/task/engine"
	logx "recurplan/pkg/logx"
)

const jobPrefix = "generate:"

// Store is the subset of storage.Store the dispatcher needs.
type Store interface {
	ListTemplates(ctx context.Context) ([]domain.Template, error)
	GetTemplate(ctx context.Context, id string) (domain.Template, error)
	SetTemplateActive(ctx context.Context, id string, active bool) error
	CommitGeneration(ctx context.Context, c storage.Commit) (storage.Receipt, error)
	AppendRun(ctx context.Context, r storage.Run) error
}

// Jobs is the subset of engine.Service the dispatcher needs.
type Jobs interface {
	Enqueue(t engine.Task) error
}

// Settings are hot-reloadable.
type Settings struct {
	Calendar  *calendar.Calendar
	Durations domain.PriorityDurationTable
	// LeadTime is how far ahead of an occurrence its project is generated.
	LeadTime time.Duration
	// Location is the zone recurrence rules are evaluated in.
	Location *time.Location
	// JobTimeout bounds one generate job; 0 means the engine default.
	JobTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.Calendar == nil {
		s.Calendar = calendar.Default
	}
	if s.LeadTime <= 0 {
		s.LeadTime = 24 * time.Hour
	}
	return s
}

type Dispatcher struct {
	store Store
	jobs  Jobs
	clock clock.Clock
	bus   eventbus.Bus
	log   logx.Logger

	mu       sync.RWMutex
	settings Settings
	coord    *generation.Coordinator
}

func New(store Store, jobs Jobs, clk clock.Clock, bus eventbus.Bus, log logx.Logger, s Settings) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	s = s.withDefaults()
	return &Dispatcher{
		store:    store,
		jobs:     jobs,
		clock:    clk,
		bus:      bus,
		log:      log.With(logx.String("comp", "dispatch")),
		settings: s,
		coord:    generation.New(s.Calendar),
	}
}

// Apply swaps the settings. Jobs already running keep the old ones.
func (d *Dispatcher) Apply(s Settings) {
	s = s.withDefaults()
	d.mu.Lock()
	d.settings = s
	d.coord = generation.New(s.Calendar)
	d.mu.Unlock()
}

func (d *Dispatcher) current() (Settings, *generation.Coordinator) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings, d.coord
}

func (d *Dispatcher) now(loc *time.Location) time.Time {
	return d.clock.Now().In(loc)
}

// TickReport summarizes one Tick.
type TickReport struct {
	Checked  int `json:"checked"`
	Due      int `json:"due"`
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"` // overlap or full queue
}

// Tick enqueues a generate job for every due template.
func (d *Dispatcher) Tick(ctx context.Context) (TickReport, error) {
	var rep TickReport
	tpls, err := d.store.ListTemplates(ctx)
	if err != nil {
		return rep, fmt.Errorf("list templates: %w", err)
	}
	s, _ := d.current()
	now := d.now(s.Location)

	for _, tpl := range tpls {
		if !tpl.Active {
			continue
		}
		rep.Checked++
		due, next, err := Due(tpl, now, s.LeadTime, s.Location)
		if err != nil {
			d.log.Warn("template skipped", logx.String("template", tpl.ID), logx.Err(err))
			continue
		}
		if !due {
			continue
		}
		rep.Due++

		id := tpl.ID
		task := engine.Task{
			Name:    jobPrefix + id,
			Key:     jobPrefix + id,
			Timeout: s.JobTimeout,
			Run:     func(ctx context.Context) error { return d.runJob(ctx, id) },
		}
		switch err := d.jobs.Enqueue(task); {
		case err == nil:
			rep.Enqueued++
			d.log.Debug("generation enqueued", logx.String("template", id), logx.Time("occurrence", next))
		case errors.Is(err, engine.ErrOverlapSkip), errors.Is(err, engine.ErrQueueFull):
			rep.Skipped++
		default:
			return rep, fmt.Errorf("enqueue %s: %w", id, err)
		}
	}
	return rep, nil
}

// Due reports whether tpl should be generated at now, and the occurrence it
// would be generated for.
//
// A template is due when its next occurrence lies within lead of now and the
// occurrence that was upcoming at LastGeneratedAt is strictly earlier. An
// exhausted rule is always due so the job can deactivate the template.
func Due(tpl domain.Template, now time.Time, lead time.Duration, loc *time.Location) (bool, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	next, err := recurrence.NextOccurrence(tpl.Recurrence, now)
	if errors.Is(err, recurrence.ErrExhausted) {
		return true, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, err
	}
	if next.Sub(now) > lead {
		return false, next, nil
	}
	if tpl.LastGeneratedAt == nil {
		return true, next, nil
	}
	prev, err := recurrence.NextOccurrence(tpl.Recurrence, tpl.LastGeneratedAt.In(loc))
	if err != nil {
		// Cannot be exhausted at an earlier instant when now is not.
		return false, next, err
	}
	return prev.Before(next), next, nil
}

// Outcome describes one generation attempt.
type Outcome struct {
	TemplateID string
	Mode       generation.ModeKind
	// Skipped is set when the template was no longer active or due.
	Skipped bool
	// Exhausted is set when the rule ran out and the template was deactivated.
	Exhausted bool
	Receipt   storage.Receipt
	Result    generation.Result
}

// runJob is the engine task body: errors that cannot succeed on a retry are
// wrapped in engine.NoRetry.
func (d *Dispatcher) runJob(ctx context.Context, id string) error {
	out, err := d.generate(ctx, id, generation.AutomaticMode(), true)
	if err == nil || (out.Exhausted && errors.Is(err, generation.ErrRecurrenceExhausted)) {
		return nil
	}
	if generation.Permanent(err) || errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
		return engine.NoRetry(err)
	}
	return err
}

// GenerateNow runs an automatic generation for id immediately, without the
// due check.
func (d *Dispatcher) GenerateNow(ctx context.Context, id string) (Outcome, error) {
	return d.generate(ctx, id, generation.AutomaticMode(), false)
}

// GenerateExplicit generates id for date, which is taken as a calendar day
// in the dispatcher's location. The recurrence rule is not consulted.
func (d *Dispatcher) GenerateExplicit(ctx context.Context, id string, date domain.Date) (Outcome, error) {
	if date.IsZero() {
		return Outcome{TemplateID: id, Mode: generation.Explicit}, errors.New("explicit generation requires a date")
	}
	s, _ := d.current()
	return d.generate(ctx, id, generation.ExplicitMode(date.In(s.Location)), false)
}

func (d *Dispatcher) generate(ctx context.Context, id string, mode generation.Mode, checkDue bool) (Outcome, error) {
	out := Outcome{TemplateID: id, Mode: mode.Kind}
	id = strings.TrimSpace(id)
	if id == "" {
		return out, errors.New("template id is required")
	}
	s, coord := d.current()
	started := time.Now()

	tpl, err := d.store.GetTemplate(ctx, id)
	if err != nil {
		return out, fmt.Errorf("load template %s: %w", id, err)
	}
	now := d.now(s.Location)

	if checkDue {
		if !tpl.Active {
			out.Skipped = true
			return out, nil
		}
		due, _, err := Due(tpl, now, s.LeadTime, s.Location)
		if err != nil {
			return out, fmt.Errorf("template %s: %w", id, err)
		}
		if !due {
			out.Skipped = true
			d.log.Debug("generation skipped: no longer due", logx.String("template", id))
			return out, nil
		}
	}

	res, err := coord.Generate(tpl, mode, s.Durations, now)
	if errors.Is(err, generation.ErrRecurrenceExhausted) {
		out.Exhausted = true
		if derr := d.store.SetTemplateActive(ctx, id, false); derr != nil {
			return out, fmt.Errorf("deactivate exhausted template %s: %w", id, derr)
		}
		d.log.Info("template exhausted; deactivated", logx.String("template", id))
		d.publish(eventbus.TemplateExhausted, eventbus.Generation{TemplateID: id, TemplateName: tpl.Name, Mode: mode.Kind.String()})
		d.appendRun(ctx, storage.Run{At: now, TemplateID: id, Mode: mode.Kind.String(), Error: err.Error(), TookMS: time.Since(started).Milliseconds()})
		return out, err
	}
	if err != nil {
		d.fail(ctx, tpl, mode, now, started, err)
		return out, err
	}
	out.Result = res

	rcpt, err := d.store.CommitGeneration(ctx, storage.Commit{
		TemplateID:              id,
		ExpectedLastGeneratedAt: tpl.LastGeneratedAt,
		LastGeneratedAt:         res.ProposedLastGeneratedAt,
		Project:                 res.Project,
		Tasks:                   res.Tasks,
	})
	if err != nil {
		err = fmt.Errorf("commit template %s: %w", id, err)
		d.fail(ctx, tpl, mode, now, started, err)
		return out, err
	}
	out.Receipt = rcpt

	d.log.Info("project generated",
		logx.String("template", id),
		logx.String("mode", mode.Kind.String()),
		logx.String("project", rcpt.ProjectID),
		logx.Date("start", res.Project.StartDate),
		logx.Date("end", res.Project.EndDate),
		logx.Int("tasks", len(res.Tasks)),
	)
	d.publish(eventbus.GenerationCompleted, eventbus.Generation{
		TemplateID:   id,
		TemplateName: tpl.Name,
		Mode:         mode.Kind.String(),
		ProjectID:    rcpt.ProjectID,
		ProjectName:  res.Project.Name,
		StartDate:    res.Project.StartDate,
		EndDate:      res.Project.EndDate,
		Tasks:        len(res.Tasks),
	})
	d.appendRun(ctx, storage.Run{
		At:         now,
		TemplateID: id,
		Mode:       mode.Kind.String(),
		OK:         true,
		ProjectID:  rcpt.ProjectID,
		TookMS:     time.Since(started).Milliseconds(),
	})
	return out, nil
}

func (d *Dispatcher) fail(ctx context.Context, tpl domain.Template, mode generation.Mode, now, started time.Time, err error) {
	d.log.Warn("generation failed", logx.String("template", tpl.ID), logx.String("mode", mode.Kind.String()), logx.Err(err))
	d.publish(eventbus.GenerationFailed, eventbus.Generation{
		TemplateID:   tpl.ID,
		TemplateName: tpl.Name,
		Mode:         mode.Kind.String(),
		Error:        err.Error(),
	})
	d.appendRun(ctx, storage.Run{At: now, TemplateID: tpl.ID, Mode: mode.Kind.String(), Error: err.Error(), TookMS: time.Since(started).Milliseconds()})
}

func (d *Dispatcher) appendRun(ctx context.Context, r storage.Run) {
	if err := d.store.AppendRun(ctx, r); err != nil {
		d.log.Warn("append run failed", logx.String("template", r.TemplateID), logx.Err(err))
	}
}

func (d *Dispatcher) publish(typ string, g eventbus.Generation) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: g})
}
