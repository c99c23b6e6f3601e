package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"recurplan/internal/task/engine"
	logx "recurplan/pkg/logx"
)

type Config struct {
	Enabled  bool
	Location *time.Location // nil means time.Local
}

// Enqueuer is the part of the job engine the scheduler needs.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type scheduleDef struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
}

type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Service struct {
	mu   sync.Mutex
	cfg  Config
	log  logx.Logger
	jobs Enqueuer
	c    *cron.Cron
	defs map[string]*scheduleDef
}

func New(cfg Config, jobs Enqueuer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, jobs: jobs, log: log.With(logx.String("comp", "scheduler")), defs: map[string]*scheduleDef{}}
}

func (s *Service) location() *time.Location {
	if s.cfg.Location == nil {
		return time.Local
	}
	return s.cfg.Location
}

// AddSchedule registers (or replaces, by name) a schedule. Registration works
// before Start; the entry is armed when the scheduler runs.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: ps, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c != nil {
		if err := s.armLocked(d); err != nil {
			delete(s.defs, name)
			return err
		}
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", ps.Spec()))
	return nil
}

// Remove unregisters a schedule; it reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) armLocked(d *scheduleDef) error {
	name, timeout, job := d.name, d.timeout, d.job
	id, err := s.c.AddFunc(d.spec.Spec(), func() {
		err := s.jobs.Enqueue(engine.Task{Name: name, Timeout: timeout, Run: job})
		switch {
		case err == nil:
		case errors.Is(err, engine.ErrOverlapSkip):
			s.log.Debug("tick skipped: previous run still active", logx.String("name", name))
		default:
			s.log.Warn("tick enqueue failed", logx.String("name", name), logx.Err(err))
		}
	})
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

// Start arms every registered schedule. It is a no-op when disabled or running.
func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.startLocked()
}

func (s *Service) startLocked() {
	loc := s.location()
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(loc))
	for _, d := range s.defs {
		if err := s.armLocked(d); err != nil {
			s.log.Error("schedule arm failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop disarms all schedules; registrations are kept for the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Apply swaps the config, restarting cron when the location or the enabled
// flag changed.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	locChanged := prev.Location.String() != cfg.Location.String()
	switch {
	case running && (!cfg.Enabled || locChanged):
		s.Stop(ctx)
		s.Start(ctx)
	case !running && cfg.Enabled:
		s.Start(ctx)
	}
}

// Schedules lists registrations sorted by name. Next/Prev are zero when not running.
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec.Spec()}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NextRuns previews the next n fire times after from, in from's location.
func NextRuns(schedule string, from time.Time, n int) ([]time.Time, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	sched, err := cronParser.Parse(ps.Spec())
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
