package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"recurplan/internal/calendar"
	"recurplan/internal/clock"
	"recurplan/internal/domain"
	"recurplan/internal/eventbus"
	"recurplan/internal/storage"
	"recurplan/internal/task/engine"
	logx "recurplan/pkg/logx"
)

type jobRecorder struct {
	mu    sync.Mutex
	tasks []engine.Task
	err   error
}

func (r *jobRecorder) Enqueue(t engine.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *jobRecorder) drain() []engine.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.tasks
	r.tasks = nil
	return out
}

func weekly(id string) domain.Template {
	return domain.Template{
		ID:     id,
		Name:   "Weekly ops review",
		Active: true,
		Recurrence: domain.RecurrenceRule{
			Kind:      domain.Weekly,
			TimeOfDay: domain.TimeOfDay{Hour: 9},
			DayOfWeek: domain.Weekday(time.Monday),
		},
		ExplicitDurationDays: domain.Days(10),
		Project:              domain.ProjectBlueprint{Name: "Ops review", Priority: domain.PriorityMedium},
		Tasks: []domain.TaskBlueprint{
			{Title: "Prepare metrics", Priority: domain.PriorityMedium, DueDate: domain.DaysBeforeEnd(2)},
			{Title: "Review", Priority: domain.PriorityHigh},
		},
	}
}

type fixture struct {
	store storage.Store
	jobs  *jobRecorder
	clk   *clock.Fixed
	d     *Dispatcher
	ev    <-chan eventbus.Event
}

func newFixture(t *testing.T, now time.Time, tpls ...domain.Template) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: "/var/lib/recurplan/store.json", Fs: afero.NewMemMapFs()}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	for _, tpl := range tpls {
		if err := st.SaveTemplate(context.Background(), tpl); err != nil {
			t.Fatalf("SaveTemplate: %v", err)
		}
	}
	bus := eventbus.New()
	ev, unsub := bus.Subscribe(32)
	t.Cleanup(unsub)
	f := &fixture{store: st, jobs: &jobRecorder{}, clk: clock.NewFixed(now), ev: ev}
	f.d = New(st, f.jobs, f.clk, bus, logx.Nop(), Settings{Calendar: calendar.Default, LeadTime: 24 * time.Hour, Location: time.UTC})
	return f
}

func (f *fixture) tickAndRun(t *testing.T) TickReport {
	t.Helper()
	rep, err := f.d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	for _, task := range f.jobs.drain() {
		if err := task.Run(context.Background()); err != nil {
			t.Fatalf("job %s: %v", task.Name, err)
		}
	}
	return rep
}

func nextEvent(t *testing.T, ch <-chan eventbus.Event) eventbus.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	return eventbus.Event{}
}

func TestDue(t *testing.T) {
	t.Parallel()
	tpl := weekly("w")
	at := func(d, h int) time.Time { return time.Date(2025, time.April, d, h, 0, 0, 0, time.UTC) }
	marker := func(ts time.Time) *time.Time { return &ts }

	tests := []struct {
		name string
		now  time.Time
		last *time.Time
		want bool
	}{
		{name: "too far ahead", now: at(9, 10), want: false},
		{name: "within lead, never generated", now: at(13, 10), want: true},
		{name: "within lead, already generated", now: at(13, 11), last: marker(at(13, 10)), want: false},
		{name: "generated for the previous week", now: at(13, 10), last: marker(at(6, 10)), want: true},
		{name: "occurrence instant itself", now: at(14, 9), last: marker(at(7, 9)), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tpl := tpl
			tpl.LastGeneratedAt = tt.last
			got, _, err := Due(tpl, tt.now, 24*time.Hour, time.UTC)
			if err != nil {
				t.Fatalf("Due error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Due = %v, want %v", got, tt.want)
			}
		})
	}

	exhausted := weekly("x")
	exhausted.Recurrence.EndDate = &domain.Date{Year: 2025, Month: time.April, Day: 1}
	if due, _, err := Due(exhausted, at(9, 10), time.Hour, time.UTC); err != nil || !due {
		t.Fatalf("exhausted Due = %v, %v; want true, nil", due, err)
	}

	broken := weekly("b")
	broken.Recurrence.DayOfWeek = nil
	if _, _, err := Due(broken, at(9, 10), time.Hour, time.UTC); !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("broken rule err = %v, want ErrInvalidRule", err)
	}
}

func TestTickGeneratesOncePerOccurrence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Date(2025, time.April, 9, 10, 0, 0, 0, time.UTC), weekly("w"))

	if rep := f.tickAndRun(t); rep.Due != 0 {
		t.Fatalf("Wednesday report = %+v, want nothing due", rep)
	}

	f.clk.Set(time.Date(2025, time.April, 13, 10, 0, 0, 0, time.UTC))
	if rep := f.tickAndRun(t); rep.Enqueued != 1 {
		t.Fatalf("Sunday report = %+v, want 1 enqueued", rep)
	}
	e := nextEvent(t, f.ev)
	if e.Type != eventbus.GenerationCompleted {
		t.Fatalf("event = %s, want %s", e.Type, eventbus.GenerationCompleted)
	}
	g := e.Data.(eventbus.Generation)
	if g.Tasks != 2 || g.Mode != "automatic" {
		t.Fatalf("payload = %+v", g)
	}

	projects, err := f.store.ListProjects(ctx, "w")
	if err != nil || len(projects) != 1 {
		t.Fatalf("ListProjects = %v, %v; want 1 project", projects, err)
	}
	if want := time.Date(2025, time.April, 14, 0, 0, 0, 0, time.UTC); !projects[0].StartDate.Equal(want) {
		t.Fatalf("StartDate = %s, want %s", projects[0].StartDate, want)
	}
	if want := time.Date(2025, time.April, 30, 0, 0, 0, 0, time.UTC); !projects[0].EndDate.Equal(want) {
		t.Fatalf("EndDate = %s, want %s", projects[0].EndDate, want)
	}
	tasks, _ := f.store.ListTasks(ctx, projects[0].ID)
	if len(tasks) != 2 || tasks[0].Status != domain.TaskToDo {
		t.Fatalf("tasks = %+v", tasks)
	}

	f.clk.Advance(time.Hour)
	if rep := f.tickAndRun(t); rep.Due != 0 {
		t.Fatalf("second tick report = %+v, want nothing due", rep)
	}

	f.clk.Set(time.Date(2025, time.April, 20, 10, 0, 0, 0, time.UTC))
	if rep := f.tickAndRun(t); rep.Enqueued != 1 {
		t.Fatalf("next week report = %+v, want 1 enqueued", rep)
	}
	projects, _ = f.store.ListProjects(ctx, "w")
	if len(projects) != 2 {
		t.Fatalf("projects = %d, want 2", len(projects))
	}

	runs, err := f.store.ListRuns(ctx, "w", 0)
	if err != nil || len(runs) != 2 || !runs[0].OK {
		t.Fatalf("runs = %+v, %v", runs, err)
	}
}

func TestTickSkipsInactiveAndBusy(t *testing.T) {
	t.Parallel()
	inactive := weekly("off")
	inactive.Active = false
	f := newFixture(t, time.Date(2025, time.April, 13, 10, 0, 0, 0, time.UTC), weekly("on"), inactive)

	f.jobs.err = engine.ErrOverlapSkip
	rep, err := f.d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if rep.Checked != 1 || rep.Due != 1 || rep.Skipped != 1 || rep.Enqueued != 0 {
		t.Fatalf("report = %+v", rep)
	}

	f.jobs.err = engine.ErrStopped
	if _, err := f.d.Tick(context.Background()); !errors.Is(err, engine.ErrStopped) {
		t.Fatalf("Tick err = %v, want ErrStopped", err)
	}
}

func TestExhaustedTemplateIsDeactivated(t *testing.T) {
	t.Parallel()
	tpl := weekly("x")
	tpl.Recurrence.EndDate = &domain.Date{Year: 2025, Month: time.April, Day: 10}
	f := newFixture(t, time.Date(2025, time.April, 13, 10, 0, 0, 0, time.UTC), tpl)

	f.tickAndRun(t)
	if e := nextEvent(t, f.ev); e.Type != eventbus.TemplateExhausted {
		t.Fatalf("event = %s, want %s", e.Type, eventbus.TemplateExhausted)
	}
	got, err := f.store.GetTemplate(context.Background(), "x")
	if err != nil || got.Active {
		t.Fatalf("template = %+v, %v; want inactive", got, err)
	}
	if projects, _ := f.store.ListProjects(context.Background(), "x"); len(projects) != 0 {
		t.Fatalf("projects = %d, want 0", len(projects))
	}
	if rep := f.tickAndRun(t); rep.Checked != 0 {
		t.Fatalf("report after deactivation = %+v", rep)
	}
}

func TestRunJobErrors(t *testing.T) {
	t.Parallel()
	broken := weekly("b")
	broken.Project.Name = ""
	f := newFixture(t, time.Date(2025, time.April, 13, 10, 0, 0, 0, time.UTC), broken)

	err := f.d.runJob(context.Background(), "b")
	if !engine.IsNoRetry(err) || !errors.Is(err, domain.ErrInvalidTemplate) {
		t.Fatalf("runJob err = %v, want NoRetry(ErrInvalidTemplate)", err)
	}
	if e := nextEvent(t, f.ev); e.Type != eventbus.GenerationFailed {
		t.Fatalf("event = %s, want %s", e.Type, eventbus.GenerationFailed)
	}

	err = f.d.runJob(context.Background(), "missing")
	if !engine.IsNoRetry(err) || !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("runJob(missing) err = %v, want NoRetry(ErrNotFound)", err)
	}
}

func TestConcurrentJobsCommitOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Date(2025, time.April, 13, 10, 0, 0, 0, time.UTC), weekly("w"))

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.d.runJob(context.Background(), "w")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil && !errors.Is(err, storage.ErrConflict) {
			t.Fatalf("job %d err = %v, want nil or ErrConflict", i, err)
		}
		if err != nil && !engine.IsNoRetry(err) {
			t.Fatalf("job %d conflict should not be retried", i)
		}
	}
	projects, _ := f.store.ListProjects(context.Background(), "w")
	if len(projects) != 1 {
		t.Fatalf("projects = %d, want exactly 1", len(projects))
	}
}

func TestGenerateExplicit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tpl := weekly("w")
	tpl.Recurrence = domain.RecurrenceRule{Kind: domain.Weekly} // missing day_of_week
	f := newFixture(t, time.Date(2025, time.April, 9, 10, 0, 0, 0, time.UTC), tpl)

	out, err := f.d.GenerateExplicit(ctx, "w", domain.Date{Year: 2025, Month: time.March, Day: 3})
	if err != nil {
		t.Fatalf("GenerateExplicit: %v", err)
	}
	if out.Receipt.ProjectID == "" || len(out.Receipt.TaskIDs) != 2 {
		t.Fatalf("receipt = %+v", out.Receipt)
	}
	if want := time.Date(2025, time.March, 17, 0, 0, 0, 0, time.UTC); !out.Result.Project.EndDate.Equal(want) {
		t.Fatalf("EndDate = %s, want %s", out.Result.Project.EndDate, want)
	}
	got, _ := f.store.GetTemplate(ctx, "w")
	if got.LastGeneratedAt == nil || !got.LastGeneratedAt.Equal(f.clk.Now()) {
		t.Fatalf("LastGeneratedAt = %v, want %s", got.LastGeneratedAt, f.clk.Now())
	}

	if _, err := f.d.GenerateExplicit(ctx, "w", domain.Date{}); err == nil {
		t.Fatal("expected error for zero date")
	}
	if _, err := f.d.GenerateNow(ctx, "w"); !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("GenerateNow err = %v, want ErrInvalidRule", err)
	}
}

func TestApplySwapsSettings(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Date(2025, time.April, 9, 10, 0, 0, 0, time.UTC), weekly("w"))

	f.d.Apply(Settings{LeadTime: 7 * 24 * time.Hour, Location: time.UTC})
	rep, err := f.d.Tick(context.Background())
	if err != nil || rep.Enqueued != 1 {
		t.Fatalf("report = %+v, %v; want 1 enqueued with a week of lead", rep, err)
	}
}
