package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"recurplan/internal/domain"
	logx "recurplan/pkg/logx"
)

type driverCase struct {
	name string
	open func(t *testing.T) Store
}

func drivers() []driverCase {
	return []driverCase{
		{"file", func(t *testing.T) Store {
			st, err := Open(Config{Driver: "file", Path: "/data/store.json", Fs: afero.NewMemMapFs()}, logx.Nop())
			if err != nil {
				t.Fatalf("open file store: %v", err)
			}
			return st
		}},
		{"sqlite", func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "store.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			return st
		}},
	}
}

func sampleTemplate(id string) domain.Template {
	return domain.Template{
		ID:     id,
		Name:   "Monthly close " + id,
		Active: true,
		Recurrence: domain.RecurrenceRule{
			Kind:        domain.Monthly,
			TimeOfDay:   domain.TimeOfDay{Hour: 8, Minute: 30},
			DayOfWeek:   domain.Weekday(time.Monday),
			WeekOfMonth: 1,
		},
		ExplicitDurationDays: domain.Days(5),
		Project:              domain.ProjectBlueprint{Name: "Close", Priority: domain.PriorityHigh},
		Tasks: []domain.TaskBlueprint{
			{Title: "Reconcile", Priority: domain.PriorityHigh, DueDate: domain.DaysBeforeEnd(1)},
		},
	}
}

func sampleCommit(tpl string, expected *time.Time, at time.Time) Commit {
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	return Commit{
		TemplateID:              tpl,
		ExpectedLastGeneratedAt: expected,
		LastGeneratedAt:         at,
		Project: domain.GeneratedProject{
			TemplateID: tpl, Name: "Close", Priority: domain.PriorityHigh,
			StartDate: day, EndDate: day.AddDate(0, 0, 7), DurationDays: 5, Status: domain.ProjectPlanning,
		},
		Tasks: []domain.GeneratedTask{
			{Title: "Reconcile", Priority: domain.PriorityHigh, Status: domain.TaskToDo, DueDate: day.AddDate(0, 0, 6)},
			{Title: "Report", Priority: domain.PriorityMedium, Status: domain.TaskToDo, DueDate: day.AddDate(0, 0, 7)},
		},
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Logger{})
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected missing path error")
	}
}

func TestTemplates(t *testing.T) {
	t.Parallel()
	for _, dc := range drivers() {
		t.Run(dc.name, func(t *testing.T) {
			t.Parallel()
			st := dc.open(t)
			defer st.Close()
			ctx := context.Background()

			if _, err := st.GetTemplate(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetTemplate missing err = %v, want ErrNotFound", err)
			}
			for _, id := range []string{"b", "a"} {
				if err := st.SaveTemplate(ctx, sampleTemplate(id)); err != nil {
					t.Fatalf("SaveTemplate(%s): %v", id, err)
				}
			}
			list, err := st.ListTemplates(ctx)
			if err != nil {
				t.Fatalf("ListTemplates: %v", err)
			}
			if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
				t.Fatalf("ListTemplates = %+v, want [a b]", list)
			}

			got, err := st.GetTemplate(ctx, "a")
			if err != nil {
				t.Fatalf("GetTemplate: %v", err)
			}
			if got.Recurrence.WeekOfMonth != 1 || got.Recurrence.DayOfWeek == nil || *got.Recurrence.DayOfWeek != time.Monday {
				t.Fatalf("recurrence round-trip = %+v", got.Recurrence)
			}
			if got.Tasks[0].DueDate != domain.DaysBeforeEnd(1) {
				t.Fatalf("due policy = %+v", got.Tasks[0].DueDate)
			}
			if got.LastGeneratedAt != nil {
				t.Fatalf("LastGeneratedAt = %v, want nil", got.LastGeneratedAt)
			}

			if err := st.SetTemplateActive(ctx, "a", false); err != nil {
				t.Fatalf("SetTemplateActive: %v", err)
			}
			got, _ = st.GetTemplate(ctx, "a")
			if got.Active {
				t.Fatal("template still active")
			}
			if err := st.SetTemplateActive(ctx, "zzz", false); !errors.Is(err, ErrNotFound) {
				t.Fatalf("SetTemplateActive missing err = %v", err)
			}
		})
	}
}

func TestCommitGeneration(t *testing.T) {
	t.Parallel()
	for _, dc := range drivers() {
		t.Run(dc.name, func(t *testing.T) {
			t.Parallel()
			st := dc.open(t)
			defer st.Close()
			ctx := context.Background()
			if err := st.SaveTemplate(ctx, sampleTemplate("tpl")); err != nil {
				t.Fatalf("SaveTemplate: %v", err)
			}

			first := time.Date(2025, time.March, 3, 8, 30, 0, 0, time.UTC)
			rc, err := st.CommitGeneration(ctx, sampleCommit("tpl", nil, first))
			if err != nil {
				t.Fatalf("CommitGeneration: %v", err)
			}
			if rc.ProjectID == "" || len(rc.TaskIDs) != 2 {
				t.Fatalf("Receipt = %+v", rc)
			}

			tpl, _ := st.GetTemplate(ctx, "tpl")
			if tpl.LastGeneratedAt == nil || !tpl.LastGeneratedAt.Equal(first) {
				t.Fatalf("LastGeneratedAt = %v, want %v", tpl.LastGeneratedAt, first)
			}

			// A second writer that read the old marker loses.
			if _, err := st.CommitGeneration(ctx, sampleCommit("tpl", nil, first.Add(time.Minute))); !errors.Is(err, ErrConflict) {
				t.Fatalf("stale commit err = %v, want ErrConflict", err)
			}
			if _, err := st.CommitGeneration(ctx, sampleCommit("nope", nil, first)); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing template err = %v, want ErrNotFound", err)
			}

			second := first.AddDate(0, 1, 4)
			if _, err := st.CommitGeneration(ctx, sampleCommit("tpl", tpl.LastGeneratedAt, second)); err != nil {
				t.Fatalf("second CommitGeneration: %v", err)
			}

			projects, err := st.ListProjects(ctx, "tpl")
			if err != nil {
				t.Fatalf("ListProjects: %v", err)
			}
			if len(projects) != 2 || projects[0].ID != rc.ProjectID {
				t.Fatalf("ListProjects = %+v", projects)
			}
			if projects[0].Status != domain.ProjectPlanning || !projects[0].CreatedAt.Equal(first) {
				t.Fatalf("project[0] = %+v", projects[0])
			}
			tasks, err := st.ListTasks(ctx, rc.ProjectID)
			if err != nil {
				t.Fatalf("ListTasks: %v", err)
			}
			if len(tasks) != 2 || tasks[0].Title != "Reconcile" || tasks[1].ProjectID != rc.ProjectID {
				t.Fatalf("ListTasks = %+v", tasks)
			}
			if tasks[0].Status != domain.TaskToDo {
				t.Fatalf("task status = %q", tasks[0].Status)
			}
		})
	}
}

func TestCommitGenerationRace(t *testing.T) {
	t.Parallel()
	for _, dc := range drivers() {
		t.Run(dc.name, func(t *testing.T) {
			t.Parallel()
			st := dc.open(t)
			defer st.Close()
			ctx := context.Background()
			if err := st.SaveTemplate(ctx, sampleTemplate("tpl")); err != nil {
				t.Fatalf("SaveTemplate: %v", err)
			}

			at := time.Date(2025, time.April, 7, 8, 30, 0, 0, time.UTC)
			const writers = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				ok        int
				conflicts int
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := st.CommitGeneration(ctx, sampleCommit("tpl", nil, at.Add(time.Duration(i)*time.Second)))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						ok++
					case errors.Is(err, ErrConflict):
						conflicts++
					default:
						t.Errorf("CommitGeneration: %v", err)
					}
				}(i)
			}
			wg.Wait()
			if ok != 1 || conflicts != writers-1 {
				t.Fatalf("ok=%d conflicts=%d, want 1 and %d", ok, conflicts, writers-1)
			}
			projects, _ := st.ListProjects(ctx, "tpl")
			if len(projects) != 1 {
				t.Fatalf("persisted %d projects, want 1", len(projects))
			}
		})
	}
}

func TestRuns(t *testing.T) {
	t.Parallel()
	for _, dc := range drivers() {
		t.Run(dc.name, func(t *testing.T) {
			t.Parallel()
			st := dc.open(t)
			defer st.Close()
			ctx := context.Background()
			base := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)
			runs := []Run{
				{At: base, TemplateID: "a", Mode: "automatic", OK: true, ProjectID: "p1", TookMS: 3},
				{At: base.Add(time.Hour), TemplateID: "b", Mode: "explicit", OK: false, Error: "boom"},
				{At: base.Add(2 * time.Hour), TemplateID: "a", Mode: "automatic", OK: true, ProjectID: "p2"},
			}
			for _, r := range runs {
				if err := st.AppendRun(ctx, r); err != nil {
					t.Fatalf("AppendRun: %v", err)
				}
			}
			got, err := st.ListRuns(ctx, "a", 0)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(got) != 2 || got[0].ProjectID != "p2" || got[1].ProjectID != "p1" {
				t.Fatalf("ListRuns(a) = %+v", got)
			}
			all, _ := st.ListRuns(ctx, "", 1)
			if len(all) != 1 || all[0].ProjectID != "p2" {
				t.Fatalf("ListRuns(all, 1) = %+v", all)
			}
			b, _ := st.ListRuns(ctx, "b", 10)
			if len(b) != 1 || b[0].OK || b[0].Error != "boom" {
				t.Fatalf("ListRuns(b) = %+v", b)
			}
		})
	}
}

func TestFileStoreReopen(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	cfg := Config{Driver: "file", Path: "/data/store.json", Fs: fs}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.SaveTemplate(ctx, sampleTemplate("tpl")); err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}
	at := time.Date(2025, time.March, 3, 8, 30, 0, 0, time.UTC)
	if _, err := st.CommitGeneration(ctx, sampleCommit("tpl", nil, at)); err != nil {
		t.Fatalf("CommitGeneration: %v", err)
	}
	_ = st.Close()
	if _, err := st.ListTemplates(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed store err = %v, want ErrClosed", err)
	}
	if ok, _ := afero.Exists(fs, "/data/store.json.tmp"); ok {
		t.Fatal("temp snapshot left behind")
	}

	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	tpl, err := st2.GetTemplate(ctx, "tpl")
	if err != nil {
		t.Fatalf("GetTemplate after reopen: %v", err)
	}
	if tpl.LastGeneratedAt == nil || !tpl.LastGeneratedAt.Equal(at) {
		t.Fatalf("LastGeneratedAt after reopen = %v", tpl.LastGeneratedAt)
	}
	projects, _ := st2.ListProjects(ctx, "")
	if len(projects) != 1 {
		t.Fatalf("projects after reopen = %d, want 1", len(projects))
	}
}

func TestFileStoreRejectsCorruptSnapshot(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/data/store.json", []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(Config{Driver: "file", Path: "/data/store.json", Fs: fs}, logx.Nop()); err == nil {
		t.Fatal("expected error for corrupt snapshot")
	}
}
