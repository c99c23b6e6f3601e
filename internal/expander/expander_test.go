package expander

import (
	"errors"
	"testing"
	"time"

	"recurplan/internal/calendar"
	"recurplan/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleTemplate() domain.Template {
	return domain.Template{
		ID:   "tpl-1",
		Name: "Quarterly audit",
		Project: domain.ProjectBlueprint{
			Name:         "Audit",
			Description:  "Quarterly compliance audit",
			ClientID:     "client-9",
			TeamLeaderID: "lead-2",
			Priority:     domain.PriorityHigh,
		},
		Tasks: []domain.TaskBlueprint{
			{Title: "Gather evidence", Priority: domain.PriorityMedium, EstimatedDuration: 6, ActivityType: "analysis", AssignedUserID: "u-1", DueDate: domain.DaysBeforeEnd(2)},
			{Title: "Final report", Priority: domain.PriorityHigh, EstimatedDuration: 3, ActivityType: "writing", DueDate: domain.ProjectEnd()},
			{Title: "Kickoff", Priority: domain.PriorityLow},
		},
	}
}

func TestExpandExplicitDuration(t *testing.T) {
	t.Parallel()
	tpl := sampleTemplate()
	tpl.ExplicitDurationDays = domain.Days(10)

	// Monday 2025-03-03, a plain working week.
	exp, err := Expand(calendar.Default, tpl, time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC), nil)
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if exp.DurationSource != DurationExplicit {
		t.Fatalf("DurationSource = %s, want explicit", exp.DurationSource)
	}
	p := exp.Project
	if !p.StartDate.Equal(day(2025, time.March, 3)) {
		t.Fatalf("StartDate = %s", p.StartDate)
	}
	if !p.EndDate.Equal(day(2025, time.March, 17)) {
		t.Fatalf("EndDate = %s, want 2025-03-17", p.EndDate.Format("2006-01-02"))
	}
	if p.Status != domain.ProjectPlanning || p.Progress != 0 || p.SpentBudget != 0 {
		t.Fatalf("unexpected initial project state: %+v", p)
	}
	if p.DurationDays != 10 || p.TemplateID != "tpl-1" || p.TeamLeaderID != "lead-2" {
		t.Fatalf("unexpected project fields: %+v", p)
	}

	if len(exp.Tasks) != 3 {
		t.Fatalf("len(Tasks) = %d, want 3", len(exp.Tasks))
	}
	if got := exp.Tasks[0].DueDate; !got.Equal(day(2025, time.March, 13)) {
		t.Fatalf("Tasks[0].DueDate = %s, want 2025-03-13", got.Format("2006-01-02"))
	}
	if got := exp.Tasks[1].DueDate; !got.Equal(p.EndDate) {
		t.Fatalf("Tasks[1].DueDate = %s, want project end", got.Format("2006-01-02"))
	}
	if got := exp.Tasks[2].DueDate; !got.Equal(p.EndDate) {
		t.Fatalf("Tasks[2].DueDate (zero policy) = %s, want project end", got.Format("2006-01-02"))
	}
	for i, task := range exp.Tasks {
		if task.ClientID != "client-9" {
			t.Fatalf("Tasks[%d].ClientID = %q, want client-9", i, task.ClientID)
		}
		if task.Status != domain.TaskToDo {
			t.Fatalf("Tasks[%d].Status = %q", i, task.Status)
		}
	}
	first := exp.Tasks[0]
	if first.AssignedUserID != "u-1" || first.EstimatedDuration != 6 || first.ActivityType != "analysis" || first.Priority != domain.PriorityMedium {
		t.Fatalf("Tasks[0] did not copy blueprint fields: %+v", first)
	}
}

func TestExpandAcrossHolidays(t *testing.T) {
	t.Parallel()
	tpl := sampleTemplate()
	tpl.ExplicitDurationDays = domain.Days(10)

	// Easter Monday (04-21) and Liberation Day (04-25) fall inside the window.
	exp, err := Expand(calendar.Default, tpl, day(2025, time.April, 14), nil)
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if !exp.Project.EndDate.Equal(day(2025, time.April, 30)) {
		t.Fatalf("EndDate = %s, want 2025-04-30", exp.Project.EndDate.Format("2006-01-02"))
	}
	if got := exp.Tasks[0].DueDate; !got.Equal(day(2025, time.April, 28)) {
		t.Fatalf("DaysBeforeEnd(2) = %s, want 2025-04-28", got.Format("2006-01-02"))
	}
}

func TestExpandDurationFallbacks(t *testing.T) {
	t.Parallel()
	start := day(2025, time.March, 3)

	tpl := sampleTemplate()
	table := domain.PriorityDurationTable{domain.PriorityHigh: 3}
	exp, err := Expand(calendar.Default, tpl, start, table)
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if exp.DurationSource != DurationPriority || exp.Project.DurationDays != 3 {
		t.Fatalf("priority table not used: %s %d", exp.DurationSource, exp.Project.DurationDays)
	}
	if !exp.Project.EndDate.Equal(day(2025, time.March, 6)) {
		t.Fatalf("EndDate = %s, want 2025-03-06", exp.Project.EndDate.Format("2006-01-02"))
	}

	exp, err = Expand(calendar.Default, tpl, start, domain.PriorityDurationTable{domain.PriorityLow: 20})
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if exp.DurationSource != DurationDefault || exp.Project.DurationDays != domain.DefaultDurationDays {
		t.Fatalf("default not used: %s %d", exp.DurationSource, exp.Project.DurationDays)
	}
	if !exp.Project.EndDate.Equal(day(2025, time.March, 12)) {
		t.Fatalf("EndDate = %s, want 2025-03-12", exp.Project.EndDate.Format("2006-01-02"))
	}
}

func TestExpandInvalidExplicitDuration(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, -4} {
		tpl := sampleTemplate()
		tpl.ExplicitDurationDays = domain.Days(n)
		_, err := Expand(calendar.Default, tpl, day(2025, time.March, 3), domain.PriorityDurationTable{domain.PriorityHigh: 5})
		if !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("explicit %d: err = %v, want ErrInvalidDuration", n, err)
		}
	}
}

func TestExpandOutOfRangeYear(t *testing.T) {
	t.Parallel()
	tpl := sampleTemplate()
	tpl.ExplicitDurationDays = domain.Days(5)
	for _, d := range []time.Time{day(1500, time.March, 2), day(9999, time.December, 28)} {
		if _, err := Expand(calendar.Default, tpl, d, nil); !errors.Is(err, calendar.ErrEasterOutOfRange) {
			t.Fatalf("Expand(%s) err = %v, want ErrEasterOutOfRange", d.Format("2006-01-02"), err)
		}
	}

	// Walking back from a project end just after 1583 starts leaves the range.
	if _, err := DueDate(calendar.Default, domain.DaysBeforeEnd(3), day(1583, time.January, 10)); !errors.Is(err, calendar.ErrEasterOutOfRange) {
		t.Fatalf("DueDate err = %v, want ErrEasterOutOfRange", err)
	}
}

func TestExpandDueDatesNeverAfterEnd(t *testing.T) {
	t.Parallel()
	cal := calendar.Default
	tpl := sampleTemplate()
	tpl.Tasks = nil
	for n := 0; n <= 12; n++ {
		tpl.Tasks = append(tpl.Tasks, domain.TaskBlueprint{Title: "t", Priority: domain.PriorityLow, DueDate: domain.DaysBeforeEnd(n)})
	}
	start := day(2025, time.December, 15)
	for i := 0; i < 30; i++ {
		exp, err := Expand(cal, tpl, start.AddDate(0, 0, i), nil)
		if err != nil {
			t.Fatalf("Expand error: %v", err)
		}
		end := exp.Project.EndDate
		if !cal.IsWorkingDay(end) {
			t.Fatalf("project end %s is not a working day", end.Format("2006-01-02"))
		}
		for _, task := range exp.Tasks {
			if task.DueDate.After(end) {
				t.Fatalf("due %s after end %s", task.DueDate.Format("2006-01-02"), end.Format("2006-01-02"))
			}
			if !cal.IsWorkingDay(task.DueDate) {
				t.Fatalf("due %s is not a working day", task.DueDate.Format("2006-01-02"))
			}
		}
	}
}

func TestDueDateUnknownPolicy(t *testing.T) {
	t.Parallel()
	_, err := DueDate(calendar.Default, domain.DueDatePolicy{Kind: "start_plus"}, day(2025, time.March, 3))
	if !errors.Is(err, domain.ErrInvalidTemplate) {
		t.Fatalf("err = %v, want ErrInvalidTemplate", err)
	}
}
