package generation

import (
	"errors"
	"sync"
	"testing"
	"time"

	"recurplan/internal/calendar"
	"recurplan/internal/clock"
	"recurplan/internal/domain"
	"recurplan/internal/expander"
)

func weeklyTemplate() domain.Template {
	return domain.Template{
		ID:     "tpl-weekly",
		Name:   "Weekly ops review",
		Active: true,
		Recurrence: domain.RecurrenceRule{
			Kind:      domain.Weekly,
			TimeOfDay: domain.TimeOfDay{Hour: 9},
			DayOfWeek: domain.Weekday(time.Monday),
		},
		ExplicitDurationDays: domain.Days(10),
		Project:              domain.ProjectBlueprint{Name: "Ops review", ClientID: "c-1", Priority: domain.PriorityMedium},
		Tasks: []domain.TaskBlueprint{
			{Title: "Prepare metrics", Priority: domain.PriorityMedium, DueDate: domain.DaysBeforeEnd(2)},
			{Title: "Review", Priority: domain.PriorityHigh},
		},
	}
}

func TestGenerateAutomatic(t *testing.T) {
	t.Parallel()
	clk := clock.NewFixed(time.Date(2025, time.April, 9, 10, 0, 0, 0, time.UTC)) // Wednesday
	c := New(calendar.Default)

	res, err := c.Generate(weeklyTemplate(), AutomaticMode(), nil, clk.Now())
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if want := time.Date(2025, time.April, 14, 9, 0, 0, 0, time.UTC); !res.GenerationDate.Equal(want) {
		t.Fatalf("GenerationDate = %s, want %s", res.GenerationDate, want)
	}
	if !res.ProposedLastGeneratedAt.Equal(clk.Now()) {
		t.Fatalf("ProposedLastGeneratedAt = %s, want now", res.ProposedLastGeneratedAt)
	}
	if res.Mode != Automatic {
		t.Fatalf("Mode = %s", res.Mode)
	}
	// 10 working days from Monday 2025-04-14 skip Easter Monday and April 25.
	if want := time.Date(2025, time.April, 30, 0, 0, 0, 0, time.UTC); !res.Project.EndDate.Equal(want) {
		t.Fatalf("EndDate = %s, want %s", res.Project.EndDate.Format("2006-01-02"), want.Format("2006-01-02"))
	}
	if want := time.Date(2025, time.April, 28, 0, 0, 0, 0, time.UTC); !res.Tasks[0].DueDate.Equal(want) {
		t.Fatalf("Tasks[0].DueDate = %s, want %s", res.Tasks[0].DueDate.Format("2006-01-02"), want.Format("2006-01-02"))
	}
	if res.DurationSource != expander.DurationExplicit {
		t.Fatalf("DurationSource = %s", res.DurationSource)
	}
}

func TestGenerateExplicit(t *testing.T) {
	t.Parallel()
	c := New(nil)
	tpl := weeklyTemplate()
	// An explicit date never consults the rule, even a broken one.
	tpl.Recurrence = domain.RecurrenceRule{Kind: domain.Monthly}
	now := time.Date(2025, time.February, 20, 15, 0, 0, 0, time.UTC)
	date := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)

	res, err := c.Generate(tpl, ExplicitMode(date), nil, now)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if !res.Project.StartDate.Equal(date) {
		t.Fatalf("StartDate = %s, want %s", res.Project.StartDate, date)
	}
	if want := time.Date(2025, time.March, 17, 0, 0, 0, 0, time.UTC); !res.Project.EndDate.Equal(want) {
		t.Fatalf("EndDate = %s, want %s", res.Project.EndDate.Format("2006-01-02"), want.Format("2006-01-02"))
	}
	if !res.ProposedLastGeneratedAt.Equal(now) {
		t.Fatalf("ProposedLastGeneratedAt = %s, want %s", res.ProposedLastGeneratedAt, now)
	}

	if _, err := c.Generate(tpl, Mode{Kind: Explicit}, nil, now); err == nil {
		t.Fatal("expected error for explicit mode without date")
	}
}

func TestGenerateExhausted(t *testing.T) {
	t.Parallel()
	tpl := weeklyTemplate()
	tpl.Recurrence.EndDate = &domain.Date{Year: 2025, Month: time.April, Day: 10}
	now := time.Date(2025, time.April, 9, 10, 0, 0, 0, time.UTC)

	res, err := New(nil).Generate(tpl, AutomaticMode(), nil, now)
	if !errors.Is(err, ErrRecurrenceExhausted) {
		t.Fatalf("err = %v, want ErrRecurrenceExhausted", err)
	}
	if !Permanent(err) {
		t.Fatal("exhaustion should be permanent")
	}
	if res.Project.Name != "" || res.Tasks != nil {
		t.Fatalf("partial result returned: %+v", res)
	}

	// The same template still expands for an explicit date.
	if _, err := New(nil).Generate(tpl, ExplicitMode(now), nil, now); err != nil {
		t.Fatalf("explicit generate on exhausted rule: %v", err)
	}
}

func TestGenerateErrors(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.April, 9, 10, 0, 0, 0, time.UTC)
	c := New(nil)

	noDay := weeklyTemplate()
	noDay.Recurrence.DayOfWeek = nil
	if _, err := c.Generate(noDay, AutomaticMode(), nil, now); !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("err = %v, want ErrInvalidRule", err)
	}

	zero := weeklyTemplate()
	zero.ExplicitDurationDays = domain.Days(0)
	if _, err := c.Generate(zero, AutomaticMode(), nil, now); !errors.Is(err, expander.ErrInvalidDuration) {
		t.Fatalf("err = %v, want ErrInvalidDuration", err)
	}

	noName := weeklyTemplate()
	noName.Project.Name = ""
	_, err := c.Generate(noName, AutomaticMode(), nil, now)
	if !errors.Is(err, domain.ErrInvalidTemplate) {
		t.Fatalf("err = %v, want ErrInvalidTemplate", err)
	}
	if !Permanent(err) {
		t.Fatal("invalid template should be permanent")
	}
	if Permanent(errors.New("disk full")) {
		t.Fatal("arbitrary errors are not permanent")
	}
}

func TestGenerateExplicitOutOfRangeYear(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.April, 9, 10, 0, 0, 0, time.UTC)
	c := New(nil)
	for _, d := range []time.Time{
		time.Date(1500, time.March, 2, 0, 0, 0, 0, time.UTC),
		time.Date(10000, time.January, 3, 0, 0, 0, 0, time.UTC),
		time.Date(9999, time.December, 30, 0, 0, 0, 0, time.UTC),
	} {
		var (
			res Result
			err error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Generate(%s) panicked: %v", d.Format("2006-01-02"), r)
				}
			}()
			res, err = c.Generate(weeklyTemplate(), ExplicitMode(d), nil, now)
		}()
		if !errors.Is(err, calendar.ErrEasterOutOfRange) {
			t.Fatalf("Generate(%s) err = %v, want ErrEasterOutOfRange", d.Format("2006-01-02"), err)
		}
		if res.TemplateID != "" || res.Tasks != nil {
			t.Fatalf("Generate(%s) returned a partial result: %+v", d.Format("2006-01-02"), res)
		}
		if !Permanent(err) {
			t.Fatalf("Generate(%s) error should be permanent", d.Format("2006-01-02"))
		}
	}
}

func TestGenerateConcurrent(t *testing.T) {
	t.Parallel()
	c := New(nil)
	now := time.Date(2025, time.April, 9, 10, 0, 0, 0, time.UTC)
	want, err := c.Generate(weeklyTemplate(), AutomaticMode(), nil, now)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Generate(weeklyTemplate(), AutomaticMode(), nil, now)
			if err != nil {
				errs <- err
				return
			}
			if !got.Project.EndDate.Equal(want.Project.EndDate) {
				errs <- errors.New("non-deterministic end date")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}
