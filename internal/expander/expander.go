// Package expander turns a template into a dated project and its tasks.
package expander

import (
	"errors"
	"fmt"
	"time"

	"recurplan/internal/calendar"
	"recurplan/internal/domain"
)

// ErrInvalidDuration is returned when a template carries a non-positive
// explicit duration.
var ErrInvalidDuration = errors.New("invalid duration")

// DurationSource records where the project length came from.
type DurationSource string

const (
	DurationExplicit DurationSource = "explicit"
	DurationPriority DurationSource = "priority"
	DurationDefault  DurationSource = "default"
)

// Expansion is the output of Expand.
type Expansion struct {
	Project        domain.GeneratedProject
	Tasks          []domain.GeneratedTask
	DurationSource DurationSource
}

// ResolveDuration picks the project length in working days: the explicit
// value when set, else the priority table, else DefaultDurationDays.
func ResolveDuration(tpl domain.Template, table domain.PriorityDurationTable) (int, DurationSource, error) {
	if tpl.ExplicitDurationDays != nil {
		if *tpl.ExplicitDurationDays <= 0 {
			return 0, "", fmt.Errorf("%w: explicit_duration_days must be positive (got %d)", ErrInvalidDuration, *tpl.ExplicitDurationDays)
		}
		return *tpl.ExplicitDurationDays, DurationExplicit, nil
	}
	if d, ok := table.Lookup(tpl.Project.Priority); ok {
		return d, DurationPriority, nil
	}
	return domain.DefaultDurationDays, DurationDefault, nil
}

// Expand computes the project window starting at date and resolves every
// task blueprint's due date against the project end. Only the calendar day
// of date is used.
func Expand(cal *calendar.Calendar, tpl domain.Template, date time.Time, table domain.PriorityDurationTable) (Expansion, error) {
	if cal == nil {
		cal = calendar.Default
	}
	days, src, err := ResolveDuration(tpl, table)
	if err != nil {
		return Expansion{}, err
	}

	start := domain.StartOfDay(date)
	if err := calendar.CheckAdd(start, days); err != nil {
		return Expansion{}, err
	}
	end := cal.AddWorkingDays(start, days)

	bp := tpl.Project
	project := domain.GeneratedProject{
		TemplateID:   tpl.ID,
		Name:         bp.Name,
		Description:  bp.Description,
		ClientID:     bp.ClientID,
		TeamLeaderID: bp.TeamLeaderID,
		Priority:     bp.Priority,
		StartDate:    start,
		EndDate:      end,
		DurationDays: days,
		Status:       domain.ProjectPlanning,
	}

	tasks := make([]domain.GeneratedTask, 0, len(tpl.Tasks))
	for i, tb := range tpl.Tasks {
		due, err := DueDate(cal, tb.DueDate, end)
		if err != nil {
			return Expansion{}, fmt.Errorf("task %d (%q): %w", i, tb.Title, err)
		}
		tasks = append(tasks, domain.GeneratedTask{
			Title:             tb.Title,
			Description:       tb.Description,
			Priority:          tb.Priority,
			ClientID:          bp.ClientID,
			Status:            domain.TaskToDo,
			DueDate:           due,
			AssignedUserID:    tb.AssignedUserID,
			EstimatedDuration: tb.EstimatedDuration,
			ActivityType:      tb.ActivityType,
		})
	}
	return Expansion{Project: project, Tasks: tasks, DurationSource: src}, nil
}

// DueDate resolves a single due-date policy against the project end.
func DueDate(cal *calendar.Calendar, p domain.DueDatePolicy, projectEnd time.Time) (time.Time, error) {
	switch p.Kind {
	case "", domain.DueProjectEnd:
		return projectEnd, nil
	case domain.DueDaysBeforeEnd:
		if p.Days < 0 {
			return time.Time{}, fmt.Errorf("%w: days_before_end must be >= 0 (got %d)", domain.ErrInvalidTemplate, p.Days)
		}
		if err := calendar.CheckSubtract(projectEnd, p.Days); err != nil {
			return time.Time{}, err
		}
		return cal.SubtractWorkingDays(projectEnd, p.Days), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown due date policy %q", domain.ErrInvalidTemplate, p.Kind)
	}
}
