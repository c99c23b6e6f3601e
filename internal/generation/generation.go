// Package generation coordinates a single "generate now" or "generate for
// date" invocation: it resolves the generation date, expands the template and
// packages the result. It performs no I/O.
//
// Callers persist the project, then its tasks, then the template's
// LastGeneratedAt marker, and treat a failure of any step as a full rollback.
package generation

import (
	"errors"
	"fmt"
	"time"

	"recurplan/internal/calendar"
	"recurplan/internal/domain"
	"recurplan/internal/expander"
	"recurplan/internal/recurrence"
)

// ErrRecurrenceExhausted is returned in Automatic mode when the template's
// rule has passed its end date. Callers usually deactivate the template.
var ErrRecurrenceExhausted = recurrence.ErrExhausted

type ModeKind int

const (
	// Automatic derives the generation date from the recurrence rule.
	Automatic ModeKind = iota
	// Explicit uses a caller-supplied date and never consults the rule.
	Explicit
)

func (k ModeKind) String() string {
	switch k {
	case Automatic:
		return "automatic"
	case Explicit:
		return "explicit"
	default:
		return fmt.Sprintf("mode(%d)", int(k))
	}
}

type Mode struct {
	Kind ModeKind
	Date time.Time // Explicit only
}

func AutomaticMode() Mode { return Mode{Kind: Automatic} }

func ExplicitMode(date time.Time) Mode { return Mode{Kind: Explicit, Date: date} }

// Result is complete or absent; Generate never returns a partial one.
type Result struct {
	TemplateID string
	Mode       ModeKind

	// GenerationDate is the occurrence (Automatic) or the supplied date (Explicit).
	GenerationDate time.Time

	Project        domain.GeneratedProject
	Tasks          []domain.GeneratedTask
	DurationSource expander.DurationSource

	// ProposedLastGeneratedAt is the "now" passed to Generate.
	ProposedLastGeneratedAt time.Time
}

// Coordinator is stateless apart from its calendar; one value can serve any
// number of concurrent calls.
type Coordinator struct {
	cal *calendar.Calendar
}

func New(cal *calendar.Calendar) *Coordinator {
	if cal == nil {
		cal = calendar.Default
	}
	return &Coordinator{cal: cal}
}

func (c *Coordinator) Calendar() *calendar.Calendar { return c.cal }

// Generate runs one generation for tpl.
func (c *Coordinator) Generate(tpl domain.Template, mode Mode, table domain.PriorityDurationTable, now time.Time) (Result, error) {
	if err := tpl.Validate(); err != nil {
		return Result{}, err
	}

	var date time.Time
	switch mode.Kind {
	case Automatic:
		next, err := recurrence.NextOccurrence(tpl.Recurrence, now)
		if err != nil {
			return Result{}, fmt.Errorf("template %s: %w", tpl.ID, err)
		}
		date = next
	case Explicit:
		if mode.Date.IsZero() {
			return Result{}, errors.New("explicit mode requires a date")
		}
		if err := calendar.CheckYear(mode.Date); err != nil {
			return Result{}, fmt.Errorf("template %s: %w", tpl.ID, err)
		}
		date = mode.Date
	default:
		return Result{}, fmt.Errorf("unknown generation mode %s", mode.Kind)
	}

	exp, err := expander.Expand(c.cal, tpl, date, table)
	if err != nil {
		return Result{}, fmt.Errorf("template %s: %w", tpl.ID, err)
	}

	return Result{
		TemplateID:              tpl.ID,
		Mode:                    mode.Kind,
		GenerationDate:          date,
		Project:                 exp.Project,
		Tasks:                   exp.Tasks,
		DurationSource:          exp.DurationSource,
		ProposedLastGeneratedAt: now,
	}, nil
}

// Permanent reports whether err will recur on every retry of Generate with
// the same inputs.
func Permanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidRule) ||
		errors.Is(err, domain.ErrInvalidTemplate) ||
		errors.Is(err, expander.ErrInvalidDuration) ||
		errors.Is(err, calendar.ErrEasterOutOfRange) ||
		errors.Is(err, ErrRecurrenceExhausted)
}
