package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidTemplate is returned when a template's blueprint fails validation.
var ErrInvalidTemplate = errors.New("invalid template")

type DuePolicyKind string

const (
	DueProjectEnd    DuePolicyKind = "project_end"
	DueDaysBeforeEnd DuePolicyKind = "days_before_end"
)

// DueDatePolicy resolves a task's due date relative to the project end.
// The zero value means project end.
type DueDatePolicy struct {
	Kind DuePolicyKind `json:"kind,omitempty" validate:"omitempty,oneof=project_end days_before_end"`
	Days int           `json:"days,omitempty" validate:"gte=0"`
}

func ProjectEnd() DueDatePolicy { return DueDatePolicy{Kind: DueProjectEnd} }

func DaysBeforeEnd(n int) DueDatePolicy { return DueDatePolicy{Kind: DueDaysBeforeEnd, Days: n} }

// TaskBlueprint is one task of a template. EstimatedDuration is in hours.
type TaskBlueprint struct {
	Title             string        `json:"title" validate:"required"`
	Description       string        `json:"description,omitempty"`
	Priority          Priority      `json:"priority" validate:"required,oneof=low medium high critical"`
	EstimatedDuration float64       `json:"estimated_duration,omitempty" validate:"gte=0"`
	ActivityType      string        `json:"activity_type,omitempty"`
	AssignedUserID    string        `json:"assigned_user_id,omitempty"`
	DueDate           DueDatePolicy `json:"due_date"`
}

type ProjectBlueprint struct {
	Name         string   `json:"name" validate:"required"`
	Description  string   `json:"description,omitempty"`
	ClientID     string   `json:"client_id,omitempty"`
	TeamLeaderID string   `json:"team_leader_id,omitempty"`
	Priority     Priority `json:"priority" validate:"required,oneof=low medium high critical"`
}

// Template is a recurring project template as supplied by the template store.
//
// ExplicitDurationDays overrides the priority table when set; a non-positive
// value is rejected at expansion time rather than here.
type Template struct {
	ID                   string           `json:"id" validate:"required"`
	Name                 string           `json:"name" validate:"required"`
	Active               bool             `json:"active"`
	Recurrence           RecurrenceRule   `json:"recurrence"`
	ExplicitDurationDays *int             `json:"explicit_duration_days,omitempty"`
	Project              ProjectBlueprint `json:"project"`
	Tasks                []TaskBlueprint  `json:"tasks" validate:"dive"`
	LastGeneratedAt      *time.Time       `json:"last_generated_at,omitempty"`
}

var validate = validator.New()

// Validate checks the blueprint part of the template. The recurrence rule is
// validated separately (see RecurrenceRule.Validate) because explicit-date
// generation never consults it.
func (t Template) Validate() error {
	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed '%s'", e.Namespace(), e.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidTemplate, strings.Join(msgs, "; "))
	}
	return nil
}

// Days is a helper for ExplicitDurationDays.
func Days(n int) *int { return &n }
