package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRule is returned when a recurrence rule lacks a field its kind
// requires, or carries an out-of-range value.
var ErrInvalidRule = errors.New("invalid recurrence rule")

type RecurrenceKind string

const (
	Daily   RecurrenceKind = "daily"
	Weekly  RecurrenceKind = "weekly"
	Monthly RecurrenceKind = "monthly"
)

// TimeOfDay is a wall-clock HH:MM.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (00:00..23:59).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[1]) != 2 || len(parts[0]) == 0 || len(parts[0]) > 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
	}
	var hh, mm int
	for _, c := range parts[0] {
		if c < '0' || c > '9' {
			return TimeOfDay{}, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
		}
		hh = hh*10 + int(c-'0')
	}
	for _, c := range parts[1] {
		if c < '0' || c > '9' {
			return TimeOfDay{}, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
		}
		mm = mm*10 + int(c-'0')
	}
	tod := TimeOfDay{Hour: hh, Minute: mm}
	if !tod.Valid() {
		return TimeOfDay{}, fmt.Errorf("time of day out of range %q", s)
	}
	return tod, nil
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

// On returns the instant t falls on the calendar day of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, day.Location())
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// RecurrenceRule describes how often and at what time a template fires.
//
// DayOfWeek follows time.Weekday (Sunday=0, Monday=1). It is required for
// weekly and monthly rules. WeekOfMonth (1..4) is required for monthly rules.
// EndDate, when set, is an exclusive bound: occurrences on or after it are
// never produced.
type RecurrenceRule struct {
	Kind        RecurrenceKind `json:"kind"`
	TimeOfDay   TimeOfDay      `json:"time_of_day"`
	DayOfWeek   *time.Weekday  `json:"day_of_week,omitempty"`
	WeekOfMonth int            `json:"week_of_month,omitempty"`
	EndDate     *Date          `json:"end_date,omitempty"`
}

// Validate checks the fields required by r.Kind.
func (r RecurrenceRule) Validate() error {
	if !r.TimeOfDay.Valid() {
		return fmt.Errorf("%w: time_of_day %s out of range", ErrInvalidRule, r.TimeOfDay)
	}
	if r.DayOfWeek != nil && (*r.DayOfWeek < time.Sunday || *r.DayOfWeek > time.Saturday) {
		return fmt.Errorf("%w: day_of_week %d out of range 0..6", ErrInvalidRule, int(*r.DayOfWeek))
	}
	switch r.Kind {
	case Daily:
	case Weekly:
		if r.DayOfWeek == nil {
			return fmt.Errorf("%w: weekly rule requires day_of_week", ErrInvalidRule)
		}
	case Monthly:
		if r.DayOfWeek == nil {
			return fmt.Errorf("%w: monthly rule requires day_of_week", ErrInvalidRule)
		}
		if r.WeekOfMonth < 1 || r.WeekOfMonth > 4 {
			return fmt.Errorf("%w: monthly rule requires week_of_month in 1..4 (got %d)", ErrInvalidRule, r.WeekOfMonth)
		}
	case "":
		return fmt.Errorf("%w: kind required", ErrInvalidRule)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, r.Kind)
	}
	return nil
}

// Weekday is a small helper for building rules in code.
func Weekday(d time.Weekday) *time.Weekday { return &d }

func (r RecurrenceRule) String() string {
	var b strings.Builder
	b.WriteString(string(r.Kind))
	if r.DayOfWeek != nil {
		if r.Kind == Monthly {
			fmt.Fprintf(&b, " #%d", r.WeekOfMonth)
		}
		b.WriteString(" ")
		b.WriteString(r.DayOfWeek.String())
	}
	b.WriteString(" at ")
	b.WriteString(r.TimeOfDay.String())
	if r.EndDate != nil {
		b.WriteString(" until ")
		b.WriteString(r.EndDate.String())
	}
	return b.String()
}
