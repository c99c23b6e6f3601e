// Package recurrence computes when a recurring template fires next.
//
// Every computation takes "now" as a parameter and works in now's location.
// The result is never earlier than now.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"recurplan/internal/domain"
)

// ErrExhausted reports that the rule's end date has been reached: there are
// no further occurrences.
var ErrExhausted = errors.New("recurrence exhausted")

// NextOccurrence returns the next firing time of rule at or after now.
//
// Errors: domain.ErrInvalidRule for malformed rules, ErrExhausted when the
// next occurrence would fall on or after rule.EndDate.
func NextOccurrence(rule domain.RecurrenceRule, now time.Time) (time.Time, error) {
	if err := rule.Validate(); err != nil {
		return time.Time{}, err
	}

	var next time.Time
	switch rule.Kind {
	case domain.Daily:
		next = nextDaily(rule.TimeOfDay, now)
	case domain.Weekly:
		next = nextWeekly(rule.TimeOfDay, *rule.DayOfWeek, now)
	case domain.Monthly:
		next = nextMonthly(rule.TimeOfDay, *rule.DayOfWeek, rule.WeekOfMonth, now)
	}

	if rule.EndDate != nil {
		end := rule.EndDate.In(now.Location())
		if !next.Before(end) {
			return time.Time{}, fmt.Errorf("%w: next %s is not before end date %s",
				ErrExhausted, next.Format(time.RFC3339), rule.EndDate)
		}
	}
	return next, nil
}

// Upcoming lists up to n occurrences starting at from. It stops early, without
// error, once the rule is exhausted.
func Upcoming(rule domain.RecurrenceRule, from time.Time, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, max(n, 0))
	cur := from
	for len(out) < n {
		next, err := NextOccurrence(rule, cur)
		if errors.Is(err, ErrExhausted) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, next)
		cur = next.Add(time.Second)
	}
	return out, nil
}

func nextDaily(tod domain.TimeOfDay, now time.Time) time.Time {
	cand := tod.On(now)
	if cand.Before(now) {
		cand = tod.On(now.AddDate(0, 0, 1))
	}
	return cand
}

// mondayIndex maps time.Weekday to a Monday-first index (Monday=0 .. Sunday=6).
func mondayIndex(d time.Weekday) int { return (int(d) + 6) % 7 }

func nextWeekly(tod domain.TimeOfDay, dow time.Weekday, now time.Time) time.Time {
	today := domain.StartOfDay(now)
	weekStart := today.AddDate(0, 0, -mondayIndex(today.Weekday()))
	offset := mondayIndex(dow)

	cand := tod.On(weekStart.AddDate(0, 0, offset))
	if cand.Before(now) {
		cand = tod.On(weekStart.AddDate(0, 0, offset+7))
	}
	return cand
}

func nextMonthly(tod domain.TimeOfDay, dow time.Weekday, week int, now time.Time) time.Time {
	cand := tod.On(NthWeekdayOfMonth(now.Year(), now.Month(), dow, week, now.Location()))
	if cand.Before(now) {
		first := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, now.Location())
		cand = tod.On(NthWeekdayOfMonth(first.Year(), first.Month(), dow, week, now.Location()))
	}
	return cand
}

// NthWeekdayOfMonth returns the n-th (1-based) dow of the given month at
// midnight. For n in 1..4 the result always stays inside the month.
func NthWeekdayOfMonth(year int, month time.Month, dow time.Weekday, n int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	shift := (int(dow) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, shift+7*(n-1))
}
