// Package calendar decides which days are working days and does working-day
// arithmetic on top of that.
//
// A working day is any day that is not a Saturday or Sunday, not one of the
// fixed annual holidays, and not Easter Monday of its year. All arithmetic
// walks one calendar day at a time; holiday sets are irregular, so there is
// no closed-form week math here.
package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrEasterOutOfRange is returned for years outside the supported Gregorian range.
var ErrEasterOutOfRange = errors.New("easter computation out of range")

const (
	minYear = 1583 // first full Gregorian year
	maxYear = 9999
)

// MonthDay is a fixed annual date.
type MonthDay struct {
	Month time.Month
	Day   int
}

func (md MonthDay) String() string { return fmt.Sprintf("%02d-%02d", int(md.Month), md.Day) }

// ParseMonthDay parses "MM-DD".
func ParseMonthDay(s string) (MonthDay, error) {
	t, err := time.Parse("01-02", strings.TrimSpace(s))
	if err != nil {
		return MonthDay{}, fmt.Errorf("invalid holiday %q (want MM-DD)", s)
	}
	return MonthDay{Month: t.Month(), Day: t.Day()}, nil
}

// FixedHolidays are the ten national holidays that fall on the same date every year.
var FixedHolidays = []MonthDay{
	{time.January, 1},   // New Year
	{time.January, 6},   // Epiphany
	{time.April, 25},    // Liberation Day
	{time.May, 1},       // Labour Day
	{time.June, 2},      // Republic Day
	{time.August, 15},   // Assumption
	{time.November, 1},  // All Saints
	{time.December, 8},  // Immaculate Conception
	{time.December, 25}, // Christmas
	{time.December, 26}, // St. Stephen
}

// Calendar is immutable after New and safe for concurrent use.
type Calendar struct {
	fixed map[MonthDay]struct{}
}

// New returns a calendar with FixedHolidays plus any extra fixed dates.
func New(extra ...MonthDay) *Calendar {
	c := &Calendar{fixed: make(map[MonthDay]struct{}, len(FixedHolidays)+len(extra))}
	for _, md := range FixedHolidays {
		c.fixed[md] = struct{}{}
	}
	for _, md := range extra {
		c.fixed[md] = struct{}{}
	}
	return c
}

// Default is the calendar with only the national holidays.
var Default = New()

// EasterSunday computes Easter Sunday with the anonymous Gregorian algorithm.
func EasterSunday(year int, loc *time.Location) (time.Time, error) {
	if year < minYear || year > maxYear {
		return time.Time{}, fmt.Errorf("%w: year %d not in %d..%d", ErrEasterOutOfRange, year, minYear, maxYear)
	}
	if loc == nil {
		loc = time.Local
	}
	a := year % 19 // position in the metonic cycle
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30 // epact
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc), nil
}

// EasterMonday is the day after EasterSunday.
func EasterMonday(year int, loc *time.Location) (time.Time, error) {
	sun, err := EasterSunday(year, loc)
	if err != nil {
		return time.Time{}, err
	}
	return sun.AddDate(0, 0, 1), nil
}

func mustEasterMonday(year int, loc *time.Location) time.Time {
	t, err := EasterMonday(year, loc)
	if err != nil {
		panic(err)
	}
	return t
}

// CheckYear returns an error wrapping ErrEasterOutOfRange when day falls in a
// year the calendar cannot evaluate.
func CheckYear(day time.Time) error {
	if y := day.Year(); y < minYear || y > maxYear {
		return fmt.Errorf("%w: year %d not in %d..%d", ErrEasterOutOfRange, y, minYear, maxYear)
	}
	return nil
}

// CheckAdd returns an error wrapping ErrEasterOutOfRange when
// AddWorkingDays(day, n) could walk outside the supported years.
func CheckAdd(day time.Time, n int) error {
	if err := CheckYear(day); err != nil {
		return err
	}
	return CheckYear(day.AddDate(0, 0, walkSpan(n)))
}

// CheckSubtract is CheckAdd for SubtractWorkingDays.
func CheckSubtract(day time.Time, n int) error {
	if err := CheckYear(day); err != nil {
		return err
	}
	return CheckYear(day.AddDate(0, 0, -walkSpan(n)))
}

// walkSpan bounds the calendar days covered by a walk of n working days,
// final snap included.
func walkSpan(n int) int {
	if n < 0 {
		n = -n
	}
	return 2*n + 31
}

// IsHoliday reports whether day (any time of day) is a fixed holiday or Easter Monday.
// It panics for years outside 1583..9999; use CheckYear on untrusted input.
func (c *Calendar) IsHoliday(day time.Time) bool {
	y, m, d := day.Date()
	if _, ok := c.fixed[MonthDay{Month: m, Day: d}]; ok {
		return true
	}
	em := mustEasterMonday(y, day.Location())
	return em.Month() == m && em.Day() == d
}

// IsWorkingDay reports whether day is neither a weekend day nor a holiday.
func (c *Calendar) IsWorkingDay(day time.Time) bool {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.IsHoliday(day)
}

// NextWorkingDay returns day itself when it is a working day, otherwise the
// first working day after it.
func (c *Calendar) NextWorkingDay(day time.Time) time.Time {
	for !c.IsWorkingDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

// PreviousWorkingDay returns day itself when it is a working day, otherwise the
// last working day before it.
func (c *Calendar) PreviousWorkingDay(day time.Time) time.Time {
	for !c.IsWorkingDay(day) {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// AddWorkingDays walks forward until n working days have been counted, then
// snaps to the next working day. n <= 0 is NextWorkingDay(day).
func (c *Calendar) AddWorkingDays(day time.Time, n int) time.Time {
	if n <= 0 {
		return c.NextWorkingDay(day)
	}
	for counted := 0; counted < n; {
		day = day.AddDate(0, 0, 1)
		if c.IsWorkingDay(day) {
			counted++
		}
	}
	return c.NextWorkingDay(day)
}

// SubtractWorkingDays mirrors AddWorkingDays backwards, finishing with
// PreviousWorkingDay. The two are not exact inverses when day itself is not a
// working day.
func (c *Calendar) SubtractWorkingDays(day time.Time, n int) time.Time {
	if n <= 0 {
		return c.PreviousWorkingDay(day)
	}
	for counted := 0; counted < n; {
		day = day.AddDate(0, 0, -1)
		if c.IsWorkingDay(day) {
			counted++
		}
	}
	return c.PreviousWorkingDay(day)
}

// Holidays lists every holiday of year (fixed dates plus Easter Monday) in date order.
func (c *Calendar) Holidays(year int, loc *time.Location) ([]time.Time, error) {
	em, err := EasterMonday(year, loc)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	out := make([]time.Time, 0, len(c.fixed)+1)
	for md := range c.fixed {
		t := time.Date(year, md.Month, md.Day, 0, 0, 0, 0, loc)
		// Feb 29 in a non-leap year normalizes into March; skip it.
		if t.Month() != md.Month {
			continue
		}
		out = append(out, t)
	}
	// Easter Monday can land on April 25.
	if _, dup := c.fixed[MonthDay{Month: em.Month(), Day: em.Day()}]; !dup {
		out = append(out, em)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// WorkingDaysBetween counts working days in (from, to]. It returns a negative
// count when to is before from.
func (c *Calendar) WorkingDaysBetween(from, to time.Time) int {
	sign := 1
	if to.Before(from) {
		from, to = to, from
		sign = -1
	}
	n := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if c.IsWorkingDay(d) {
			n++
		}
	}
	return sign * n
}
