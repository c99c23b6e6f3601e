package domain

import (
	"fmt"
	"strings"
)

// Priority is the closed priority enum used by projects and tasks.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists every priority, lowest first.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ParsePriority accepts the canonical names case-insensitively.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// DefaultDurationDays is the project length used when neither the template
// nor the priority table provides one.
const DefaultDurationDays = 7

// PriorityDurationTable maps a priority to a number of working days.
type PriorityDurationTable map[Priority]int

// Lookup returns the configured duration for p. Missing and non-positive
// entries report ok=false.
func (t PriorityDurationTable) Lookup(p Priority) (days int, ok bool) {
	if t == nil {
		return 0, false
	}
	d, ok := t[p]
	if !ok || d <= 0 {
		return 0, false
	}
	return d, true
}
