package model

import (
	"fmt"
	"sort"
	"time"
)

// RecurrenceKind discriminates the closed set of supported recurrence rules.
type RecurrenceKind int

const (
	RecurNone RecurrenceKind = iota
	RecurDaily
	RecurWeekly
	RecurMonthly
)

// String returns a human-readable representation of the recurrence kind.
func (k RecurrenceKind) String() string {
	switch k {
	case RecurNone:
		return "none"
	case RecurDaily:
		return "daily"
	case RecurWeekly:
		return "weekly"
	case RecurMonthly:
		return "monthly"
	default:
		return "unknown"
	}
}

// RecurrenceRule is a tagged variant describing when a template produces
// occurrences. Only the fields belonging to the active Kind are meaningful;
// the constructors below reject ambiguous configurations up front.
type RecurrenceRule struct {
	Kind RecurrenceKind `json:"kind"`
	// Weekdays is the set of due weekdays for RecurWeekly, kept sorted.
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
	// DayOfMonth is the due day for RecurMonthly. Months shorter than the
	// configured day are due on their last day instead.
	DayOfMonth int `json:"day_of_month,omitempty"`
}

// OneShot returns a rule that is due only on the template's start date.
func OneShot() RecurrenceRule { return RecurrenceRule{Kind: RecurNone} }

// EveryDay returns a rule due on every date within the template's range.
func EveryDay() RecurrenceRule { return RecurrenceRule{Kind: RecurDaily} }

// WeeklyOn returns a rule due on the given weekdays.
func WeeklyOn(days ...time.Weekday) (RecurrenceRule, error) {
	if len(days) == 0 {
		return RecurrenceRule{}, fmt.Errorf("weekly recurrence requires at least one weekday")
	}
	seen := make(map[time.Weekday]bool, len(days))
	var set []time.Weekday
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return RecurrenceRule{}, fmt.Errorf("invalid weekday %d", d)
		}
		if !seen[d] {
			seen[d] = true
			set = append(set, d)
		}
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return RecurrenceRule{Kind: RecurWeekly, Weekdays: set}, nil
}

// MonthlyOn returns a rule due on the given day of each month.
func MonthlyOn(day int) (RecurrenceRule, error) {
	if day < 1 || day > 31 {
		return RecurrenceRule{}, fmt.Errorf("day of month must be in [1,31], got %d", day)
	}
	return RecurrenceRule{Kind: RecurMonthly, DayOfMonth: day}, nil
}

// Validate checks that the rule's fields are consistent with its kind.
func (r RecurrenceRule) Validate() error {
	switch r.Kind {
	case RecurNone, RecurDaily:
		if len(r.Weekdays) != 0 || r.DayOfMonth != 0 {
			return fmt.Errorf("%s recurrence carries no weekday or day-of-month settings", r.Kind)
		}
	case RecurWeekly:
		if len(r.Weekdays) == 0 {
			return fmt.Errorf("weekly recurrence requires at least one weekday")
		}
		for _, d := range r.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("invalid weekday %d", d)
			}
		}
	case RecurMonthly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return fmt.Errorf("day of month must be in [1,31], got %d", r.DayOfMonth)
		}
	default:
		return fmt.Errorf("unknown recurrence kind %d", r.Kind)
	}
	return nil
}

// DueOn reports whether the rule produces an occurrence on date for a
// template active between start and end. A zero end means open-ended.
func (r RecurrenceRule) DueOn(date, start, end Date) bool {
	if date.Before(start) {
		return false
	}
	if !end.IsZero() && date.After(end) {
		return false
	}
	switch r.Kind {
	case RecurNone:
		return date.Equal(start)
	case RecurDaily:
		return true
	case RecurWeekly:
		wd := date.Weekday()
		for _, d := range r.Weekdays {
			if d == wd {
				return true
			}
		}
		return false
	case RecurMonthly:
		due := r.DayOfMonth
		if last := date.DaysInMonth(); due > last {
			due = last
		}
		return date.Day == due
	default:
		return false
	}
}
