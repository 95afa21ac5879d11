package model

import (
	"testing"
	"time"
)

func TestWeeklyDueDates(t *testing.T) {
	rule, err := WeeklyOn(time.Monday, time.Wednesday)
	if err != nil {
		t.Fatalf("rule: %v", err)
	}
	start := NewDate(2024, time.January, 1)
	end := NewDate(2024, time.January, 31)

	want := map[int]bool{1: true, 3: true, 8: true, 10: true, 15: true, 17: true, 22: true, 24: true, 29: true, 31: true}
	for day := 1; day <= 31; day++ {
		d := NewDate(2024, time.January, day)
		if got := rule.DueOn(d, start, end); got != want[day] {
			t.Errorf("DueOn(%s) = %v, want %v", d, got, want[day])
		}
	}
	// Never due outside range, even on matching weekdays.
	if rule.DueOn(NewDate(2023, time.December, 25), start, end) {
		t.Error("due before start date")
	}
	if rule.DueOn(NewDate(2024, time.February, 5), start, end) {
		t.Error("due after end date")
	}
}

func TestDailyDueEveryDayInRange(t *testing.T) {
	rule := EveryDay()
	start := NewDate(2024, time.March, 1)
	for day := 1; day <= 10; day++ {
		if !rule.DueOn(NewDate(2024, time.March, day), start, Date{}) {
			t.Errorf("daily rule not due on day %d", day)
		}
	}
	if rule.DueOn(NewDate(2024, time.February, 29), start, Date{}) {
		t.Error("daily rule due before start")
	}
}

func TestMonthlyClampsToShortMonths(t *testing.T) {
	rule, err := MonthlyOn(31)
	if err != nil {
		t.Fatalf("rule: %v", err)
	}
	start := NewDate(2024, time.January, 1)

	cases := []struct {
		date Date
		due  bool
	}{
		{NewDate(2024, time.January, 31), true},
		{NewDate(2024, time.February, 29), true}, // leap year, clamped
		{NewDate(2024, time.February, 28), false},
		{NewDate(2025, time.February, 28), true}, // non-leap, clamped
		{NewDate(2024, time.April, 30), true},
		{NewDate(2024, time.April, 29), false},
		{NewDate(2024, time.March, 31), true},
		{NewDate(2024, time.March, 30), false},
	}
	for _, c := range cases {
		if got := rule.DueOn(c.date, start, Date{}); got != c.due {
			t.Errorf("DueOn(%s) = %v, want %v", c.date, got, c.due)
		}
	}
}

func TestOneShotDueOnlyOnStart(t *testing.T) {
	rule := OneShot()
	start := NewDate(2024, time.June, 15)
	if !rule.DueOn(start, start, Date{}) {
		t.Error("one-shot not due on start date")
	}
	if rule.DueOn(start.AddDays(1), start, Date{}) {
		t.Error("one-shot due after start date")
	}
	if rule.DueOn(start.AddDays(-1), start, Date{}) {
		t.Error("one-shot due before start date")
	}
}

func TestWeeklyOnRejectsEmptyAndDeduplicates(t *testing.T) {
	if _, err := WeeklyOn(); err == nil {
		t.Error("expected error for empty weekday set")
	}
	rule, err := WeeklyOn(time.Friday, time.Monday, time.Friday)
	if err != nil {
		t.Fatalf("rule: %v", err)
	}
	if len(rule.Weekdays) != 2 {
		t.Fatalf("expected 2 weekdays, got %v", rule.Weekdays)
	}
	if rule.Weekdays[0] != time.Monday || rule.Weekdays[1] != time.Friday {
		t.Errorf("weekdays not sorted: %v", rule.Weekdays)
	}
}

func TestMonthlyOnBounds(t *testing.T) {
	for _, day := range []int{0, 32, -4} {
		if _, err := MonthlyOn(day); err == nil {
			t.Errorf("expected error for day %d", day)
		}
	}
}

func TestRuleValidate(t *testing.T) {
	bad := RecurrenceRule{Kind: RecurDaily, DayOfMonth: 5}
	if err := bad.Validate(); err == nil {
		t.Error("daily rule with day-of-month should fail validation")
	}
	if err := (RecurrenceRule{Kind: RecurWeekly}).Validate(); err == nil {
		t.Error("weekly rule without weekdays should fail validation")
	}
	if err := (RecurrenceRule{Kind: RecurrenceKind(42)}).Validate(); err == nil {
		t.Error("unknown kind should fail validation")
	}
}
