package model

import (
	"testing"
	"time"
)

func TestDateRoundTrip(t *testing.T) {
	d, err := ParseDate("2024-03-05")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.String() != "2024-03-05" {
		t.Fatalf("round trip: %s", d)
	}
	if d.Weekday() != time.Tuesday {
		t.Errorf("weekday = %v", d.Weekday())
	}
	if got := d.AddDays(27); got != NewDate(2024, time.April, 1) {
		t.Errorf("AddDays crossed month wrong: %s", got)
	}
	if NewDate(2024, time.February, 1).DaysInMonth() != 29 {
		t.Error("2024 February should have 29 days")
	}
}

func TestDateJSON(t *testing.T) {
	d := NewDate(2024, time.December, 31)
	b, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Date
	if err := back.UnmarshalJSON(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != d {
		t.Fatalf("got %s want %s", back, d)
	}
	var zero Date
	if err := zero.UnmarshalJSON([]byte(`""`)); err != nil || !zero.IsZero() {
		t.Fatalf("empty string should yield zero date, got %s err %v", zero, err)
	}
}

func TestTaskStateTransitions(t *testing.T) {
	cases := []struct {
		from, to TaskState
		ok       bool
	}{
		{TaskPending, TaskGrouped, true},
		{TaskGrouped, TaskAssigned, true},
		{TaskAssigned, TaskCompleted, true},
		{TaskPending, TaskAssigned, false},
		{TaskGrouped, TaskCompleted, false},
		{TaskPending, TaskCancelled, true},
		{TaskAssigned, TaskFailed, true},
		{TaskCompleted, TaskCancelled, false},
		{TaskCancelled, TaskGrouped, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("%s -> %s = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestTemplateValidate(t *testing.T) {
	tpl := OrderTemplate{
		ID:           "tpl-1",
		Pickup:       Location{BranchID: "b1"},
		Delivery:     Location{Region: "north"},
		VehicleCount: 2,
		Recurrence:   EveryDay(),
		Start:        NewDate(2024, time.January, 1),
	}
	if err := tpl.Validate(); err != nil {
		t.Fatalf("valid template rejected: %v", err)
	}

	end := tpl
	end.End = NewDate(2023, time.December, 31)
	if err := end.Validate(); err == nil {
		t.Error("end before start accepted")
	}

	veh := tpl
	veh.VehicleCount = 0
	if err := veh.Validate(); err == nil {
		t.Error("zero vehicle count accepted")
	}

	loc := tpl
	loc.Pickup = Location{}
	if err := loc.Validate(); err == nil {
		t.Error("empty pickup accepted")
	}
}

func TestAssignmentValidate(t *testing.T) {
	a := TeamAssignment{RouteID: "r1", CrewID: "c1", LeadVehicleID: "v1", ChaseVehicleID: "v2"}
	if err := a.Validate(); err != nil {
		t.Fatalf("valid assignment rejected: %v", err)
	}
	a.ChaseVehicleID = "v1"
	if err := a.Validate(); err == nil {
		t.Error("same lead and chase vehicle accepted")
	}
	if err := (TeamAssignment{RouteID: "r1"}).Validate(); err == nil {
		t.Error("missing resources accepted")
	}
}
