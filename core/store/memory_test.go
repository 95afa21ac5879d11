package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/secutrans/convoy/core/model"
)

func testTask(id, templateID string, date model.Date) model.TaskInstance {
	return model.TaskInstance{
		ID:           id,
		TemplateID:   templateID,
		Date:         date,
		Pickup:       model.Location{BranchID: "b1"},
		Delivery:     model.Location{Region: "north"},
		VehicleCount: 2,
		State:        model.TaskPending,
		CreatedAt:    time.Now().UTC(),
	}
}

func testAssignment(id, routeID string, date model.Date, crew, lead, chase string) model.TeamAssignment {
	return model.TeamAssignment{
		ID: id, RouteID: routeID, Date: date,
		CrewID: crew, LeadVehicleID: lead, ChaseVehicleID: chase,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRecordOccurrenceIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	date := model.NewDate(2024, time.March, 5)

	out, err := s.RecordOccurrence(ctx, testTask("i1", "tpl-1", date))
	if err != nil || out != RecordCreated {
		t.Fatalf("first record: %v %v", out, err)
	}
	out, err = s.RecordOccurrence(ctx, testTask("i2", "tpl-1", date))
	if err != nil || out != RecordAlreadyExists {
		t.Fatalf("second record: %v %v", out, err)
	}
	tasks, err := s.TasksForDate(ctx, date)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
}

func TestUpdateTaskStateGuardsExpectedState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	date := model.NewDate(2024, time.March, 5)
	if _, err := s.RecordOccurrence(ctx, testTask("i1", "tpl-1", date)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.UpdateTaskState(ctx, "i1", model.TaskPending, model.TaskGrouped); err != nil {
		t.Fatalf("transition: %v", err)
	}
	err := s.UpdateTaskState(ctx, "i1", model.TaskPending, model.TaskGrouped)
	if !errors.Is(err, model.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestBindExclusivity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	date := model.NewDate(2024, time.March, 5)

	if err := s.Bind(ctx, testAssignment("a1", "r1", date, "c1", "v1", "v2")); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	err := s.Bind(ctx, testAssignment("a2", "r2", date, "c1", "v3", "v4"))
	var conflict *model.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if conflict.Kind != model.KindCrew || conflict.ResourceID != "c1" || conflict.AssignmentID != "a1" {
		t.Errorf("wrong conflict detail: %+v", conflict)
	}

	// Same resources on another date bind fine.
	if err := s.Bind(ctx, testAssignment("a3", "r3", date.AddDays(1), "c1", "v1", "v2")); err != nil {
		t.Fatalf("bind on other date: %v", err)
	}
}

func TestBindRefusesSecondTeamOnRoute(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	date := model.NewDate(2024, time.March, 5)

	if err := s.Bind(ctx, testAssignment("a1", "r1", date, "c1", "v1", "v2")); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	// Disjoint resources clear the three exclusivity projections; the route
	// itself still holds at most one active team.
	err := s.Bind(ctx, testAssignment("a2", "r1", date, "c2", "v3", "v4"))
	var conflict *model.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if conflict.Kind != model.KindRoute || conflict.ResourceID != "r1" || conflict.AssignmentID != "a1" {
		t.Errorf("wrong conflict detail: %+v", conflict)
	}

	// Cancelling the holder frees the route.
	if err := s.Cancel(ctx, "a1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.Bind(ctx, testAssignment("a2", "r1", date, "c2", "v3", "v4")); err != nil {
		t.Fatalf("rebind after cancel: %v", err)
	}
}

func TestConcurrentBindsOneWinner(t *testing.T) {
	s := NewMemoryStore()
	date := model.NewDate(2024, time.March, 5)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := testAssignment("a", "r", date, "c1", "v1", "v2")
			a.ID = a.ID + string(rune('0'+i%10)) + string(rune('a'+i/10))
			errs[i] = s.Bind(context.Background(), a)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, model.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins)
	}
}

func TestCancelReleasesResources(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	date := model.NewDate(2024, time.March, 5)

	if err := s.Bind(ctx, testAssignment("a1", "r1", date, "c1", "v1", "v2")); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := s.Cancel(ctx, "a1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Idempotent.
	if err := s.Cancel(ctx, "a1"); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	// Resources are released, not just flagged.
	if err := s.Bind(ctx, testAssignment("a2", "r2", date, "c1", "v1", "v2")); err != nil {
		t.Fatalf("rebind after cancel: %v", err)
	}
	active, err := s.ActiveForDate(ctx, date)
	if err != nil || len(active) != 1 || active[0].ID != "a2" {
		t.Fatalf("active = %v err %v", active, err)
	}
}

func TestReassignChangedFieldsOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	date := model.NewDate(2024, time.March, 5)

	if err := s.Bind(ctx, testAssignment("a1", "r1", date, "c1", "v1", "v2")); err != nil {
		t.Fatalf("bind a1: %v", err)
	}
	if err := s.Bind(ctx, testAssignment("a2", "r2", date, "c2", "v3", "v4")); err != nil {
		t.Fatalf("bind a2: %v", err)
	}

	// Swapping in a resource held by a2 must conflict.
	_, err := s.Reassign(ctx, "a1", "c2", "", "")
	var conflict *model.ConflictError
	if !errors.As(err, &conflict) || conflict.AssignmentID != "a2" {
		t.Fatalf("expected conflict with a2, got %v", err)
	}

	// Changing only the chase vehicle keeps the rest and frees the old one.
	got, err := s.Reassign(ctx, "a1", "", "", "v5")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if got.CrewID != "c1" || got.LeadVehicleID != "v1" || got.ChaseVehicleID != "v5" {
		t.Fatalf("wrong assignment after reassign: %+v", got)
	}
	if err := s.Bind(ctx, testAssignment("a3", "r3", date, "c3", "v6", "v2")); err != nil {
		t.Fatalf("old chase vehicle not released: %v", err)
	}
}

func TestUsageCounts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	d1 := model.NewDate(2024, time.March, 1)
	d2 := model.NewDate(2024, time.March, 5)

	if err := s.Bind(ctx, testAssignment("a1", "r1", d1, "c1", "v1", "v2")); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := s.Bind(ctx, testAssignment("a2", "r2", d2, "c1", "v3", "v4")); err != nil {
		t.Fatalf("bind: %v", err)
	}
	counts, err := s.UsageCounts(ctx, d2)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if counts["c1"] != 1 || counts["v1"] != 0 || counts["v3"] != 1 {
		t.Fatalf("wrong counts: %v", counts)
	}
}

func TestRunLock(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	date := model.NewDate(2024, time.March, 5)

	ok, err := s.AcquireRun(ctx, date)
	if err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}
	ok, err = s.AcquireRun(ctx, date)
	if err != nil || ok {
		t.Fatalf("second acquire should fail: %v %v", ok, err)
	}
	if err := s.ReleaseRun(ctx, date); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = s.AcquireRun(ctx, date)
	if err != nil || !ok {
		t.Fatalf("acquire after release: %v %v", ok, err)
	}
}
