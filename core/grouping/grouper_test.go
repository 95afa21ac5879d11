package grouping

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/secutrans/convoy/core/model"
	"github.com/secutrans/convoy/core/store"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}

func seedTask(t *testing.T, s *store.MemoryStore, id, tpl string, date model.Date, pickup, delivery model.Location, vehicles int, fullDay bool) model.TaskInstance {
	t.Helper()
	task := model.TaskInstance{
		ID:           id,
		TemplateID:   tpl,
		Date:         date,
		Pickup:       pickup,
		Delivery:     delivery,
		VehicleCount: vehicles,
		FullDay:      fullDay,
		State:        model.TaskPending,
		CreatedAt:    time.Now().UTC(),
	}
	out, err := s.RecordOccurrence(context.Background(), task)
	if err != nil || out != store.RecordCreated {
		t.Fatalf("seed %s: %v %v", id, out, err)
	}
	return task
}

func pendingTasks(t *testing.T, s *store.MemoryStore, date model.Date) []model.TaskInstance {
	t.Helper()
	tasks, err := s.TasksForDate(context.Background(), date)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	return tasks
}

func TestGroupMergesSharedKeys(t *testing.T) {
	s := store.NewMemoryStore()
	date := model.NewDate(2024, time.March, 5)
	b1 := model.Location{BranchID: "b1"}
	north := model.Location{Region: "north"}
	south := model.Location{Region: "south"}

	seedTask(t, s, "i1", "t1", date, b1, north, 1, false)
	seedTask(t, s, "i2", "t2", date, b1, north, 3, false)
	seedTask(t, s, "i3", "t3", date, b1, south, 2, false)

	g, err := New(s, s, 4, nopLogger{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	routes, ungrouped, err := g.GroupForDate(context.Background(), date, pendingTasks(t, s, date))
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if len(ungrouped) != 0 {
		t.Fatalf("unexpected ungrouped: %+v", ungrouped)
	}
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}
	if routes[0].SubRoute != 1 || routes[1].SubRoute != 2 {
		t.Errorf("sub-route numbering: %d, %d", routes[0].SubRoute, routes[1].SubRoute)
	}
	// Vehicle requirement is the max member requirement, not the sum.
	if routes[0].VehicleCount != 3 {
		t.Errorf("merged route vehicle count = %d, want 3", routes[0].VehicleCount)
	}
	if len(routes[0].TaskIDs) != 2 || routes[0].TaskIDs[0] != "i1" || routes[0].TaskIDs[1] != "i2" {
		t.Errorf("merged route members: %v", routes[0].TaskIDs)
	}
	for _, id := range []string{"i1", "i2", "i3"} {
		task, err := s.Task(context.Background(), id)
		if err != nil || task.State != model.TaskGrouped {
			t.Errorf("task %s state = %v err %v", id, task.State, err)
		}
	}
}

func TestGroupDeterministic(t *testing.T) {
	build := func() ([]model.Route, error) {
		s := store.NewMemoryStore()
		date := model.NewDate(2024, time.March, 5)
		for i := 0; i < 6; i++ {
			pickup := model.Location{BranchID: "b1"}
			if i%2 == 0 {
				pickup = model.Location{BranchID: "b2"}
			}
			seedTask(t, s, fmt.Sprintf("i%d", i), fmt.Sprintf("t%d", i), date, pickup, model.Location{Region: "north"}, 1+i%3, false)
		}
		g, err := New(s, s, 4, nopLogger{})
		if err != nil {
			return nil, err
		}
		routes, _, err := g.GroupForDate(context.Background(), date, pendingTasks(t, s, date))
		return routes, err
	}

	first, err := build()
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := build()
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("route counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].SubRoute != second[i].SubRoute {
			t.Errorf("sub-route %d differs", i)
		}
		if fmt.Sprint(first[i].TaskIDs) != fmt.Sprint(second[i].TaskIDs) {
			t.Errorf("membership differs at %d: %v vs %v", i, first[i].TaskIDs, second[i].TaskIDs)
		}
	}
}

func TestFullDayRouteGetsFleetAllocation(t *testing.T) {
	s := store.NewMemoryStore()
	date := model.NewDate(2024, time.March, 5)
	loc := model.Location{BranchID: "b1"}

	seedTask(t, s, "i1", "t1", date, loc, model.Location{Region: "north"}, 1, true)
	seedTask(t, s, "i2", "t2", date, loc, model.Location{Region: "north"}, 1, false)

	g, _ := New(s, s, 5, nopLogger{})
	routes, _, err := g.GroupForDate(context.Background(), date, pendingTasks(t, s, date))
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	// Full-day and partial-day tasks never share a route.
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}
	for _, r := range routes {
		if r.FullDay && r.VehicleCount != 5 {
			t.Errorf("full-day route vehicle count = %d, want allocation 5", r.VehicleCount)
		}
		if !r.FullDay && r.VehicleCount != 1 {
			t.Errorf("partial route vehicle count = %d, want 1", r.VehicleCount)
		}
	}
}

func TestUnplaceableTasksStayPending(t *testing.T) {
	s := store.NewMemoryStore()
	date := model.NewDate(2024, time.March, 5)
	good := seedTask(t, s, "i1", "t1", date, model.Location{BranchID: "b1"}, model.Location{Region: "north"}, 1, false)
	_ = good

	oversized := seedTask(t, s, "i2", "t2", date, model.Location{BranchID: "b1"}, model.Location{Region: "south"}, 9, false)

	g, _ := New(s, s, 4, nopLogger{})
	routes, ungrouped, err := g.GroupForDate(context.Background(), date, pendingTasks(t, s, date))
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if len(routes) != 1 {
		t.Fatalf("expected 1 route, got %d", len(routes))
	}
	if len(ungrouped) != 1 || ungrouped[0].Task.ID != oversized.ID {
		t.Fatalf("expected i2 reported ungrouped, got %+v", ungrouped)
	}
	task, err := s.Task(context.Background(), "i2")
	if err != nil || task.State != model.TaskPending {
		t.Errorf("unplaceable task should stay pending, state = %v err %v", task.State, err)
	}
}

func TestSubRouteNumberingContinues(t *testing.T) {
	s := store.NewMemoryStore()
	date := model.NewDate(2024, time.March, 5)
	g, _ := New(s, s, 4, nopLogger{})

	seedTask(t, s, "i1", "t1", date, model.Location{BranchID: "b1"}, model.Location{Region: "north"}, 1, false)
	if _, _, err := g.GroupForDate(context.Background(), date, pendingTasks(t, s, date)); err != nil {
		t.Fatalf("first group: %v", err)
	}

	seedTask(t, s, "i2", "t2", date, model.Location{BranchID: "b2"}, model.Location{Region: "south"}, 1, false)
	tasks, _ := s.TasksForDate(context.Background(), date)
	var pending []model.TaskInstance
	for _, task := range tasks {
		if task.State == model.TaskPending {
			pending = append(pending, task)
		}
	}
	routes, _, err := g.GroupForDate(context.Background(), date, pending)
	if err != nil {
		t.Fatalf("second group: %v", err)
	}
	if len(routes) != 1 || routes[0].SubRoute != 2 {
		t.Fatalf("expected continuation at sub-route 2, got %+v", routes)
	}
}
