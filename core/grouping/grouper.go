// Package grouping clusters a day's pending task instances into routes.
// Tasks sharing pickup locality, delivery locality and full-day flag merge
// into one route; ordering by creation sequence keeps membership and
// sub-route numbering reproducible across runs.
package grouping

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/secutrans/convoy/core/events"
	"github.com/secutrans/convoy/core/logger"
	"github.com/secutrans/convoy/core/model"
	"github.com/secutrans/convoy/core/store"
	"github.com/secutrans/convoy/internal/eventbus"
)

type groupKey struct {
	pickup   string
	delivery string
	fullDay  bool
}

// Ungrouped reports a task instance that could not be placed in any route.
// It stays Pending for manual resolution; it is never silently dropped.
type Ungrouped struct {
	Task   model.TaskInstance
	Reason string
}

// Grouper builds routes from pending task instances.
type Grouper struct {
	tasks  store.TaskStore
	routes store.RouteStore
	log    logger.Logger

	// fullDayAllocation is the vehicle count reserved for a dedicated
	// full-day team, overriding per-task requirements.
	fullDayAllocation int

	bus   eventbus.EventBus
	newID func() string
}

// New creates a Grouper. fullDayAllocation is the fleet allocation for a
// full-day team and must be positive.
func New(tasks store.TaskStore, routes store.RouteStore, fullDayAllocation int, log logger.Logger) (*Grouper, error) {
	if tasks == nil || routes == nil || log == nil {
		return nil, fmt.Errorf("grouping: nil parameter provided to New")
	}
	if fullDayAllocation <= 0 {
		return nil, fmt.Errorf("grouping: full-day allocation must be positive")
	}
	return &Grouper{
		tasks:             tasks,
		routes:            routes,
		fullDayAllocation: fullDayAllocation,
		log:               log,
		newID:             uuid.NewString,
	}, nil
}

// SetEventBus configures the bus receiving RoutesGrouped events.
func (g *Grouper) SetEventBus(bus eventbus.EventBus) { g.bus = bus }

// GroupForDate merges the given pending instances into routes for date and
// persists them. Member tasks transition to Grouped; tasks that cannot be
// placed are returned for manual resolution. Sub-route numbers continue
// after any routes already stored for the date.
func (g *Grouper) GroupForDate(ctx context.Context, date model.Date, instances []model.TaskInstance) ([]model.Route, []Ungrouped, error) {
	var ungrouped []Ungrouped
	eligible := make([]model.TaskInstance, 0, len(instances))
	for _, task := range instances {
		if reason := g.placeable(task, date); reason != "" {
			g.log.Warnf("task %s not groupable: %s", task.ID, reason)
			ungrouped = append(ungrouped, Ungrouped{Task: task, Reason: reason})
			continue
		}
		eligible = append(eligible, task)
	}
	sortTasks(eligible)

	// First-seen key order over the sorted tasks keeps numbering stable.
	byKey := make(map[groupKey]*model.Route)
	var order []groupKey
	for _, task := range eligible {
		key := groupKey{
			pickup:   task.Pickup.Key(),
			delivery: task.Delivery.Key(),
			fullDay:  task.FullDay,
		}
		route, ok := byKey[key]
		if !ok {
			route = &model.Route{
				ID:       g.newID(),
				Date:     date,
				Pickup:   task.Pickup,
				Delivery: task.Delivery,
				FullDay:  task.FullDay,
			}
			byKey[key] = route
			order = append(order, key)
		}
		route.TaskIDs = append(route.TaskIDs, task.ID)
		// Vehicles are shared across a route's stops: the requirement is the
		// maximum member requirement, not the sum.
		if task.VehicleCount > route.VehicleCount {
			route.VehicleCount = task.VehicleCount
		}
	}

	nextSub, err := g.nextSubRoute(ctx, date)
	if err != nil {
		return nil, ungrouped, err
	}

	var routes []model.Route
	for _, key := range order {
		route := byKey[key]
		if route.FullDay {
			route.VehicleCount = g.fullDayAllocation
		}

		var members []string
		for _, taskID := range route.TaskIDs {
			if err := g.tasks.UpdateTaskState(ctx, taskID, model.TaskPending, model.TaskGrouped); err != nil {
				g.log.Errorf("task %s not grouped: %v", taskID, err)
				ungrouped = append(ungrouped, Ungrouped{
					Task:   model.TaskInstance{ID: taskID, Date: date},
					Reason: err.Error(),
				})
				continue
			}
			members = append(members, taskID)
		}
		if len(members) == 0 {
			continue
		}
		route.TaskIDs = members
		route.SubRoute = nextSub
		nextSub++
		routes = append(routes, *route)
	}

	if err := g.routes.SaveRoutes(ctx, routes); err != nil {
		return nil, ungrouped, fmt.Errorf("save routes for %s: %w", date, err)
	}

	g.log.Infof("grouped %s: %d routes, %d tasks unplaced", date, len(routes), len(ungrouped))
	if g.bus != nil {
		g.bus.Publish(events.RoutesGrouped{Date: date, Routes: len(routes), Ungrouped: len(ungrouped)})
	}
	return routes, ungrouped, nil
}

// placeable returns a rejection reason or "" when the task can be grouped.
func (g *Grouper) placeable(task model.TaskInstance, date model.Date) string {
	if task.Date != date {
		return fmt.Sprintf("task date %s does not match grouping date %s", task.Date, date)
	}
	if task.State != model.TaskPending {
		return fmt.Sprintf("task is %s, only pending tasks can be grouped", task.State)
	}
	if task.Pickup.IsZero() || task.Delivery.IsZero() {
		return "task has no pickup or delivery locality"
	}
	if task.VehicleCount <= 0 {
		return "task requires no vehicles"
	}
	if !task.FullDay && task.VehicleCount > g.fullDayAllocation {
		return fmt.Sprintf("task requires %d vehicles, above the %d allocated to a full team",
			task.VehicleCount, g.fullDayAllocation)
	}
	return ""
}

func (g *Grouper) nextSubRoute(ctx context.Context, date model.Date) (int, error) {
	existing, err := g.routes.RoutesForDate(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("list routes for %s: %w", date, err)
	}
	next := 1
	for _, r := range existing {
		if r.SubRoute >= next {
			next = r.SubRoute + 1
		}
	}
	return next, nil
}

// sortTasks orders by store insertion sequence; ID breaks ties for tasks
// sharing a sequence (e.g. fixtures built by hand).
func sortTasks(tasks []model.TaskInstance) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Seq != tasks[j].Seq {
			return tasks[i].Seq < tasks[j].Seq
		}
		return tasks[i].ID < tasks[j].ID
	})
}
