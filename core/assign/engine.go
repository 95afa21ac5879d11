// Package assign binds crews and vehicles to routes. The exclusivity
// guarantee of one active assignment per resource per date is enforced by
// the AssignmentStore's atomic check-and-write; this package adds candidate
// proposal, task state transitions and observability around it.
package assign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/secutrans/convoy/core/availability"
	"github.com/secutrans/convoy/core/events"
	"github.com/secutrans/convoy/core/logger"
	"github.com/secutrans/convoy/core/metrics"
	"github.com/secutrans/convoy/core/model"
	"github.com/secutrans/convoy/core/store"
	"github.com/secutrans/convoy/internal/eventbus"
)

// BindOutcome discriminates the two expected results of a bind attempt.
type BindOutcome int

const (
	BindAssigned BindOutcome = iota
	BindConflict
)

// String returns a human-readable representation of the outcome.
func (o BindOutcome) String() string {
	if o == BindAssigned {
		return "assigned"
	}
	return "conflict"
}

// BindResult carries the assignment on success or the structured conflict
// detail when another assignment holds one of the requested resources.
type BindResult struct {
	Outcome    BindOutcome
	Assignment model.TeamAssignment
	Conflict   *model.ConflictError
}

// Engine is the assignment service.
type Engine struct {
	store  store.AssignmentStore
	routes store.RouteStore
	tasks  store.TaskStore
	avail  availability.Provider
	log    logger.Logger

	sink  metrics.Sink
	bus   eventbus.EventBus
	now   func() time.Time
	newID func() string

	// usageWindow is how many days of assignment history feed the fairness
	// ranking in Propose.
	usageWindow int
}

// New creates an Engine. usageWindow days of history feed candidate ranking;
// zero or negative falls back to 30.
func New(as store.AssignmentStore, rs store.RouteStore, ts store.TaskStore, avail availability.Provider, usageWindow int, log logger.Logger) (*Engine, error) {
	if as == nil || rs == nil || ts == nil || avail == nil || log == nil {
		return nil, fmt.Errorf("assign: nil parameter provided to New")
	}
	if usageWindow <= 0 {
		usageWindow = 30
	}
	return &Engine{
		store:       as,
		routes:      rs,
		tasks:       ts,
		avail:       avail,
		log:         log,
		now:         time.Now,
		newID:       uuid.NewString,
		usageWindow: usageWindow,
	}, nil
}

// SetMetricsSink configures the sink receiving assignment events.
func (e *Engine) SetMetricsSink(sink metrics.Sink) { e.sink = sink }

// SetEventBus configures the bus receiving assignment events.
func (e *Engine) SetEventBus(bus eventbus.EventBus) { e.bus = bus }

// SetClock overrides the wall clock, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Bind assigns the given crew and vehicles to the route. A losing race or an
// already-bound resource yields Outcome BindConflict, not an error; errors
// are reserved for validation, missing entities and storage failures.
func (e *Engine) Bind(ctx context.Context, routeID, crewID, leadID, chaseID string) (BindResult, error) {
	route, err := e.routes.Route(ctx, routeID)
	if err != nil {
		return BindResult{}, err
	}
	a := model.TeamAssignment{
		ID:             e.newID(),
		RouteID:        route.ID,
		Date:           route.Date,
		CrewID:         crewID,
		LeadVehicleID:  leadID,
		ChaseVehicleID: chaseID,
		CreatedAt:      e.now().UTC(),
	}
	if err := a.Validate(); err != nil {
		return BindResult{}, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	if err := e.checkMembers(ctx, route); err != nil {
		return BindResult{}, err
	}

	if err := e.store.Bind(ctx, a); err != nil {
		var conflict *model.ConflictError
		if errors.As(err, &conflict) {
			e.observeConflict(route, conflict)
			return BindResult{Outcome: BindConflict, Conflict: conflict}, nil
		}
		return BindResult{}, fmt.Errorf("bind route %s: %w", routeID, err)
	}
	a.Active = true

	// The bind is committed; member transitions past this point are logged
	// but never roll it back.
	for _, taskID := range route.TaskIDs {
		if err := e.tasks.UpdateTaskState(ctx, taskID, model.TaskGrouped, model.TaskAssigned); err != nil {
			e.log.Errorf("task %s not marked assigned: %v", taskID, err)
		}
	}

	e.log.Infof("route %s bound to crew %s, lead %s, chase %s on %s",
		route.ID, crewID, leadID, chaseID, route.Date)
	e.observeAssigned(route, a)
	return BindResult{Outcome: BindAssigned, Assignment: a}, nil
}

// AutoBind proposes candidates for the route and binds the first one that
// wins the exclusivity check. It returns the last conflict when every
// candidate loses, and a validation failure when there are no candidates.
func (e *Engine) AutoBind(ctx context.Context, routeID string) (BindResult, error) {
	route, err := e.routes.Route(ctx, routeID)
	if err != nil {
		return BindResult{}, err
	}
	candidates, err := e.Propose(ctx, route)
	if err != nil {
		return BindResult{}, err
	}
	if len(candidates) == 0 {
		return BindResult{}, fmt.Errorf("%w: no available crew and vehicles for route %s on %s",
			model.ErrValidation, route.ID, route.Date)
	}
	var last BindResult
	for _, c := range candidates {
		res, err := e.Bind(ctx, routeID, c.CrewID, c.LeadVehicleID, c.ChaseVehicleID)
		if err != nil {
			return BindResult{}, err
		}
		if res.Outcome == BindAssigned {
			return res, nil
		}
		last = res
	}
	return last, nil
}

// Reassign swaps only the non-empty resource fields on an active assignment,
// re-validating exclusivity for the changed ones.
func (e *Engine) Reassign(ctx context.Context, assignmentID, crewID, leadID, chaseID string) (BindResult, error) {
	if crewID == "" && leadID == "" && chaseID == "" {
		return BindResult{}, fmt.Errorf("%w: reassign requires at least one resource change", model.ErrValidation)
	}
	a, err := e.store.Reassign(ctx, assignmentID, crewID, leadID, chaseID)
	if err != nil {
		var conflict *model.ConflictError
		if errors.As(err, &conflict) {
			e.log.Warnf("reassign %s: %v", assignmentID, conflict)
			e.recordAssignment(conflict.Date, "", assignmentID, BindConflict, conflict)
			return BindResult{Outcome: BindConflict, Conflict: conflict}, nil
		}
		return BindResult{}, err
	}
	e.log.Infof("assignment %s reassigned to crew %s, lead %s, chase %s",
		a.ID, a.CrewID, a.LeadVehicleID, a.ChaseVehicleID)
	e.recordAssignment(a.Date, a.RouteID, a.ID, BindAssigned, nil)
	if e.bus != nil {
		e.bus.Publish(events.AssignmentBound{AssignmentID: a.ID, RouteID: a.RouteID, Date: a.Date})
	}
	return BindResult{Outcome: BindAssigned, Assignment: a}, nil
}

// Cancel releases the assignment's resources for its date. Cancelling an
// already-cancelled assignment is a no-op.
func (e *Engine) Cancel(ctx context.Context, assignmentID string) error {
	a, err := e.store.Assignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	wasActive := a.Active
	if err := e.store.Cancel(ctx, assignmentID); err != nil {
		return fmt.Errorf("cancel assignment %s: %w", assignmentID, err)
	}
	if !wasActive {
		return nil
	}
	cancellationsTotal.Inc()
	e.log.Infof("assignment %s cancelled, resources released for %s", assignmentID, a.Date)
	if e.sink != nil {
		ev := metrics.AssignmentEvent{
			Date:         a.Date,
			RouteID:      a.RouteID,
			AssignmentID: assignmentID,
			Outcome:      "cancelled",
			Time:         e.now().UTC(),
		}
		if err := e.sink.RecordAssignment(ev); err != nil {
			e.log.Errorf("assignment metrics: %v", err)
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.AssignmentCancelled{AssignmentID: assignmentID, Date: a.Date})
	}
	return nil
}

// checkMembers verifies every member task is in Grouped state. A route
// referencing tasks elsewhere in their lifecycle is an invariant violation.
func (e *Engine) checkMembers(ctx context.Context, route model.Route) error {
	for _, taskID := range route.TaskIDs {
		task, err := e.tasks.Task(ctx, taskID)
		if err != nil {
			return fmt.Errorf("route %s member %s: %w", route.ID, taskID, err)
		}
		if task.State != model.TaskGrouped {
			return fmt.Errorf("route %s member %s is %s, expected grouped: %w",
				route.ID, taskID, task.State, model.ErrInconsistent)
		}
	}
	return nil
}

func (e *Engine) observeAssigned(route model.Route, a model.TeamAssignment) {
	bindsTotal.WithLabelValues(BindAssigned.String()).Inc()
	e.recordAssignment(route.Date, route.ID, a.ID, BindAssigned, nil)
	if e.bus != nil {
		e.bus.Publish(events.AssignmentBound{AssignmentID: a.ID, RouteID: route.ID, Date: route.Date})
	}
}

func (e *Engine) observeConflict(route model.Route, conflict *model.ConflictError) {
	bindsTotal.WithLabelValues(BindConflict.String()).Inc()
	conflictsTotal.WithLabelValues(conflict.Kind.String()).Inc()
	e.log.Warnf("route %s: %v", route.ID, conflict)
	e.recordAssignment(route.Date, route.ID, "", BindConflict, conflict)
	if e.bus != nil {
		e.bus.Publish(events.AssignmentConflict{
			RouteID:  route.ID,
			Date:     route.Date,
			Kind:     conflict.Kind,
			Resource: conflict.ResourceID,
		})
	}
}

func (e *Engine) recordAssignment(date model.Date, routeID, assignmentID string, outcome BindOutcome, conflict *model.ConflictError) {
	if e.sink == nil {
		return
	}
	ev := metrics.AssignmentEvent{
		Date:         date,
		RouteID:      routeID,
		AssignmentID: assignmentID,
		Outcome:      outcome.String(),
		Time:         e.now().UTC(),
	}
	if conflict != nil {
		ev.Resource = conflict.ResourceID
	}
	if err := e.sink.RecordAssignment(ev); err != nil {
		e.log.Errorf("assignment metrics: %v", err)
	}
}
