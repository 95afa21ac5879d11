// Package store defines the persistence contracts owned by the engine and an
// in-memory implementation. Durable backends (sqlite, postgres) live in
// infra/store and satisfy the same interfaces.
package store

import (
	"context"

	"github.com/secutrans/convoy/core/model"
)

// RecordOutcome is the result of recording an occurrence. AlreadyExists is
// the expansion no-op signal, never an error.
type RecordOutcome int

const (
	RecordCreated RecordOutcome = iota
	RecordAlreadyExists
)

// String returns a human-readable representation of the outcome.
func (o RecordOutcome) String() string {
	if o == RecordCreated {
		return "created"
	}
	return "already_exists"
}

// TemplateSource is the read surface of the order subsystem. The engine only
// lists templates; it never writes template fields back.
type TemplateSource interface {
	ListTemplatesActiveOn(ctx context.Context, date model.Date) ([]model.OrderTemplate, error)
}

// OccurrenceStore records generated occurrences. RecordOccurrence inserts the
// (TemplateID, Date) guard row and the task instance in one atomic step; if
// the pair already exists nothing is written and RecordAlreadyExists is
// returned.
type OccurrenceStore interface {
	RecordOccurrence(ctx context.Context, task model.TaskInstance) (RecordOutcome, error)
}

// TaskStore reads and transitions task instances.
type TaskStore interface {
	Task(ctx context.Context, id string) (model.TaskInstance, error)
	TasksForDate(ctx context.Context, date model.Date) ([]model.TaskInstance, error)
	// UpdateTaskState moves a task from one state to another. It fails with
	// ErrInconsistent when the task is not in the expected state, so a stale
	// caller never clobbers a concurrent transition.
	UpdateTaskState(ctx context.Context, id string, from, to model.TaskState) error
}

// RouteStore persists the grouper's output.
type RouteStore interface {
	SaveRoutes(ctx context.Context, routes []model.Route) error
	Route(ctx context.Context, id string) (model.Route, error)
	RoutesForDate(ctx context.Context, date model.Date) ([]model.Route, error)
}

// AssignmentStore persists team assignments and enforces per-date resource
// exclusivity plus one active assignment per route. Bind and Reassign
// perform the check-and-write atomically: two racing calls on an overlapping
// resource+date, or on the same route, serialize so exactly one succeeds and
// the other observes a *model.ConflictError.
type AssignmentStore interface {
	Bind(ctx context.Context, a model.TeamAssignment) error
	// Reassign replaces only the non-empty resource fields, re-validating
	// exclusivity for the changed ones.
	Reassign(ctx context.Context, id, crewID, leadID, chaseID string) (model.TeamAssignment, error)
	// Cancel deactivates the assignment and releases its resources.
	// Cancelling an already-cancelled assignment is a no-op.
	Cancel(ctx context.Context, id string) error
	Assignment(ctx context.Context, id string) (model.TeamAssignment, error)
	ActiveForDate(ctx context.Context, date model.Date) ([]model.TeamAssignment, error)
	// UsageCounts returns, per resource ID, how many assignments (active or
	// not) reference it since the given date. Propose uses this for fairness
	// ranking.
	UsageCounts(ctx context.Context, since model.Date) (map[string]int, error)
}

// RunLock is the run-once-per-day guard for the daily trigger. AcquireRun
// returns false when the day's run was already claimed, e.g. by another
// instance sharing the same backend. ReleaseRun gives the day back after a
// failed run so a retrigger can claim it again.
type RunLock interface {
	AcquireRun(ctx context.Context, date model.Date) (bool, error)
	ReleaseRun(ctx context.Context, date model.Date) error
}

// Store is the full persistence surface a backend provides. UpsertTemplate is
// the collaborator adapter: deployments without a separate order subsystem
// keep templates in the engine's own backend.
type Store interface {
	TemplateSource
	OccurrenceStore
	TaskStore
	RouteStore
	AssignmentStore
	RunLock
	UpsertTemplate(ctx context.Context, t model.OrderTemplate) error
	Close() error
}
