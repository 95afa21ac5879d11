package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/secutrans/convoy/core/model"
)

type occKey struct {
	templateID string
	date       model.Date
}

type resKey struct {
	date model.Date
	kind model.ResourceKind
	id   string
}

// MemoryStore is the in-memory Store backend. A single mutex guards all
// state, which makes the Bind check-and-write trivially atomic. It backs
// tests and single-instance deployments that can afford to lose state on
// restart.
type MemoryStore struct {
	mu          sync.Mutex
	templates   map[string]model.OrderTemplate
	occurrences map[occKey]model.OccurrenceRecord
	tasks       map[string]model.TaskInstance
	routes      map[string]model.Route
	assignments map[string]model.TeamAssignment
	active      map[resKey]string // -> assignment ID
	runs        map[model.Date]bool
	seq         int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates:   make(map[string]model.OrderTemplate),
		occurrences: make(map[occKey]model.OccurrenceRecord),
		tasks:       make(map[string]model.TaskInstance),
		routes:      make(map[string]model.Route),
		assignments: make(map[string]model.TeamAssignment),
		active:      make(map[resKey]string),
		runs:        make(map[model.Date]bool),
	}
}

func (s *MemoryStore) UpsertTemplate(_ context.Context, t model.OrderTemplate) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	s.mu.Lock()
	s.templates[t.ID] = t
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListTemplatesActiveOn(_ context.Context, date model.Date) ([]model.OrderTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OrderTemplate
	for _, t := range s.templates {
		if t.ActiveOn(date) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) RecordOccurrence(_ context.Context, task model.TaskInstance) (RecordOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := occKey{templateID: task.TemplateID, date: task.Date}
	if _, ok := s.occurrences[key]; ok {
		return RecordAlreadyExists, nil
	}
	s.seq++
	task.Seq = s.seq
	s.occurrences[key] = model.OccurrenceRecord{
		TemplateID: task.TemplateID,
		Date:       task.Date,
		CreatedAt:  task.CreatedAt,
	}
	s.tasks[task.ID] = task
	return RecordCreated, nil
}

func (s *MemoryStore) Task(_ context.Context, id string) (model.TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return model.TaskInstance{}, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return t, nil
}

func (s *MemoryStore) TasksForDate(_ context.Context, date model.Date) ([]model.TaskInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TaskInstance
	for _, t := range s.tasks {
		if t.Date == date {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) UpdateTaskState(_ context.Context, id string, from, to model.TaskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	if t.State != from {
		return fmt.Errorf("task %s is %s, expected %s: %w", id, t.State, from, model.ErrInconsistent)
	}
	t.State = to
	s.tasks[id] = t
	return nil
}

func (s *MemoryStore) SaveRoutes(_ context.Context, routes []model.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range routes {
		s.routes[r.ID] = r
	}
	return nil
}

func (s *MemoryStore) Route(_ context.Context, id string) (model.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routes[id]
	if !ok {
		return model.Route{}, fmt.Errorf("route %s: %w", id, model.ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) RoutesForDate(_ context.Context, date model.Date) ([]model.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Route
	for _, r := range s.routes {
		if r.Date == date {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubRoute < out[j].SubRoute })
	return out, nil
}

// Bind inserts the assignment after checking the route and all three
// resource projections under the store lock. The route check comes first,
// then crew, lead, chase; the first conflict found is reported.
func (s *MemoryStore) Bind(_ context.Context, a model.TeamAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assignments {
		if existing.Active && existing.RouteID == a.RouteID {
			return &model.ConflictError{
				Kind:         model.KindRoute,
				ResourceID:   a.RouteID,
				Date:         a.Date,
				AssignmentID: existing.ID,
			}
		}
	}
	for _, kind := range model.ResourceKinds {
		key := resKey{date: a.Date, kind: kind, id: a.ResourceID(kind)}
		if existing, ok := s.active[key]; ok {
			return &model.ConflictError{
				Kind:         kind,
				ResourceID:   a.ResourceID(kind),
				Date:         a.Date,
				AssignmentID: existing,
			}
		}
	}
	a.Active = true
	s.assignments[a.ID] = a
	for _, kind := range model.ResourceKinds {
		s.active[resKey{date: a.Date, kind: kind, id: a.ResourceID(kind)}] = a.ID
	}
	return nil
}

func (s *MemoryStore) Reassign(_ context.Context, id, crewID, leadID, chaseID string) (model.TeamAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return model.TeamAssignment{}, fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	if !a.Active {
		return model.TeamAssignment{}, fmt.Errorf("assignment %s is cancelled: %w", id, model.ErrInconsistent)
	}
	next := a
	if crewID != "" {
		next.CrewID = crewID
	}
	if leadID != "" {
		next.LeadVehicleID = leadID
	}
	if chaseID != "" {
		next.ChaseVehicleID = chaseID
	}
	if err := next.Validate(); err != nil {
		return model.TeamAssignment{}, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	// Exclusivity is re-checked for changed resources only; the retained ones
	// are already held by this assignment.
	for _, kind := range model.ResourceKinds {
		if next.ResourceID(kind) == a.ResourceID(kind) {
			continue
		}
		key := resKey{date: next.Date, kind: kind, id: next.ResourceID(kind)}
		if existing, ok := s.active[key]; ok && existing != id {
			return model.TeamAssignment{}, &model.ConflictError{
				Kind:         kind,
				ResourceID:   next.ResourceID(kind),
				Date:         next.Date,
				AssignmentID: existing,
			}
		}
	}
	for _, kind := range model.ResourceKinds {
		if next.ResourceID(kind) == a.ResourceID(kind) {
			continue
		}
		delete(s.active, resKey{date: a.Date, kind: kind, id: a.ResourceID(kind)})
		s.active[resKey{date: next.Date, kind: kind, id: next.ResourceID(kind)}] = id
	}
	s.assignments[id] = next
	return next, nil
}

func (s *MemoryStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	if !a.Active {
		return nil
	}
	for _, kind := range model.ResourceKinds {
		delete(s.active, resKey{date: a.Date, kind: kind, id: a.ResourceID(kind)})
	}
	a.Active = false
	a.CancelledAt = time.Now().UTC()
	s.assignments[id] = a
	return nil
}

func (s *MemoryStore) Assignment(_ context.Context, id string) (model.TeamAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return model.TeamAssignment{}, fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	return a, nil
}

func (s *MemoryStore) ActiveForDate(_ context.Context, date model.Date) ([]model.TeamAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TeamAssignment
	for _, a := range s.assignments {
		if a.Active && a.Date == date {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UsageCounts(_ context.Context, since model.Date) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, a := range s.assignments {
		if a.Date.Before(since) {
			continue
		}
		counts[a.CrewID]++
		counts[a.LeadVehicleID]++
		counts[a.ChaseVehicleID]++
	}
	return counts, nil
}

func (s *MemoryStore) AcquireRun(_ context.Context, date model.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[date] {
		return false, nil
	}
	s.runs[date] = true
	return true, nil
}

func (s *MemoryStore) ReleaseRun(_ context.Context, date model.Date) error {
	s.mu.Lock()
	delete(s.runs, date)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
