package availability

import (
	"context"
	"sort"
	"sync"

	"github.com/secutrans/convoy/core/model"
)

// Roster is a mutable in-memory Provider. The fleet status feed marks
// resources offline or out of service for specific dates; everything else is
// considered available.
type Roster struct {
	mu        sync.RWMutex
	resources map[string]Resource
	offline   map[string]bool
	outDates  map[string]map[model.Date]bool
}

// NewRoster creates an empty Roster.
func NewRoster() *Roster {
	return &Roster{
		resources: make(map[string]Resource),
		offline:   make(map[string]bool),
		outDates:  make(map[string]map[model.Date]bool),
	}
}

// Add registers or replaces a resource.
func (r *Roster) Add(res Resource) {
	r.mu.Lock()
	r.resources[res.ID] = res
	r.mu.Unlock()
}

// Remove drops a resource from the roster entirely.
func (r *Roster) Remove(id string) {
	r.mu.Lock()
	delete(r.resources, id)
	delete(r.offline, id)
	delete(r.outDates, id)
	r.mu.Unlock()
}

// SetOnline toggles a resource's global availability.
func (r *Roster) SetOnline(id string, online bool) {
	r.mu.Lock()
	if online {
		delete(r.offline, id)
	} else {
		r.offline[id] = true
	}
	r.mu.Unlock()
}

// MarkOut declares the resource out of service on the given date.
func (r *Roster) MarkOut(id string, date model.Date) {
	r.mu.Lock()
	if r.outDates[id] == nil {
		r.outDates[id] = make(map[model.Date]bool)
	}
	r.outDates[id][date] = true
	r.mu.Unlock()
}

// MarkIn clears an out-of-service date.
func (r *Roster) MarkIn(id string, date model.Date) {
	r.mu.Lock()
	delete(r.outDates[id], date)
	r.mu.Unlock()
}

// QueryAvailable returns the resources of the given kind that can serve the
// date with at least the needed capacity, sorted by ID.
func (r *Roster) QueryAvailable(_ context.Context, date model.Date, kind model.ResourceKind, capacityNeeded int) ([]Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Resource
	for id, res := range r.resources {
		if res.Kind != kind || r.offline[id] || r.outDates[id][date] {
			continue
		}
		if capacityNeeded > 0 && res.Capacity < capacityNeeded {
			continue
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
