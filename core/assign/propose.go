package assign

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/secutrans/convoy/core/availability"
	"github.com/secutrans/convoy/core/model"
)

// Candidate is one proposed (crew, lead vehicle, chase vehicle) triple.
// Higher scores mean less recently used resources.
type Candidate struct {
	CrewID         string  `json:"crew_id"`
	LeadVehicleID  string  `json:"lead_vehicle_id"`
	ChaseVehicleID string  `json:"chase_vehicle_id"`
	Score          float64 `json:"score"`
}

// Propose returns candidate triples for the route, best first. Resources
// already holding an active assignment on the route's date are excluded;
// vehicles must meet the route's capacity requirement. Within each pool,
// candidates are ranked by standardized historical usage so work spreads
// evenly across the fleet.
func (e *Engine) Propose(ctx context.Context, route model.Route) ([]Candidate, error) {
	bound := make(map[string]bool)
	active, err := e.store.ActiveForDate(ctx, route.Date)
	if err != nil {
		return nil, fmt.Errorf("active assignments for %s: %w", route.Date, err)
	}
	for _, a := range active {
		for _, kind := range model.ResourceKinds {
			bound[a.ResourceID(kind)] = true
		}
	}

	usage, err := e.store.UsageCounts(ctx, route.Date.AddDays(-e.usageWindow))
	if err != nil {
		return nil, fmt.Errorf("usage counts: %w", err)
	}

	crews, err := e.pool(ctx, route, model.KindCrew, bound, usage)
	if err != nil {
		return nil, err
	}
	leads, err := e.pool(ctx, route, model.KindLeadVehicle, bound, usage)
	if err != nil {
		return nil, err
	}
	chases, err := e.pool(ctx, route, model.KindChaseVehicle, bound, usage)
	if err != nil {
		return nil, err
	}

	n := len(crews)
	if len(leads) < n {
		n = len(leads)
	}
	if len(chases) < n {
		n = len(chases)
	}
	candidates := make([]Candidate, 0, n)
	for i := 0; i < n; i++ {
		candidates = append(candidates, Candidate{
			CrewID:         crews[i].id,
			LeadVehicleID:  leads[i].id,
			ChaseVehicleID: chases[i].id,
			Score:          stat.Mean([]float64{crews[i].score, leads[i].score, chases[i].score}, nil),
		})
	}
	e.log.Debugw("proposed candidates", map[string]any{
		"route": route.ID, "date": route.Date.String(), "count": len(candidates),
	})
	return candidates, nil
}

type ranked struct {
	id    string
	score float64
}

// pool queries one resource kind and ranks it by fairness score.
func (e *Engine) pool(ctx context.Context, route model.Route, kind model.ResourceKind, bound map[string]bool, usage map[string]int) ([]ranked, error) {
	capacityNeeded := route.VehicleCount
	if kind == model.KindChaseVehicle {
		// Chase vehicles escort; they carry no cargo requirement.
		capacityNeeded = 0
	}
	resources, err := e.avail.QueryAvailable(ctx, route.Date, kind, capacityNeeded)
	if err != nil {
		return nil, fmt.Errorf("query %s availability: %w", kind, err)
	}
	var free []availability.Resource
	for _, r := range resources {
		if !bound[r.ID] {
			free = append(free, r)
		}
	}
	return rankByUsage(free, usage), nil
}

// rankByUsage standardizes usage counts over the pool and scores each
// resource by how far below the pool mean its usage sits. A uniform pool
// (zero deviation) keeps the provider's ID ordering.
func rankByUsage(pool []availability.Resource, usage map[string]int) []ranked {
	if len(pool) == 0 {
		return nil
	}
	counts := make([]float64, len(pool))
	for i, r := range pool {
		counts[i] = float64(usage[r.ID])
	}
	mean, std := stat.MeanStdDev(counts, nil)

	out := make([]ranked, len(pool))
	for i, r := range pool {
		score := 0.0
		if std > 0 {
			score = (mean - counts[i]) / std
		}
		out[i] = ranked{id: r.ID, score: score}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	return out
}
