// Package availability defines the resource-availability collaborator
// contract. The source of truth for crews and vehicles lives outside the
// engine; Roster is the in-process implementation fed by configuration and
// the fleet status feed.
package availability

import (
	"context"

	"github.com/secutrans/convoy/core/model"
)

// Resource describes an assignable crew or vehicle.
type Resource struct {
	ID   string             `json:"id"`
	Kind model.ResourceKind `json:"kind"`
	// Capacity is the vehicle's cargo class, or the crew's vehicle-staffing
	// headroom. A route requiring n vehicles needs Capacity >= n.
	Capacity int `json:"capacity"`
	// VehicleType distinguishes armored lead vehicles from escort chase
	// vehicles; informational for crews.
	VehicleType string `json:"vehicle_type,omitempty"`
}

// Provider answers which resources can serve a date. Resources already bound
// to an assignment are filtered by the engine, not here.
type Provider interface {
	QueryAvailable(ctx context.Context, date model.Date, kind model.ResourceKind, capacityNeeded int) ([]Resource, error)
}
