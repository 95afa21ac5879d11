package model

import (
	"fmt"
	"time"
)

// ResourceKind discriminates the three contended resource pools. KindRoute
// is not a pool; it names the route itself when a second bind contends for
// an already-assigned route.
type ResourceKind int

const (
	KindCrew ResourceKind = iota
	KindLeadVehicle
	KindChaseVehicle
	KindRoute
)

// String returns a human-readable representation of the resource kind.
func (k ResourceKind) String() string {
	switch k {
	case KindCrew:
		return "crew"
	case KindLeadVehicle:
		return "lead_vehicle"
	case KindChaseVehicle:
		return "chase_vehicle"
	case KindRoute:
		return "route"
	default:
		return "unknown"
	}
}

// ResourceKinds lists all kinds in binding order.
var ResourceKinds = []ResourceKind{KindCrew, KindLeadVehicle, KindChaseVehicle}

// TeamAssignment binds a route to a crew commander, a lead vehicle and a
// chase vehicle for one date. While Active, each of the three resources is
// exclusive for that date; stores enforce this atomically on Bind/Reassign.
type TeamAssignment struct {
	ID      string `json:"id"`
	RouteID string `json:"route_id"`
	Date    Date   `json:"date"`

	CrewID         string `json:"crew_id"`
	LeadVehicleID  string `json:"lead_vehicle_id"`
	ChaseVehicleID string `json:"chase_vehicle_id"`

	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	CancelledAt time.Time `json:"cancelled_at,omitempty"`
}

// ResourceID returns the bound resource of the given kind.
func (a TeamAssignment) ResourceID(k ResourceKind) string {
	switch k {
	case KindCrew:
		return a.CrewID
	case KindLeadVehicle:
		return a.LeadVehicleID
	case KindChaseVehicle:
		return a.ChaseVehicleID
	default:
		return ""
	}
}

// Validate checks that the assignment names three distinct resources.
func (a TeamAssignment) Validate() error {
	if a.RouteID == "" {
		return fmt.Errorf("assignment requires a route")
	}
	if a.CrewID == "" || a.LeadVehicleID == "" || a.ChaseVehicleID == "" {
		return fmt.Errorf("assignment requires a crew, a lead vehicle and a chase vehicle")
	}
	if a.LeadVehicleID == a.ChaseVehicleID {
		return fmt.Errorf("lead and chase vehicle must differ")
	}
	return nil
}
