package model

import "fmt"

// Location identifies a pickup or delivery locality. Grouping keys on the
// branch when set and falls back to the region.
type Location struct {
	BranchID string `json:"branch_id"`
	Region   string `json:"region"`
}

// Key returns the grouping identity of the location.
func (l Location) Key() string {
	if l.BranchID != "" {
		return "branch:" + l.BranchID
	}
	return "region:" + l.Region
}

// IsZero reports whether the location carries no locality information.
func (l Location) IsZero() bool { return l.BranchID == "" && l.Region == "" }

// OrderTemplate is a recurring pickup/delivery order definition owned by the
// order subsystem. The engine reads templates and records generated
// occurrences; it never mutates template fields.
type OrderTemplate struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	OrderType  string `json:"order_type"`

	Pickup   Location `json:"pickup"`
	Delivery Location `json:"delivery"`

	// VehicleCount is the number of vehicles a single occurrence requires.
	VehicleCount int `json:"vehicle_count"`
	// FullDay marks orders that occupy a dedicated team for the whole day.
	FullDay bool `json:"full_day"`

	Recurrence RecurrenceRule `json:"recurrence"`
	Start      Date           `json:"start"`
	// End is inclusive; the zero Date means open-ended.
	End Date `json:"end,omitempty"`
}

// Validate checks the structural invariants of the template.
func (t OrderTemplate) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("template id is required")
	}
	if t.Pickup.IsZero() {
		return fmt.Errorf("template %s: pickup locality is required", t.ID)
	}
	if t.Delivery.IsZero() {
		return fmt.Errorf("template %s: delivery locality is required", t.ID)
	}
	if t.VehicleCount <= 0 {
		return fmt.Errorf("template %s: vehicle count must be positive", t.ID)
	}
	if t.Start.IsZero() {
		return fmt.Errorf("template %s: start date is required", t.ID)
	}
	if !t.End.IsZero() && t.End.Before(t.Start) {
		return fmt.Errorf("template %s: end date %s precedes start date %s", t.ID, t.End, t.Start)
	}
	if err := t.Recurrence.Validate(); err != nil {
		return fmt.Errorf("template %s: %w", t.ID, err)
	}
	return nil
}

// ActiveOn reports whether date falls within the template's date range.
func (t OrderTemplate) ActiveOn(date Date) bool {
	if date.Before(t.Start) {
		return false
	}
	return t.End.IsZero() || !date.After(t.End)
}

// DueOn reports whether the template's recurrence produces an occurrence on
// date.
func (t OrderTemplate) DueOn(date Date) bool {
	return t.Recurrence.DueOn(date, t.Start, t.End)
}
