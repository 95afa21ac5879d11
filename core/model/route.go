package model

// Route is a same-date grouping of task instances that share one team
// assignment. Member tasks all carry the route's date; TaskIDs preserves the
// deterministic grouping order.
type Route struct {
	ID   string `json:"id"`
	Date Date   `json:"date"`
	// SubRoute numbers routes sequentially within a date, starting at 1.
	SubRoute int `json:"sub_route"`

	TaskIDs []string `json:"task_ids"`

	Pickup   Location `json:"pickup"`
	Delivery Location `json:"delivery"`

	// VehicleCount is the fleet requirement for the whole route: the maximum
	// single-member requirement, or the full-day allocation when FullDay.
	VehicleCount int  `json:"vehicle_count"`
	FullDay      bool `json:"full_day"`
}
