package events

import "github.com/secutrans/convoy/core/model"

// ExpansionCompleted is published after a daily expansion run finishes,
// including runs that recorded per-template failures.
type ExpansionCompleted struct {
	Date    model.Date
	Created int
	Skipped int
	Failed  int
}

// RoutesGrouped is published after the grouper processes a date.
type RoutesGrouped struct {
	Date      model.Date
	Routes    int
	Ungrouped int
}

// AssignmentBound is published when a bind or reassign succeeds.
type AssignmentBound struct {
	AssignmentID string
	RouteID      string
	Date         model.Date
}

// AssignmentConflict is published when a bind or reassign loses the
// exclusivity check.
type AssignmentConflict struct {
	RouteID  string
	Date     model.Date
	Kind     model.ResourceKind
	Resource string
}

// AssignmentCancelled is published when an active assignment is cancelled.
type AssignmentCancelled struct {
	AssignmentID string
	Date         model.Date
}
