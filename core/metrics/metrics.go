package metrics

import (
	"time"

	"github.com/secutrans/convoy/core/model"
)

// ExpansionEvent summarizes one daily expansion run.
type ExpansionEvent struct {
	Date     model.Date
	Created  int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// GroupingEvent summarizes one grouping run.
type GroupingEvent struct {
	Date      model.Date
	Routes    int
	Ungrouped int
}

// AssignmentEvent records the outcome of a bind, reassign or cancel.
type AssignmentEvent struct {
	Date         model.Date
	RouteID      string
	AssignmentID string
	// Outcome is one of "assigned", "conflict", "cancelled".
	Outcome string
	// Resource names the contended resource on conflict.
	Resource string
	Time     time.Time
}

// Sink records engine events for observability purposes.
type Sink interface {
	RecordExpansion(ev ExpansionEvent) error
	RecordAssignment(ev AssignmentEvent) error
}

// GroupingRecorder records grouping runs. Sinks may implement it in addition
// to Sink.
type GroupingRecorder interface {
	RecordGrouping(ev GroupingEvent) error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RecordExpansion(ExpansionEvent) error   { return nil }
func (NopSink) RecordAssignment(AssignmentEvent) error { return nil }
