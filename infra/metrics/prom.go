package metrics

import (
	coremetrics "github.com/secutrans/convoy/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records engine events in Prometheus metrics.
type PromSink struct {
	expansions  *prometheus.CounterVec
	assignments *prometheus.CounterVec
	routes      prometheus.Counter
	ungrouped   prometheus.Counter
}

// NewPromSink registers engine metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using the configured port.
func NewPromSink() (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	expansions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_expansion_tasks_total",
		Help: "Task instances produced by daily expansion runs",
	}, []string{"result"})
	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "team_assignment_events_total",
		Help: "Total number of assignment events",
	}, []string{"outcome"})
	routes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grouped_routes_total",
		Help: "Routes produced by grouping runs",
	})
	ungrouped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ungrouped_tasks_total",
		Help: "Task instances the grouper could not place on a route",
	})

	if err := reg.Register(expansions); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			expansions = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(assignments); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			assignments = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(routes); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			routes = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(ungrouped); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			ungrouped = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}

	return &PromSink{expansions: expansions, assignments: assignments, routes: routes, ungrouped: ungrouped}, nil
}

// RecordExpansion increments the expansion counters for one daily run.
func (s *PromSink) RecordExpansion(ev coremetrics.ExpansionEvent) error {
	s.expansions.WithLabelValues("created").Add(float64(ev.Created))
	s.expansions.WithLabelValues("skipped").Add(float64(ev.Skipped))
	s.expansions.WithLabelValues("failed").Add(float64(ev.Failed))
	return nil
}

// RecordAssignment increments the assignment counter for each event.
func (s *PromSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	s.assignments.WithLabelValues(ev.Outcome).Inc()
	return nil
}

// RecordGrouping increments the route and ungrouped counters.
func (s *PromSink) RecordGrouping(ev coremetrics.GroupingEvent) error {
	s.routes.Add(float64(ev.Routes))
	s.ungrouped.Add(float64(ev.Ungrouped))
	return nil
}
