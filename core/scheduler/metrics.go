package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

var incompleteRunsTotal prometheus.Counter

// newCollectors creates new metric collectors.
func newCollectors() prometheus.Counter {
	return prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_runs_incomplete_total",
			Help: "Number of generation runs that ended incomplete",
		},
	)
}

func init() {
	incompleteRunsTotal = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers scheduler metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(incompleteRunsTotal)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	incompleteRunsTotal = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
