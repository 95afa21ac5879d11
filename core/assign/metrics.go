package assign

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	bindsTotal         *prometheus.CounterVec
	conflictsTotal     *prometheus.CounterVec
	cancellationsTotal prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, prometheus.Counter) {
	binds := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assignment_binds_total",
			Help: "Number of bind attempts by outcome",
		},
		[]string{"outcome"},
	)
	conflicts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assignment_conflicts_total",
			Help: "Number of bind conflicts by contended resource kind",
		},
		[]string{"resource_kind"},
	)
	cancels := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assignment_cancellations_total",
			Help: "Number of cancelled assignments",
		},
	)
	return binds, conflicts, cancels
}

func init() {
	bindsTotal, conflictsTotal, cancellationsTotal = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers assignment metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(bindsTotal, conflictsTotal, cancellationsTotal)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	bindsTotal, conflictsTotal, cancellationsTotal = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
