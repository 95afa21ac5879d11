package metrics

import coremetrics "github.com/secutrans/convoy/core/metrics"

// MultiSink fans engine events out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordExpansion forwards the event to all sinks, returning the first error encountered.
func (m *MultiSink) RecordExpansion(ev coremetrics.ExpansionEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordExpansion(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordAssignment forwards the event to all sinks.
func (m *MultiSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordAssignment(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordGrouping forwards grouping summaries when supported by the sink.
func (m *MultiSink) RecordGrouping(ev coremetrics.GroupingEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.GroupingRecorder); ok {
			if err := rec.RecordGrouping(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
