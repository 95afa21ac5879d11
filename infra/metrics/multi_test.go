package metrics

import (
	"testing"

	coremetrics "github.com/secutrans/convoy/core/metrics"
)

type recordSink struct {
	count int
}

func (r *recordSink) RecordExpansion(coremetrics.ExpansionEvent) error {
	r.count++
	return nil
}

func (r *recordSink) RecordAssignment(coremetrics.AssignmentEvent) error {
	r.count++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2)
	if err := m.RecordExpansion(coremetrics.ExpansionEvent{}); err != nil {
		t.Fatalf("record expansion: %v", err)
	}
	if err := m.RecordAssignment(coremetrics.AssignmentEvent{}); err != nil {
		t.Fatalf("record assignment: %v", err)
	}
	if s1.count != 2 || s2.count != 2 {
		t.Fatalf("events not forwarded")
	}
}

func TestMultiSinkSkipsGroupingWhenUnsupported(t *testing.T) {
	s := &recordSink{}
	m := NewMultiSink(s)
	if err := m.RecordGrouping(coremetrics.GroupingEvent{Routes: 1}); err != nil {
		t.Fatalf("record grouping: %v", err)
	}
	if s.count != 0 {
		t.Fatalf("grouping forwarded to a sink without support")
	}
}
