package model

import (
	"fmt"
	"time"
)

// TaskState tracks a task instance through its lifecycle. Completed, Failed
// and Cancelled are terminal and are driven by the order-fulfillment side,
// not by this engine.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskGrouped
	TaskAssigned
	TaskCompleted
	TaskFailed
	TaskCancelled
)

// String returns a human-readable representation of the state.
func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskGrouped:
		return "grouped"
	case TaskAssigned:
		return "assigned"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseTaskState is the inverse of String.
func ParseTaskState(s string) (TaskState, error) {
	for st := TaskPending; st <= TaskCancelled; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown task state %q", s)
}

// CanTransition reports whether the move from s to next is legal. The happy
// path is Pending -> Grouped -> Assigned -> Completed; Cancelled and Failed
// are reachable from any non-terminal state.
func (s TaskState) CanTransition(next TaskState) bool {
	if s == TaskCompleted || s == TaskFailed || s == TaskCancelled {
		return false
	}
	switch next {
	case TaskGrouped:
		return s == TaskPending
	case TaskAssigned:
		return s == TaskGrouped
	case TaskCompleted:
		return s == TaskAssigned
	case TaskCancelled, TaskFailed:
		return true
	default:
		return false
	}
}

// OccurrenceRecord marks that a task instance was generated for a template on
// a date. The (TemplateID, Date) pair is unique in every store backend; it is
// the idempotency guard making repeated expansion runs safe.
type OccurrenceRecord struct {
	TemplateID string    `json:"template_id"`
	Date       Date      `json:"date"`
	CreatedAt  time.Time `json:"created_at"`
}

// TaskInstance is one concrete dated task derived from a template occurrence.
type TaskInstance struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	Date       Date   `json:"date"`

	Pickup   Location `json:"pickup"`
	Delivery Location `json:"delivery"`

	VehicleCount int  `json:"vehicle_count"`
	FullDay      bool `json:"full_day"`

	State TaskState `json:"state"`

	// Seq is the store-assigned creation sequence. Grouping orders tasks by
	// Seq so sub-route numbering is reproducible.
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}
