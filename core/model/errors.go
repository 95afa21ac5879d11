package model

import (
	"errors"
	"fmt"
)

// Error taxonomy of the engine. Callers branch with errors.Is; stores and
// collaborators wrap their failures into one of these classes.
var (
	// ErrValidation marks malformed input rejected before any state change.
	ErrValidation = errors.New("validation failure")
	// ErrConflict marks a resource already bound on the requested date. It is
	// expected and recoverable; see ConflictError for the structured detail.
	ErrConflict = errors.New("resource conflict")
	// ErrTransient marks a storage or collaborator failure worth retrying
	// with backoff.
	ErrTransient = errors.New("transient failure")
	// ErrInconsistent marks an invariant violation, fatal for the operation.
	ErrInconsistent = errors.New("inconsistent state")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
)

// ConflictError reports which resource blocked a Bind or Reassign and which
// active assignment holds it, so the caller can propose an alternative.
type ConflictError struct {
	Kind         ResourceKind
	ResourceID   string
	Date         Date
	AssignmentID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s already assigned on %s (assignment %s)",
		e.Kind, e.ResourceID, e.Date, e.AssignmentID)
}

// Is makes errors.Is(err, ErrConflict) match ConflictError values.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
