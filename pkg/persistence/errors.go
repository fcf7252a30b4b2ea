package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionTerminal indicates a write over an execution that already finished.
	ErrExecutionTerminal = errors.New("execution is in a terminal status")

	// ErrPauseNotFound indicates no matching pause exists.
	ErrPauseNotFound = errors.New("pause not found")

	// ErrInteractionNotFound indicates a HIL interaction was not found.
	ErrInteractionNotFound = errors.New("interaction not found")

	// ErrInteractionExists indicates an interaction with the same id already exists.
	ErrInteractionExists = errors.New("interaction already exists")
)

// RecordError wraps repository errors with the operation and record involved.
type RecordError struct {
	Op     string // Operation being performed (e.g., "ExecutionByID", "SaveExecution")
	Record string // Record kind (e.g., "execution", "interaction")
	ID     string // Record id if applicable
	Err    error  // Underlying error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Record, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for record errors.
func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *RecordError {
	return &RecordError{Op: op, Record: "workflow", ID: workflowID, Err: err}
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *RecordError {
	return &RecordError{Op: op, Record: "execution", ID: executionID, Err: err}
}

// NewInteractionError creates a new interaction error with context.
func NewInteractionError(op, interactionID string, err error) *RecordError {
	return &RecordError{Op: op, Record: "interaction", ID: interactionID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsInteractionNotFound checks if an error indicates an interaction was not found.
func IsInteractionNotFound(err error) bool {
	return errors.Is(err, ErrInteractionNotFound)
}
