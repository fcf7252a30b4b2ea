package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotPaused is returned when resuming or failing a node that has no active pause.
	ErrNotPaused = errors.New("execution is not paused at node")

	// ErrAmbiguousResume is returned by Resume when more than one node is paused.
	ErrAmbiguousResume = errors.New("execution has more than one active pause")

	ErrInvalidTrigger       = errors.New("invalid trigger node")
	ErrNoTrigger            = errors.New("workflow has no trigger node")
	ErrCycleDetected        = errors.New("cycle detected in MAIN connections")
	ErrUnknownNode          = errors.New("connection references an unknown node")
	ErrInvalidAttachment    = errors.New("attached nodes must be TOOL or MEMORY nodes")
	ErrInvalidConfiguration = errors.New("invalid node configuration")
	ErrInvalidNode          = errors.New("invalid node")
	ErrInvalidConnection    = errors.New("invalid connection")
)

// ValidationError lists every problem found in a workflow. It is fatal: the
// workflow never starts.
type ValidationError struct {
	WorkflowID string
	Problems   []error
}

func (e *ValidationError) Error() string {
	messages := make([]string, 0, len(e.Problems))
	for _, problem := range e.Problems {
		messages = append(messages, problem.Error())
	}

	return fmt.Sprintf("workflow %s is invalid: %s", e.WorkflowID, strings.Join(messages, "; "))
}

func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var validationErr *ValidationError

	return errors.As(err, &validationErr)
}

// ExecutionError wraps engine errors with the operation and execution involved.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func executionError(op, executionID string, err error) error {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}
