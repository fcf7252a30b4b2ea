package triggerindex

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownSubtype = errors.New("unknown trigger subtype")
	ErrNotTrigger     = errors.New("node is not a trigger")
	ErrNoTriggers     = errors.New("workflow has no trigger nodes")
	ErrDuplicateKey   = errors.New("two triggers of the workflow share an index key")
	ErrMissingKey     = errors.New("event carries no index key")
)

// IndexError wraps a failure of an index operation with the workflow it concerns.
type IndexError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *IndexError) Error() string {
	if e.WorkflowID == "" {
		return fmt.Sprintf("triggerindex %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("triggerindex %s workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

func indexError(op, workflowID string, err error) error {
	return &IndexError{Op: op, WorkflowID: workflowID, Err: err}
}
