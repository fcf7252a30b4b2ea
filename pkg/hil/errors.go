package hil

import (
	"errors"
	"fmt"
)

var (
	// ErrInteractionResolved is returned when an interaction left pending before this
	// call could resolve it: a response raced a timeout or a cancellation.
	ErrInteractionResolved = errors.New("interaction already resolved")

	ErrUnknownChannel = errors.New("unknown channel")
	ErrEmptyResponse  = errors.New("response has no text")
)

// InteractionError wraps a HIL failure with the operation and interaction involved.
type InteractionError struct {
	Op            string
	InteractionID string
	Err           error
}

func (e *InteractionError) Error() string {
	return fmt.Sprintf("%s failed for interaction %s: %v", e.Op, e.InteractionID, e.Err)
}

func (e *InteractionError) Unwrap() error {
	return e.Err
}

func interactionError(op, interactionID string, err error) error {
	return &InteractionError{Op: op, InteractionID: interactionID, Err: err}
}
