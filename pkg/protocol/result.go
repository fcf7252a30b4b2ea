package protocol

import "github.com/dukex/loom/pkg/models"

type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
	ResultPause   ResultStatus = "pause"
)

// PauseRequest is returned by nodes that need a human before they can complete.
type PauseRequest struct {
	Reason      string
	Interaction models.InteractionSpec
}

// NodeExecutionResult is the outcome of one Execute call.
type NodeExecutionResult struct {
	Status     ResultStatus
	OutputData map[string]any
	// ActiveOutputs lists the output keys a FLOW node enabled. Nil for other nodes.
	ActiveOutputs []string
	Logs          []string
	Error         *ExecutorError
	Pause         *PauseRequest
}

// Success builds a successful result.
func Success(output map[string]any, logs ...string) NodeExecutionResult {
	if output == nil {
		output = map[string]any{}
	}

	return NodeExecutionResult{Status: ResultSuccess, OutputData: output, Logs: logs}
}

// Route builds a successful FLOW result that enables only the given outputs.
func Route(output map[string]any, active ...string) NodeExecutionResult {
	result := Success(output)
	result.ActiveOutputs = append([]string{}, active...)

	return result
}

// Failure builds an error result.
func Failure(err *ExecutorError, logs ...string) NodeExecutionResult {
	return NodeExecutionResult{Status: ResultError, Error: err, Logs: logs}
}

// Pause builds a pause result.
func Pause(reason string, spec models.InteractionSpec, logs ...string) NodeExecutionResult {
	return NodeExecutionResult{
		Status: ResultPause,
		Pause:  &PauseRequest{Reason: reason, Interaction: spec},
		Logs:   logs,
	}
}
