package protocol

import (
	"context"
	"errors"
	"fmt"
)

// Stable error codes surfaced on failed node executions.
const (
	CodeValidationFailed         = "VALIDATION_FAILED"
	CodeMissingConfiguration     = "MISSING_CONFIGURATION"
	CodeIntegrationNotConfigured = "INTEGRATION_NOT_CONFIGURED"
	CodeExecutorNotFound         = "EXECUTOR_NOT_FOUND"
	CodeNodeTimeout              = "NODE_TIMEOUT"
	CodeExternalError            = "EXTERNAL_ERROR"
	CodeConversionFailed         = "CONVERSION_FAILED"
	CodeTemplateFailed           = "TEMPLATE_FAILED"
	CodeHILTimeout               = "HIL_TIMEOUT"
	CodeInternal                 = "INTERNAL_ERROR"
)

// ExecutorError is a node failure with a stable code, a human message and a
// remediation hint.
type ExecutorError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

func (e *ExecutorError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Code, e.Message, e.Hint)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ExecutorError) Unwrap() error {
	return e.Err
}

// NewExecutorError creates a non-retryable executor error.
func NewExecutorError(code, message string) *ExecutorError {
	return &ExecutorError{Code: code, Message: message}
}

// RetryableError creates an executor error the engine may retry.
func RetryableError(code, message string, err error) *ExecutorError {
	return &ExecutorError{Code: code, Message: message, Retryable: true, Err: err}
}

// MissingConfiguration reports a required configuration field that is absent.
func MissingConfiguration(field, hint string) *ExecutorError {
	return &ExecutorError{
		Code:    CodeMissingConfiguration,
		Message: fmt.Sprintf("required configuration field %q is missing", field),
		Hint:    hint,
	}
}

// NotConfigured reports a collaborator that was never wired into the executor.
func NotConfigured(collaborator, hint string) *ExecutorError {
	return &ExecutorError{
		Code:    CodeIntegrationNotConfigured,
		Message: collaborator + " is not configured",
		Hint:    hint,
	}
}

// FromError converts an error returned by a collaborator into an ExecutorError.
// Deadline expiry is retryable; other unknown errors are not.
func FromError(err error) *ExecutorError {
	var executorErr *ExecutorError
	if errors.As(err, &executorErr) {
		return executorErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return RetryableError(CodeNodeTimeout, "node execution exceeded its deadline", err)
	}

	return &ExecutorError{Code: CodeExternalError, Message: err.Error(), Err: err}
}
