// Package executors holds helpers shared by the node executors under its
// subpackages.
package executors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/dukex/loom/pkg/template"
)

// ErrUnsupportedSubtype is returned when a node reaches an executor that does not serve its subtype.
var ErrUnsupportedSubtype = errors.New("unsupported subtype")

// Decode decodes the node configuration into target and returns one error per problem.
func Decode(node *models.Node, target any) []error {
	err := models.DecodeConfig(node.Configuration, target)
	if err == nil {
		return nil
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}

	return []error{err}
}

// DecodeOrFail decodes the node configuration for Execute, turning problems into a
// non-retryable validation error.
func DecodeOrFail(node *models.Node, target any) *protocol.ExecutorError {
	errs := Decode(node, target)
	if len(errs) == 0 {
		return nil
	}

	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}

	return &protocol.ExecutorError{
		Code:    protocol.CodeValidationFailed,
		Message: strings.Join(messages, "; "),
		Hint:    fmt.Sprintf("check the configuration of node %q", node.Name),
	}
}

// Unsupported reports a subtype the executor does not implement.
func Unsupported(node *models.Node) []error {
	return []error{fmt.Errorf("%w: %s/%s", ErrUnsupportedSubtype, node.Type, node.Subtype)}
}

// TemplateFailure wraps a template error.
func TemplateFailure(field string, err error) *protocol.ExecutorError {
	return &protocol.ExecutorError{
		Code:    protocol.CodeTemplateFailed,
		Message: fmt.Sprintf("rendering %s: %v", field, err),
		Err:     err,
	}
}

// RenderValues renders every string inside value as a template against the node
// context. Maps and slices are walked; other values are copied as they are.
func RenderValues(value any, execCtx protocol.NodeExecutionContext) (any, error) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return v, nil
		}

		return template.RenderWithContext(v, execCtx)
	case map[string]any:
		rendered := make(map[string]any, len(v))

		for key, item := range v {
			out, err := RenderValues(item, execCtx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			rendered[key] = out
		}

		return rendered, nil
	case []any:
		rendered := make([]any, len(v))

		for i, item := range v {
			out, err := RenderValues(item, execCtx)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			rendered[i] = out
		}

		return rendered, nil
	default:
		return v, nil
	}
}

// RenderMap renders a configuration map, returning an empty map for nil input.
func RenderMap(values map[string]any, execCtx protocol.NodeExecutionContext) (map[string]any, error) {
	if values == nil {
		return map[string]any{}, nil
	}

	rendered, err := RenderValues(values, execCtx)
	if err != nil {
		return nil, err
	}

	return rendered.(map[string]any), nil
}

// Merge returns a copy of base with overlay written on top.
func Merge(base, overlay map[string]any) map[string]any {
	merged := models.CloneMap(base)
	if merged == nil {
		merged = make(map[string]any)
	}

	for key, value := range overlay {
		merged[key] = value
	}

	return merged
}
