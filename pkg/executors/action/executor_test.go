package action_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/loom/pkg/executors/action"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, subtype string, config, input map[string]any, logger *slog.Logger) protocol.NodeExecutionResult {
	t.Helper()

	executor := &action.Executor{}

	return executor.Execute(context.Background(), protocol.NodeExecutionContext{
		Node:   &models.Node{ID: "a", Name: "Action", Type: models.NodeTypeAction, Subtype: subtype, Configuration: config},
		Input:  input,
		Logger: logger,
	})
}

func TestLog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	result := execute(t, action.SubtypeLog, map[string]any{"message": "order {{.input.id}}", "level": "warn"},
		map[string]any{"id": "A-1"}, logger)

	require.Equal(t, protocol.ResultSuccess, result.Status)
	assert.Equal(t, "order A-1", result.OutputData["message"])
	assert.Equal(t, "A-1", result.OutputData["id"])
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "order A-1")
}

func TestTransform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		expression string
		input      map[string]any
		want       map[string]any
	}{
		{
			name:       "object output",
			expression: `{"full_name": "{{.input.first}} {{.input.last}}"}`,
			input:      map[string]any{"first": "Ada", "last": "Lovelace"},
			want:       map[string]any{"full_name": "Ada Lovelace"},
		},
		{
			name:       "scalar output",
			expression: `{{len .input.items}}`,
			input:      map[string]any{"items": []any{1, 2, 3}},
			want:       map[string]any{"result": float64(3)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := execute(t, action.SubtypeTransform, map[string]any{"expression": tt.expression}, tt.input, nil)
			require.Equal(t, protocol.ResultSuccess, result.Status)
			assert.Equal(t, tt.want, result.OutputData)
		})
	}
}

func TestSet(t *testing.T) {
	t.Parallel()

	result := execute(t, action.SubtypeSet,
		map[string]any{"values": map[string]any{"status": "done", "owner": "{{.input.user}}"}},
		map[string]any{"user": "ada", "status": "new"}, nil)

	require.Equal(t, protocol.ResultSuccess, result.Status)
	assert.Equal(t, map[string]any{"user": "ada", "status": "done", "owner": "ada"}, result.OutputData)
}

func TestMissingConfiguration(t *testing.T) {
	t.Parallel()

	result := execute(t, action.SubtypeTransform, nil, nil, nil)
	require.Equal(t, protocol.ResultError, result.Status)
	assert.Equal(t, protocol.CodeValidationFailed, result.Error.Code)
	assert.Contains(t, result.Error.Message, "expression")
}
