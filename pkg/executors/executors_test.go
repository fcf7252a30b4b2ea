package executors_test

import (
	"testing"

	"github.com/dukex/loom/pkg/executors"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		config     map[string]any
		wantErrors int
	}{
		{
			name:       "valid",
			config:     map[string]any{"message": "hi", "level": "info"},
			wantErrors: 0,
		},
		{
			name:       "missing and invalid fields",
			config:     map[string]any{"level": "loud"},
			wantErrors: 2,
		},
		{
			name:       "unknown field",
			config:     map[string]any{"message": "hi", "colour": "red"},
			wantErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			node := &models.Node{Name: "Log", Configuration: tt.config}

			var cfg models.LogConfig

			errs := executors.Decode(node, &cfg)
			assert.Len(t, errs, tt.wantErrors)
		})
	}
}

func TestDecodeOrFail(t *testing.T) {
	t.Parallel()

	var cfg models.LogConfig

	err := executors.DecodeOrFail(&models.Node{Name: "Log"}, &cfg)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeValidationFailed, err.Code)
	assert.False(t, err.Retryable)
	assert.Contains(t, err.Message, "message")
}

func TestRenderValues(t *testing.T) {
	t.Parallel()

	execCtx := protocol.NodeExecutionContext{
		Input:     map[string]any{"user": "ada", "count": 3},
		Variables: map[string]any{"env": "prod"},
	}

	rendered, err := executors.RenderMap(map[string]any{
		"greeting": "hello {{.input.user}}",
		"nested":   map[string]any{"env": "{{.vars.env}}", "n": 1},
		"list":     []any{"{{.input.count}}", true},
		"plain":    "no template",
	}, execCtx)
	require.NoError(t, err)

	assert.Equal(t, "hello ada", rendered["greeting"])
	assert.Equal(t, map[string]any{"env": "prod", "n": 1}, rendered["nested"])
	assert.Equal(t, []any{float64(3), true}, rendered["list"])
	assert.Equal(t, "no template", rendered["plain"])
}
