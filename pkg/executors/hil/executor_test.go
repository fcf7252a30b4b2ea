package hil_test

import (
	"context"
	"testing"

	"github.com/dukex/loom/pkg/executors/hil"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_ExecutePauses(t *testing.T) {
	t.Parallel()

	executor := &hil.Executor{DefaultTimeoutSeconds: 3600}

	result := executor.Execute(context.Background(), protocol.NodeExecutionContext{
		Node: &models.Node{
			ID:      "approve",
			Name:    "Approve refund",
			Type:    models.NodeTypeHumanInTheLoop,
			Subtype: hil.SubtypeApproval,
			Configuration: map[string]any{
				"channel": "slack",
				"target":  "#refunds",
				"message": "Approve refund of {{.input.amount}} for {{.input.customer}}?",
			},
		},
		Input: map[string]any{"amount": 42, "customer": "ada"},
	})

	require.Equal(t, protocol.ResultPause, result.Status)
	require.NotNil(t, result.Pause)

	spec := result.Pause.Interaction
	assert.Equal(t, models.InteractionTypeApproval, spec.InteractionType)
	assert.Equal(t, models.ChannelSlack, spec.ChannelType)
	assert.Equal(t, "Approve refund of 42 for ada?", spec.Message)
	assert.Equal(t, 3600, spec.TimeoutSeconds)
	assert.Equal(t, models.TimeoutActionFail, spec.TimeoutAction)
}

func TestExecutor_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		subtype string
		config  map[string]any
		wantErr error
		invalid bool
	}{
		{
			name:    "approval",
			subtype: hil.SubtypeApproval,
			config:  map[string]any{"channel": "email", "target": "boss@example.com", "message": "ok?"},
		},
		{
			name:    "selection without options",
			subtype: hil.SubtypeSelection,
			config:  map[string]any{"channel": "slack", "target": "#ops", "message": "pick"},
			wantErr: hil.ErrOptionsRequired,
		},
		{
			name:    "default response missing",
			subtype: hil.SubtypeInput,
			config:  map[string]any{"channel": "in_app", "target": "u1", "message": "?", "timeout_action": "default_response"},
			wantErr: hil.ErrDefaultResponseRequired,
		},
		{
			name:    "unknown channel",
			subtype: hil.SubtypeReview,
			config:  map[string]any{"channel": "fax", "target": "x", "message": "?"},
			invalid: true,
		},
	}

	executor := &hil.Executor{}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			errs := executor.Validate(&models.Node{Subtype: tt.subtype, Configuration: tt.config})

			switch {
			case tt.wantErr != nil:
				require.Len(t, errs, 1)
				assert.ErrorIs(t, errs[0], tt.wantErr)
			case tt.invalid:
				assert.NotEmpty(t, errs)
			default:
				assert.Empty(t, errs)
			}
		})
	}
}
