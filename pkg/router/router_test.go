package router_test

import (
	"testing"
	"time"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRoute_MainMergeLowerIndexWins(t *testing.T) {
	t.Parallel()

	r := router.New(time.Second)

	incoming := []*models.Connection{
		{FromNode: "a2", ToNode: "a3", Type: models.ConnectionTypeMain, Index: 1},
		{FromNode: "a1", ToNode: "a3", Type: models.ConnectionTypeMain, Index: 0},
	}
	outputs := map[string]map[string]any{
		"a1": {"status": "from-a1", "only_a1": true, "nested": map[string]any{"x": 1}},
		"a2": {"status": "from-a2", "only_a2": 0, "nested": map[string]any{"x": 2, "y": 3}},
	}

	input, err := r.Route(incoming, outputs)
	require.NoError(t, err)

	assert.Equal(t, "from-a1", input.Main["status"])
	assert.Equal(t, true, input.Main["only_a1"])
	assert.Equal(t, 0, input.Main["only_a2"])
	assert.Equal(t, map[string]any{"x": 1, "y": 3}, input.Main["nested"])

	// The router never writes through to upstream outputs.
	assert.Equal(t, map[string]any{"x": 2, "y": 3}, outputs["a2"]["nested"])
}

func TestRoute_ZeroValueFromLowerIndexStillWins(t *testing.T) {
	t.Parallel()

	input, err := router.New(time.Second).Route([]*models.Connection{
		{FromNode: "low", ToNode: "t", Index: 0},
		{FromNode: "high", ToNode: "t", Index: 5},
	}, map[string]map[string]any{
		"low":  {"count": 0, "label": ""},
		"high": {"count": 7, "label": "set"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, input.Main["count"])
	assert.Equal(t, "", input.Main["label"])
}

func TestRoute_OutputKeySelectsSubObject(t *testing.T) {
	t.Parallel()

	input, err := router.New(time.Second).Route([]*models.Connection{
		{FromNode: "agent", ToNode: "t", OutputKey: "summary"},
	}, map[string]map[string]any{
		"agent": {"summary": map[string]any{"text": "short"}, "raw": "long"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"text": "short"}, input.Main)
}

func TestRoute_AttachmentsKeptInSlots(t *testing.T) {
	t.Parallel()

	input, err := router.New(time.Second).Route([]*models.Connection{
		{FromNode: "trigger", ToNode: "agent"},
		{FromNode: "search", ToNode: "agent", Type: models.ConnectionTypeAITool, Index: 1},
		{FromNode: "calc", ToNode: "agent", Type: models.ConnectionTypeAITool, Index: 0},
		{FromNode: "docs", ToNode: "agent", Type: models.ConnectionTypeAIDocument},
	}, map[string]map[string]any{
		"trigger": {"question": "why"},
		"docs":    {"pages": 3},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"question": "why"}, input.Main)

	tools := input.Attachments[models.ConnectionTypeAITool]
	require.Len(t, tools, 2)
	assert.Equal(t, "calc", tools[0].FromNode)
	assert.Equal(t, "search", tools[1].FromNode)
	assert.Nil(t, tools[0].Data)

	docs := input.Attachments[models.ConnectionTypeAIDocument]
	require.Len(t, docs, 1)
	assert.Equal(t, map[string]any{"pages": 3}, docs[0].Data)
}

func TestRoute_ConversionFunction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		source   string
		expected map[string]any
	}{
		{name: "arrow function", source: "(data) => ({ total: data.amount * 2 })", expected: map[string]any{"total": 42}},
		{name: "bare parameter arrow", source: "data => ({ total: data.amount + 1 })", expected: map[string]any{"total": 22}},
		{name: "function body", source: "return { doubled: data.amount * 2, kept: data.note }", expected: map[string]any{"doubled": 42, "kept": "hi"}},
		{name: "scalar result", source: "return data.amount", expected: map[string]any{"result": 21}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			input, err := router.New(time.Second).Route([]*models.Connection{
				{FromNode: "a", ToNode: "b", ConversionFunction: tt.source},
			}, map[string]map[string]any{"a": {"amount": 21, "note": "hi"}})
			require.NoError(t, err)

			require.Len(t, input.Main, len(tt.expected))
			for k, v := range tt.expected {
				assert.EqualValues(t, v, input.Main[k], k)
			}
		})
	}
}

func TestRoute_ConversionFailure(t *testing.T) {
	t.Parallel()

	r := router.New(50 * time.Millisecond)

	_, err := r.Route([]*models.Connection{
		{FromNode: "a", ToNode: "b", ConversionFunction: "throw new Error('boom')"},
	}, map[string]map[string]any{"a": {}})
	require.ErrorIs(t, err, router.ErrConversionFailed)

	_, err = r.Route([]*models.Connection{
		{FromNode: "a", ToNode: "b", ConversionFunction: "while (true) {}"},
	}, map[string]map[string]any{"a": {}})
	require.ErrorIs(t, err, router.ErrConversionFailed)
}

func TestRoute_MergeIsOrderIndependent(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(1, 6).Draw(rt, "edges")
		outputs := make(map[string]map[string]any, count)
		edges := make([]*models.Connection, 0, count)

		for i := range count {
			id := string(rune('a' + i))
			outputs[id] = map[string]any{
				"shared": id,
				"value":  rapid.IntRange(0, 3).Draw(rt, "value"),
			}
			edges = append(edges, &models.Connection{FromNode: id, ToNode: "target", Index: rapid.IntRange(0, 3).Draw(rt, "index")})
		}

		shuffled := rapid.Permutation(edges).Draw(rt, "order")

		first, err := router.New(time.Second).Route(edges, outputs)
		require.NoError(rt, err)

		second, err := router.New(time.Second).Route(shuffled, outputs)
		require.NoError(rt, err)

		assert.Equal(rt, first.Main, second.Main)

		winner := append([]*models.Connection{}, edges...)
		router.SortByPrecedence(winner)
		assert.Equal(rt, winner[0].FromNode, first.Main["shared"])
	})
}
