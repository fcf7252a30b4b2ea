// Package memory provides the MEMORY node executor backed by a protocol.MemoryStore.
package memory

import (
	"context"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
)

const (
	SubtypeBuffer   = "BUFFER"
	SubtypeKeyValue = "KEY_VALUE"
)

const (
	OperationRead  = "read"
	OperationWrite = "write"
)

// Factory creates memory executors bound to one store.
type Factory struct {
	store protocol.MemoryStore
}

func NewFactory(store protocol.MemoryStore) *Factory {
	return &Factory{store: store}
}

func (f *Factory) NodeType() models.NodeType {
	return models.NodeTypeMemory
}

func (f *Factory) Subtypes() []string {
	return []string{SubtypeBuffer, SubtypeKeyValue}
}

func (f *Factory) Create(_ context.Context, _ string) (protocol.NodeExecutor, error) {
	return NewExecutor(f.store), nil
}

func (f *Factory) Name() string {
	return "Memory"
}

func (f *Factory) Description() string {
	return "Reads and writes a conversation buffer or keyed values that outlive a single execution."
}

func (f *Factory) Schema(subtype string) map[string]any {
	required := []string{"namespace"}
	if subtype == SubtypeKeyValue {
		required = append(required, "key")
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"namespace":   map[string]any{"type": "string"},
			"operation":   map[string]any{"type": "string", "enum": []string{OperationRead, OperationWrite}, "default": OperationRead},
			"key":         map[string]any{"type": "string"},
			"max_entries": map[string]any{"type": "integer", "minimum": 0},
		},
		"required": required,
	}
}
