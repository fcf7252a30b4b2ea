// Package registry maps (node type, subtype) pairs to node executors.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
)

var (
	ErrExecutorNotFound  = errors.New("executor not registered")
	ErrSubtypeMismatch   = errors.New("executor does not support subtype")
	ErrFactoryRegistered = errors.New("factory already registered")
)

type key struct {
	nodeType models.NodeType
	subtype  string
}

func (k key) String() string {
	return string(k.nodeType) + "/" + k.subtype
}

// Registry resolves executors by (type, subtype). Executors are created on first
// use and cached for the lifetime of the registry.
type Registry struct {
	logger    *slog.Logger
	mu        sync.Mutex
	factories map[key]protocol.ExecutorFactory
	instances map[key]protocol.NodeExecutor
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log.With("module", "registry"),
		factories: make(map[key]protocol.ExecutorFactory),
		instances: make(map[key]protocol.NodeExecutor),
	}
}

// Register adds a factory under every subtype it declares.
func (r *Registry) Register(factory protocol.ExecutorFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, subtype := range factory.Subtypes() {
		k := key{nodeType: factory.NodeType(), subtype: subtype}
		if _, exists := r.factories[k]; exists {
			return fmt.Errorf("%w: %s", ErrFactoryRegistered, k)
		}

		r.factories[k] = factory
	}

	r.logger.Debug("Registered executor factory", "node_type", factory.NodeType(), "subtypes", factory.Subtypes())

	return nil
}

// Executor returns the cached executor for (nodeType, subtype), creating it on first use.
func (r *Registry) Executor(ctx context.Context, nodeType models.NodeType, subtype string) (protocol.NodeExecutor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, factory, err := r.lookup(nodeType, subtype)
	if err != nil {
		return nil, err
	}

	if executor, ok := r.instances[k]; ok {
		return executor, nil
	}

	executor, err := factory.Create(ctx, subtype)
	if err != nil {
		return nil, fmt.Errorf("create executor %s: %w", k, err)
	}

	supported := executor.SupportedSubtypes()
	if !slices.Contains(supported, subtype) && !slices.Contains(supported, protocol.AnySubtype) {
		return nil, fmt.Errorf("%w: %s", ErrSubtypeMismatch, k)
	}

	r.instances[k] = executor
	r.logger.DebugContext(ctx, "Created executor", "executor", k.String())

	return executor, nil
}

// Schema returns the configuration schema for (nodeType, subtype).
func (r *Registry) Schema(nodeType models.NodeType, subtype string) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, factory, err := r.lookup(nodeType, subtype)
	if err != nil {
		return nil, err
	}

	return factory.Schema(subtype), nil
}

// Describe lists the registered node types and their subtypes.
func (r *Registry) Describe() map[models.NodeType][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	described := make(map[models.NodeType][]string)
	for k := range r.factories {
		described[k.nodeType] = append(described[k.nodeType], k.subtype)
	}

	for nodeType := range described {
		slices.Sort(described[nodeType])
	}

	return described
}

func (r *Registry) lookup(nodeType models.NodeType, subtype string) (key, protocol.ExecutorFactory, error) {
	k := key{nodeType: nodeType, subtype: subtype}
	if factory, ok := r.factories[k]; ok {
		return k, factory, nil
	}

	wildcard := key{nodeType: nodeType, subtype: protocol.AnySubtype}
	if factory, ok := r.factories[wildcard]; ok {
		return k, factory, nil
	}

	return k, nil, fmt.Errorf("%w: %s", ErrExecutorNotFound, k)
}
