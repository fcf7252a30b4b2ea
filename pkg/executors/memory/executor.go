package memory

import (
	"context"
	"errors"
	"slices"

	"github.com/dukex/loom/pkg/executors"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/dukex/loom/pkg/template"
)

const defaultMaxEntries = 50

var ErrKeyRequired = errors.New("KEY_VALUE memory requires key")

type Executor struct {
	store protocol.MemoryStore
}

func NewExecutor(store protocol.MemoryStore) *Executor {
	return &Executor{store: store}
}

func (e *Executor) SupportedSubtypes() []string {
	return []string{SubtypeBuffer, SubtypeKeyValue}
}

func (e *Executor) Validate(node *models.Node) []error {
	if !slices.Contains(e.SupportedSubtypes(), node.Subtype) {
		return executors.Unsupported(node)
	}

	var cfg models.MemoryConfig

	errs := executors.Decode(node, &cfg)
	if len(errs) == 0 && node.Subtype == SubtypeKeyValue && cfg.Key == "" {
		errs = append(errs, ErrKeyRequired)
	}

	return errs
}

func (e *Executor) Execute(ctx context.Context, execCtx protocol.NodeExecutionContext) protocol.NodeExecutionResult {
	if e.store == nil {
		return protocol.Failure(protocol.NotConfigured("memory store", "configure redis_url or run with the in-process memory store"))
	}

	var cfg models.MemoryConfig
	if err := executors.DecodeOrFail(execCtx.Node, &cfg); err != nil {
		return protocol.Failure(err)
	}

	key, err := template.RenderStringWithContext(cfg.Key, execCtx)
	if err != nil {
		return protocol.Failure(executors.TemplateFailure("key", err))
	}

	cfg.Key = key
	handle := e.handle(execCtx.Node.Subtype, cfg)

	if cfg.Operation == OperationWrite {
		if err := handle.Save(ctx, models.CloneMap(execCtx.Input)); err != nil {
			return protocol.Failure(protocol.FromError(err))
		}

		return protocol.Success(executors.Merge(execCtx.Input, map[string]any{"namespace": cfg.Namespace}), "memory written")
	}

	entries, err := handle.Load(ctx)
	if err != nil {
		return protocol.Failure(protocol.FromError(err))
	}

	output := map[string]any{"namespace": cfg.Namespace, "entries": entries, "count": len(entries)}
	if execCtx.Node.Subtype == SubtypeKeyValue {
		output["found"] = len(entries) > 0
		if len(entries) > 0 {
			output["value"] = entries[0]
		}
	}

	return protocol.Success(output, "memory read")
}

// AttachMemory exposes the node as a memory handle for an agent.
func (e *Executor) AttachMemory(node *models.Node) (protocol.MemoryHandle, error) {
	if e.store == nil {
		return nil, protocol.NotConfigured("memory store", "configure redis_url or run with the in-process memory store")
	}

	var cfg models.MemoryConfig
	if err := executors.DecodeOrFail(node, &cfg); err != nil {
		return nil, err
	}

	return e.handle(node.Subtype, cfg), nil
}

func (e *Executor) handle(subtype string, cfg models.MemoryConfig) *Handle {
	maxEntries := cfg.MaxEntries
	if maxEntries == 0 {
		maxEntries = defaultMaxEntries
	}

	return &Handle{store: e.store, subtype: subtype, namespace: cfg.Namespace, key: cfg.Key, maxEntries: maxEntries}
}

// Handle reads and writes one namespace of the store. KEY_VALUE handles work on a
// single key; BUFFER handles append to a capped list.
type Handle struct {
	store      protocol.MemoryStore
	subtype    string
	namespace  string
	key        string
	maxEntries int
}

func (h *Handle) Namespace() string {
	return h.namespace
}

func (h *Handle) Load(ctx context.Context) ([]map[string]any, error) {
	if h.subtype == SubtypeKeyValue {
		value, found, err := h.store.Get(ctx, h.namespace, h.key)
		if err != nil || !found {
			return []map[string]any{}, err
		}

		return []map[string]any{value}, nil
	}

	return h.store.Load(ctx, h.namespace, h.maxEntries)
}

func (h *Handle) Save(ctx context.Context, entry map[string]any) error {
	if h.subtype == SubtypeKeyValue {
		return h.store.Put(ctx, h.namespace, h.key, entry)
	}

	return h.store.Append(ctx, h.namespace, entry, h.maxEntries)
}
