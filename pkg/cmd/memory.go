package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/loom/pkg/memorystore"
	"github.com/dukex/loom/pkg/memorystore/redis"
	"github.com/dukex/loom/pkg/protocol"
)

// NewMemoryStore returns the store behind MEMORY nodes: Redis when redisURL is
// set, process memory otherwise. The returned func releases it.
func NewMemoryStore(ctx context.Context, logger *slog.Logger, redisURL string) (protocol.MemoryStore, func() error, error) {
	if redisURL == "" {
		return memorystore.New(), func() error { return nil }, nil
	}

	store, err := redis.NewStore(ctx, logger, redisURL)
	if err != nil {
		return nil, nil, err
	}

	return store, store.Close, nil
}
