package redis_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/loom/pkg/memorystore/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupStore(t *testing.T) (*redis.Store, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := redis.NewStore(ctx, logger, fmt.Sprintf("redis://%s/0", endpoint))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store, ctx
}

func TestStore(t *testing.T) {
	store, ctx := setupStore(t)

	for i := range 4 {
		require.NoError(t, store.Append(ctx, "chat", map[string]any{"n": i}, 2))
	}

	entries, err := store.Load(ctx, "chat", 10)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"n": float64(2)}, {"n": float64(3)}}, entries)

	_, found, err := store.Get(ctx, "users", "ada")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Put(ctx, "users", "ada", map[string]any{"plan": "pro"}))

	value, found, err := store.Get(ctx, "users", "ada")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "pro", value["plan"])
}
