package main

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/loom/pkg/channels/gochannel"
	"github.com/dukex/loom/pkg/eventbus"
	"github.com/dukex/loom/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

var _ io.Writer = (*syncBuffer)(nil)

func TestWatchPrintsSelectedEvents(t *testing.T) {
	t.Parallel()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	out := &syncBuffer{}
	require.NoError(t, watch(ctx, bus, out, []string{"execution.cancelled"}))

	require.NoError(t, bus.Publish(ctx, "exec-1", events.ExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent, "wf-1", "exec-1"),
	}))
	require.NoError(t, bus.Publish(ctx, "exec-1", events.ExecutionCancelled{
		BaseEvent: events.NewBaseEvent(events.ExecutionCancelledEvent, "wf-1", "exec-1"),
		Reason:    "operator",
	}))

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("operator"))
	}, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, out.String(), `"type":"execution.cancelled"`)
	assert.NotContains(t, out.String(), "execution.started")
}
