package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/loom/pkg/channels/gochannel"
	"github.com/dukex/loom/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)
	received := make(chan *events.NodeCompleted, 1)

	require.NoError(t, bus.Handle(events.NodeCompletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.NodeCompleted)

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "exec-1", events.NodeCompleted{
		BaseEvent:     events.NewBaseEvent(events.NodeCompletedEvent, "wf-1", "exec-1"),
		NodeID:        "node-a",
		ActiveOutputs: []string{"true"},
	})
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, "node-a", event.NodeID)
		assert.Equal(t, "exec-1", event.ExecutionID)
		assert.Equal(t, []string{"true"}, event.ActiveOutputs)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_HandleAll(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)
	received := make(chan events.EventType, 2)

	require.NoError(t, bus.Handle(HandleAll, func(_ context.Context, event any) error {
		received <- event.(Event).GetType()

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "exec-1", events.ExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent, "wf-1", "exec-1"),
	}))
	require.NoError(t, bus.Publish(ctx, "exec-1", events.ExecutionCancelled{
		BaseEvent: events.NewBaseEvent(events.ExecutionCancelledEvent, "wf-1", "exec-1"),
	}))

	got := make([]events.EventType, 0, 2)

	for range 2 {
		select {
		case eventType := <-received:
			got = append(got, eventType)
		case <-time.After(2 * time.Second):
			t.Fatal("event was not delivered")
		}
	}

	assert.ElementsMatch(t, []events.EventType{events.ExecutionStartedEvent, events.ExecutionCancelledEvent}, got)
}
