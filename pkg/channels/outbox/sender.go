// Package outbox delivers outbound HIL messages by publishing them on the event
// bus. Channel adapters (Slack, email, webhooks) consume OutboundMessage events
// and perform the actual delivery.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/loom/pkg/eventbus"
	"github.com/dukex/loom/pkg/events"
	"github.com/dukex/loom/pkg/models"
)

var ErrEmptyTarget = errors.New("outbound message has no target")

type Sender struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewSender(logger *slog.Logger, publisher eventbus.EventPublisher) *Sender {
	return &Sender{
		publisher: publisher,
		logger:    logger.With("module", "outbox"),
	}
}

// Send publishes the message keyed by its target, so messages to one target keep
// their order on partitioned transports. The delivery id is the event id.
func (s *Sender) Send(ctx context.Context, channel models.ChannelType, target, message string) (string, error) {
	if !channel.Valid() {
		return "", fmt.Errorf("unknown channel %q", channel)
	}

	if target == "" {
		return "", ErrEmptyTarget
	}

	event := events.OutboundMessage{
		BaseEvent: events.NewBaseEvent(events.OutboundMessageEvent, "", ""),
		Channel:   channel,
		Target:    target,
		Message:   message,
	}
	event.DeliveryID = event.ID

	err := s.publisher.Publish(ctx, string(channel)+":"+target, event)
	if err != nil {
		return "", fmt.Errorf("publish outbound message: %w", err)
	}

	s.logger.DebugContext(ctx, "Outbound message queued", "delivery_id", event.DeliveryID, "channel", channel)

	return event.DeliveryID, nil
}
