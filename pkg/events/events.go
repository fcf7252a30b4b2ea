// Package events defines the lifecycle events published by the execution engine,
// the HIL manager and the trigger index.
package events

import (
	"time"

	"github.com/dukex/loom/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every loom event.
const Topic = "loom.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	// Node events.
	NodeStartedEvent   EventType = "node.started"
	NodeCompletedEvent EventType = "node.completed"
	NodeFailedEvent    EventType = "node.failed"
	NodeRetryingEvent  EventType = "node.retrying"

	// Human-in-the-loop events.
	InteractionRequestedEvent EventType = "hil.interaction.requested"
	InteractionResolvedEvent  EventType = "hil.interaction.resolved"
	OutboundMessageEvent      EventType = "hil.message.outbound"

	// Trigger events.
	TriggerMatchedEvent EventType = "trigger.matched"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Metadata:    make(map[string]any),
	}
}

type ExecutionStarted struct {
	BaseEvent

	TriggerNodeID  string         `json:"trigger_node_id"`
	TriggerPayload map[string]any `json:"trigger_payload,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionPaused struct {
	BaseEvent

	NodeID        string `json:"node_id"`
	InteractionID string `json:"interaction_id"`
	Reason        string `json:"reason,omitempty"`
}

func (e ExecutionPaused) GetType() EventType {
	return ExecutionPausedEvent
}

type ExecutionResumed struct {
	BaseEvent

	NodeID string `json:"node_id"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	Status   models.ExecutionStatus `json:"status"`
	Duration time.Duration          `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	NodeID   string        `json:"node_id,omitempty"`
	Code     string        `json:"code"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type NodeStarted struct {
	BaseEvent

	NodeID   string          `json:"node_id"`
	NodeType models.NodeType `json:"node_type"`
	Subtype  string          `json:"subtype"`
	Attempt  int             `json:"attempt"`
}

func (e NodeStarted) GetType() EventType {
	return NodeStartedEvent
}

type NodeCompleted struct {
	BaseEvent

	NodeID        string         `json:"node_id"`
	OutputData    map[string]any `json:"output_data,omitempty"`
	ActiveOutputs []string       `json:"active_outputs,omitempty"`
	Duration      time.Duration  `json:"duration"`
}

func (e NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type NodeFailed struct {
	BaseEvent

	NodeID    string        `json:"node_id"`
	Code      string        `json:"code"`
	Error     string        `json:"error"`
	Retryable bool          `json:"retryable"`
	Duration  time.Duration `json:"duration"`
}

func (e NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

type NodeRetrying struct {
	BaseEvent

	NodeID        string    `json:"node_id"`
	Attempt       int       `json:"attempt"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	Code          string    `json:"code"`
}

func (e NodeRetrying) GetType() EventType {
	return NodeRetryingEvent
}

type InteractionRequested struct {
	BaseEvent

	InteractionID string             `json:"interaction_id"`
	NodeID        string             `json:"node_id"`
	Channel       models.ChannelType `json:"channel"`
	Target        string             `json:"target"`
	TimeoutAt     time.Time          `json:"timeout_at"`
}

func (e InteractionRequested) GetType() EventType {
	return InteractionRequestedEvent
}

type InteractionResolved struct {
	BaseEvent

	InteractionID string                   `json:"interaction_id"`
	NodeID        string                   `json:"node_id"`
	Status        models.InteractionStatus `json:"status"`
}

func (e InteractionResolved) GetType() EventType {
	return InteractionResolvedEvent
}

// OutboundMessage is a message waiting to be delivered to a human on a channel.
type OutboundMessage struct {
	BaseEvent

	DeliveryID string             `json:"delivery_id"`
	Channel    models.ChannelType `json:"channel"`
	Target     string             `json:"target"`
	Message    string             `json:"message"`
}

func (e OutboundMessage) GetType() EventType {
	return OutboundMessageEvent
}

type TriggerMatched struct {
	BaseEvent

	TriggerNodeID string                `json:"trigger_node_id"`
	Subtype       models.TriggerSubtype `json:"trigger_subtype"`
	IndexKey      string                `json:"index_key"`
}

func (e TriggerMatched) GetType() EventType {
	return TriggerMatchedEvent
}

// New returns an empty event value for eventType, nil when the type is unknown.
func New(eventType EventType) any {
	switch eventType {
	case ExecutionStartedEvent:
		return &ExecutionStarted{}
	case ExecutionPausedEvent:
		return &ExecutionPaused{}
	case ExecutionResumedEvent:
		return &ExecutionResumed{}
	case ExecutionCompletedEvent:
		return &ExecutionCompleted{}
	case ExecutionFailedEvent:
		return &ExecutionFailed{}
	case ExecutionCancelledEvent:
		return &ExecutionCancelled{}
	case NodeStartedEvent:
		return &NodeStarted{}
	case NodeCompletedEvent:
		return &NodeCompleted{}
	case NodeFailedEvent:
		return &NodeFailed{}
	case NodeRetryingEvent:
		return &NodeRetrying{}
	case InteractionRequestedEvent:
		return &InteractionRequested{}
	case InteractionResolvedEvent:
		return &InteractionResolved{}
	case OutboundMessageEvent:
		return &OutboundMessage{}
	case TriggerMatchedEvent:
		return &TriggerMatched{}
	default:
		return nil
	}
}
