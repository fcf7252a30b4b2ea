package models

import (
	"slices"
	"time"
)

type InteractionType string

const (
	InteractionTypeApproval  InteractionType = "approval"
	InteractionTypeInput     InteractionType = "input"
	InteractionTypeSelection InteractionType = "selection"
	InteractionTypeReview    InteractionType = "review"
)

type ChannelType string

const (
	ChannelSlack   ChannelType = "slack"
	ChannelEmail   ChannelType = "email"
	ChannelWebhook ChannelType = "webhook"
	ChannelInApp   ChannelType = "in_app"
)

var ChannelTypes = []ChannelType{ChannelSlack, ChannelEmail, ChannelWebhook, ChannelInApp}

func (c ChannelType) Valid() bool {
	return slices.Contains(ChannelTypes, c)
}

// SupportsCorrelation reports whether inbound responses on the channel carry the
// interaction id explicitly.
func (c ChannelType) SupportsCorrelation() bool {
	return c == ChannelWebhook || c == ChannelInApp
}

// InteractionStatus is monotonic: pending moves to exactly one terminal status.
type InteractionStatus string

const (
	InteractionPending   InteractionStatus = "pending"
	InteractionResponded InteractionStatus = "responded"
	InteractionTimeout   InteractionStatus = "timeout"
	InteractionCancelled InteractionStatus = "cancelled"
)

type TimeoutAction string

const (
	TimeoutActionFail            TimeoutAction = "fail"
	TimeoutActionContinue        TimeoutAction = "continue"
	TimeoutActionDefaultResponse TimeoutAction = "default_response"
)

// InteractionSpec is what a HUMAN_IN_THE_LOOP node asks for when it pauses.
type InteractionSpec struct {
	InteractionType InteractionType `json:"interaction_type"`
	ChannelType     ChannelType     `json:"channel_type"`
	Target          string          `json:"target"`
	Message         string          `json:"message"`
	Options         []string        `json:"options,omitempty"`
	TimeoutSeconds  int             `json:"timeout_seconds"`
	TimeoutAction   TimeoutAction   `json:"timeout_action"`
	DefaultResponse map[string]any  `json:"default_response,omitempty"`
	RequestData     map[string]any  `json:"request_data,omitempty"`
}

// HILInteraction is a request for human input issued by a paused node.
type HILInteraction struct {
	ID               string            `json:"id"`
	WorkflowID       string            `json:"workflow_id"`
	ExecutionID      string            `json:"execution_id"`
	NodeID           string            `json:"node_id"`
	InteractionType  InteractionType   `json:"interaction_type"`
	ChannelType      ChannelType       `json:"channel_type"`
	Target           string            `json:"target"`
	Status           InteractionStatus `json:"status"`
	RequestData      map[string]any    `json:"request_data,omitempty"`
	ResponseData     map[string]any    `json:"response_data,omitempty"`
	TimeoutAt        time.Time         `json:"timeout_at"`
	WarningSent      bool              `json:"warning_sent"`
	TimeoutAction    TimeoutAction     `json:"timeout_action"`
	DefaultResponse  map[string]any    `json:"default_response,omitempty"`
	CorrelationToken string            `json:"correlation_token"`
	DeliveryID       string            `json:"delivery_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
}

// Clone returns a deep copy of the interaction.
func (h *HILInteraction) Clone() *HILInteraction {
	if h == nil {
		return nil
	}

	clone := *h
	clone.RequestData = CloneMap(h.RequestData)
	clone.ResponseData = CloneMap(h.ResponseData)
	clone.DefaultResponse = CloneMap(h.DefaultResponse)
	clone.ResolvedAt = cloneTime(h.ResolvedAt)

	return &clone
}

type ResponseClassification string

const (
	ClassificationRelevant  ResponseClassification = "relevant"
	ClassificationFiltered  ResponseClassification = "filtered"
	ClassificationUncertain ResponseClassification = "uncertain"
)

// MatchMethod records how an inbound response was tied to an interaction.
type MatchMethod string

const (
	MatchNone        MatchMethod = "none"
	MatchCorrelation MatchMethod = "correlation"
	MatchToken       MatchMethod = "token"
	MatchHeuristic   MatchMethod = "heuristic"
)

// HILResponse is an inbound message. It is stored for every payload, relevant or not.
type HILResponse struct {
	ID                   string                 `json:"id"`
	Channel              ChannelType            `json:"channel"`
	Sender               string                 `json:"sender"`
	Text                 string                 `json:"text"`
	RawPayload           map[string]any         `json:"raw_payload,omitempty"`
	MatchedInteractionID *string                `json:"matched_interaction_id,omitempty"`
	MatchMethod          MatchMethod            `json:"match_method"`
	AIRelevanceScore     float64                `json:"ai_relevance_score"`
	AIClassification     ResponseClassification `json:"ai_classification"`
	Reasoning            string                 `json:"reasoning,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
}

type PauseStatus string

const (
	PauseActive    PauseStatus = "active"
	PauseResumed   PauseStatus = "resumed"
	PauseCancelled PauseStatus = "cancelled"
)

// WorkflowExecutionPause marks an execution stopped at a node until it is resumed.
type WorkflowExecutionPause struct {
	ID               string         `json:"id"`
	ExecutionID      string         `json:"execution_id"`
	PausedNodeID     string         `json:"paused_node_id"`
	PauseReason      string         `json:"pause_reason"`
	ResumeConditions map[string]any `json:"resume_conditions,omitempty"`
	Status           PauseStatus    `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	ResumedAt        *time.Time     `json:"resumed_at,omitempty"`
}
