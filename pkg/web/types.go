// Package web exposes the control, human-in-the-loop and trigger ingestion
// surfaces over HTTP.
package web

import (
	"time"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/triggerindex"
)

// StartExecutionRequest starts a workflow from one of its trigger nodes. The
// trigger may be omitted when the workflow has exactly one.
type StartExecutionRequest struct {
	WorkflowID    string         `json:"workflow_id"     validate:"required"`
	TriggerNodeID string         `json:"trigger_node_id"`
	Payload       map[string]any `json:"payload"`
}

type CancelExecutionRequest struct {
	Reason string `json:"reason" validate:"max=1024"`
}

// ResumeExecutionRequest resumes a paused node. NodeID may be omitted when only
// one node is paused.
type ResumeExecutionRequest struct {
	NodeID string         `json:"node_id"`
	Data   map[string]any `json:"data"`
}

// HILResponseRequest is a reply to a human interaction received on a channel.
// When RawPayload is absent the whole request body is stored as the raw payload.
type HILResponseRequest struct {
	Sender        string         `json:"sender"         validate:"required"`
	Text          string         `json:"text"`
	CorrelationID string         `json:"correlation_id"`
	RawPayload    map[string]any `json:"raw_payload"`
}

// TriggerEventRequest is an external event posted for a trigger subtype.
type TriggerEventRequest struct {
	IndexKey string         `json:"index_key"`
	Payload  map[string]any `json:"payload"`
	Time     *time.Time     `json:"time"`
}

type DispatchResponse struct {
	Executions []DispatchedExecution `json:"executions"`
	Errors     []string              `json:"errors,omitempty"`
}

type DispatchedExecution struct {
	ExecutionID   string `json:"execution_id"`
	WorkflowID    string `json:"workflow_id"`
	TriggerNodeID string `json:"trigger_node_id"`
}

type DeploymentResponse struct {
	WorkflowID string                      `json:"workflow_id"`
	Version    int                         `json:"version"`
	Entries    []*models.TriggerIndexEntry `json:"entries"`
}

func newDispatchResponse(dispatched []triggerindex.Dispatched, err error) DispatchResponse {
	response := DispatchResponse{Executions: make([]DispatchedExecution, 0, len(dispatched))}

	for _, d := range dispatched {
		response.Executions = append(response.Executions, DispatchedExecution{
			ExecutionID:   d.ExecutionID,
			WorkflowID:    d.WorkflowID,
			TriggerNodeID: d.TriggerNodeID,
		})
	}

	if err != nil {
		response.Errors = append(response.Errors, err.Error())
	}

	return response
}
