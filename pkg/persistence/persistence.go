// Package persistence provides the storage abstraction for workflows, executions,
// human-in-the-loop records and the trigger index.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/loom/pkg/models"
)

type WorkflowRepository interface {
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	Workflows(ctx context.Context) ([]*models.Workflow, error)
}

type ExecutionRepository interface {
	// SaveExecution upserts the execution and its node executions. Saving over a
	// stored execution in a terminal status fails with ErrExecutionTerminal.
	SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error
	ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)

	SavePause(ctx context.Context, pause *models.WorkflowExecutionPause) error
	// ActivePause returns the active pause of nodeID in the execution, ErrPauseNotFound otherwise.
	ActivePause(ctx context.Context, executionID, nodeID string) (*models.WorkflowExecutionPause, error)
	PausesByExecution(ctx context.Context, executionID string) ([]*models.WorkflowExecutionPause, error)
	// TransitionPause moves a pause from one status to another only if it is still in
	// from. It reports whether this call performed the transition.
	TransitionPause(ctx context.Context, pauseID string, from, to models.PauseStatus, at time.Time) (bool, error)
}

type HILRepository interface {
	CreateInteraction(ctx context.Context, interaction *models.HILInteraction) error
	InteractionByID(ctx context.Context, id string) (*models.HILInteraction, error)
	// TransitionInteraction moves a pending interaction to a terminal status. It
	// reports whether this call won the transition.
	TransitionInteraction(ctx context.Context, id string, to models.InteractionStatus, responseData map[string]any, at time.Time) (bool, error)
	// MarkWarningSent flips warning_sent once. It reports whether this call flipped it.
	MarkWarningSent(ctx context.Context, id string) (bool, error)
	SetDeliveryID(ctx context.Context, id, deliveryID string) error
	PendingInteractions(ctx context.Context) ([]*models.HILInteraction, error)
	PendingInteractionsByExecution(ctx context.Context, executionID string) ([]*models.HILInteraction, error)
	// LatestPendingInteraction returns the most recently created pending interaction
	// for a channel and target, ErrInteractionNotFound otherwise.
	LatestPendingInteraction(ctx context.Context, channel models.ChannelType, target string) (*models.HILInteraction, error)

	SaveResponse(ctx context.Context, response *models.HILResponse) error
	ResponsesByInteraction(ctx context.Context, interactionID string) ([]*models.HILResponse, error)
}

type TriggerIndexRepository interface {
	// UpsertEntry inserts or replaces the entry keyed by (workflow_id, index_key).
	UpsertEntry(ctx context.Context, entry *models.TriggerIndexEntry) error
	// EntriesByKey returns the active entries of a subtype under index_key.
	EntriesByKey(ctx context.Context, subtype models.TriggerSubtype, indexKey string) ([]*models.TriggerIndexEntry, error)
	EntriesByWorkflow(ctx context.Context, workflowID string) ([]*models.TriggerIndexEntry, error)
	// ActiveKeys returns the distinct index keys of active entries of a subtype.
	ActiveKeys(ctx context.Context, subtype models.TriggerSubtype) ([]string, error)
	SetEntryStatus(ctx context.Context, workflowID, indexKey string, status models.DeploymentStatus) error
	SetWorkflowEntriesStatus(ctx context.Context, workflowID string, status models.DeploymentStatus) error
	DeleteWorkflowEntries(ctx context.Context, workflowID string) error
}

type Persistence interface {
	WorkflowRepository
	ExecutionRepository
	HILRepository
	TriggerIndexRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
