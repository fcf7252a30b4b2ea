// Package memory provides an in-process persistence implementation for development
// and tests. Every read and write copies records so callers never share state with
// the store.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/persistence"
)

type entryKey struct {
	workflowID string
	indexKey   string
}

// Persistence keeps every record in maps guarded by one mutex. Compare-and-swap
// operations are atomic under that mutex.
type Persistence struct {
	mu           sync.RWMutex
	workflows    map[string]*models.Workflow
	executions   map[string]*models.WorkflowExecution
	pauses       map[string]*models.WorkflowExecutionPause
	interactions map[string]*models.HILInteraction
	responses    []*models.HILResponse
	entries      map[entryKey]*models.TriggerIndexEntry
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows:    make(map[string]*models.Workflow),
		executions:   make(map[string]*models.WorkflowExecution),
		pauses:       make(map[string]*models.WorkflowExecutionPause),
		interactions: make(map[string]*models.HILInteraction),
		entries:      make(map[entryKey]*models.TriggerIndexEntry),
	}
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now
	p.workflows[workflow.ID] = cloneWorkflow(workflow)

	return nil
}

func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflow, ok := p.workflows[id]
	if !ok {
		return nil, persistence.NewWorkflowError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
	}

	return cloneWorkflow(workflow), nil
}

func (p *Persistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(p.workflows))
	for _, workflow := range p.workflows {
		workflows = append(workflows, cloneWorkflow(workflow))
	}

	sort.Slice(workflows, func(i, j int) bool { return workflows[i].ID < workflows[j].ID })

	return workflows, nil
}

func (p *Persistence) SaveExecution(_ context.Context, execution *models.WorkflowExecution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if stored, ok := p.executions[execution.ID]; ok && stored.Status.IsTerminal() {
		return persistence.NewExecutionError("SaveExecution", execution.ID, persistence.ErrExecutionTerminal)
	}

	execution.UpdatedAt = time.Now().UTC()
	p.executions[execution.ID] = execution.Clone()

	return nil
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, ok := p.executions[id]
	if !ok {
		return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	return execution.Clone(), nil
}

func (p *Persistence) ExecutionsByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	executions := make([]*models.WorkflowExecution, 0)

	for _, execution := range p.executions {
		if execution.WorkflowID == workflowID {
			executions = append(executions, execution.Clone())
		}
	}

	sort.Slice(executions, func(i, j int) bool { return executions[i].CreatedAt.Before(executions[j].CreatedAt) })

	return executions, nil
}

func (p *Persistence) SavePause(_ context.Context, pause *models.WorkflowExecutionPause) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := *pause
	clone.ResumeConditions = models.CloneMap(pause.ResumeConditions)
	p.pauses[pause.ID] = &clone

	return nil
}

func (p *Persistence) ActivePause(_ context.Context, executionID, nodeID string) (*models.WorkflowExecutionPause, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, pause := range p.pauses {
		if pause.ExecutionID == executionID && pause.PausedNodeID == nodeID && pause.Status == models.PauseActive {
			clone := *pause

			return &clone, nil
		}
	}

	return nil, persistence.NewExecutionError("ActivePause", executionID, persistence.ErrPauseNotFound)
}

func (p *Persistence) PausesByExecution(_ context.Context, executionID string) ([]*models.WorkflowExecutionPause, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pauses := make([]*models.WorkflowExecutionPause, 0)

	for _, pause := range p.pauses {
		if pause.ExecutionID == executionID {
			clone := *pause
			pauses = append(pauses, &clone)
		}
	}

	sort.Slice(pauses, func(i, j int) bool { return pauses[i].CreatedAt.Before(pauses[j].CreatedAt) })

	return pauses, nil
}

func (p *Persistence) TransitionPause(_ context.Context, pauseID string, from, to models.PauseStatus, at time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pause, ok := p.pauses[pauseID]
	if !ok {
		return false, persistence.NewExecutionError("TransitionPause", pauseID, persistence.ErrPauseNotFound)
	}

	if pause.Status != from {
		return false, nil
	}

	pause.Status = to
	pause.ResumedAt = &at

	return true, nil
}

func (p *Persistence) CreateInteraction(_ context.Context, interaction *models.HILInteraction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.interactions[interaction.ID]; exists {
		return persistence.NewInteractionError("CreateInteraction", interaction.ID, persistence.ErrInteractionExists)
	}

	p.interactions[interaction.ID] = interaction.Clone()

	return nil
}

func (p *Persistence) InteractionByID(_ context.Context, id string) (*models.HILInteraction, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	interaction, ok := p.interactions[id]
	if !ok {
		return nil, persistence.NewInteractionError("InteractionByID", id, persistence.ErrInteractionNotFound)
	}

	return interaction.Clone(), nil
}

func (p *Persistence) TransitionInteraction(_ context.Context, id string, to models.InteractionStatus, responseData map[string]any, at time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	interaction, ok := p.interactions[id]
	if !ok {
		return false, persistence.NewInteractionError("TransitionInteraction", id, persistence.ErrInteractionNotFound)
	}

	if interaction.Status != models.InteractionPending {
		return false, nil
	}

	interaction.Status = to
	interaction.ResponseData = models.CloneMap(responseData)
	interaction.ResolvedAt = &at

	return true, nil
}

func (p *Persistence) MarkWarningSent(_ context.Context, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	interaction, ok := p.interactions[id]
	if !ok {
		return false, persistence.NewInteractionError("MarkWarningSent", id, persistence.ErrInteractionNotFound)
	}

	if interaction.WarningSent || interaction.Status != models.InteractionPending {
		return false, nil
	}

	interaction.WarningSent = true

	return true, nil
}

func (p *Persistence) SetDeliveryID(_ context.Context, id, deliveryID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	interaction, ok := p.interactions[id]
	if !ok {
		return persistence.NewInteractionError("SetDeliveryID", id, persistence.ErrInteractionNotFound)
	}

	interaction.DeliveryID = deliveryID

	return nil
}

func (p *Persistence) PendingInteractions(_ context.Context) ([]*models.HILInteraction, error) {
	return p.filterInteractions(func(i *models.HILInteraction) bool {
		return i.Status == models.InteractionPending
	}), nil
}

func (p *Persistence) PendingInteractionsByExecution(_ context.Context, executionID string) ([]*models.HILInteraction, error) {
	return p.filterInteractions(func(i *models.HILInteraction) bool {
		return i.Status == models.InteractionPending && i.ExecutionID == executionID
	}), nil
}

func (p *Persistence) LatestPendingInteraction(_ context.Context, channel models.ChannelType, target string) (*models.HILInteraction, error) {
	matches := p.filterInteractions(func(i *models.HILInteraction) bool {
		return i.Status == models.InteractionPending && i.ChannelType == channel && i.Target == target
	})

	if len(matches) == 0 {
		return nil, persistence.NewInteractionError("LatestPendingInteraction", target, persistence.ErrInteractionNotFound)
	}

	return matches[len(matches)-1], nil
}

// filterInteractions returns matching interactions ordered by creation time.
func (p *Persistence) filterInteractions(match func(*models.HILInteraction) bool) []*models.HILInteraction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*models.HILInteraction, 0)

	for _, interaction := range p.interactions {
		if match(interaction) {
			result = append(result, interaction.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}

		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result
}

func (p *Persistence) SaveResponse(_ context.Context, response *models.HILResponse) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := *response
	clone.RawPayload = models.CloneMap(response.RawPayload)
	p.responses = append(p.responses, &clone)

	return nil
}

func (p *Persistence) ResponsesByInteraction(_ context.Context, interactionID string) ([]*models.HILResponse, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	responses := make([]*models.HILResponse, 0)

	for _, response := range p.responses {
		if response.MatchedInteractionID != nil && *response.MatchedInteractionID == interactionID {
			clone := *response
			responses = append(responses, &clone)
		}
	}

	return responses, nil
}

// Responses returns every stored response, matched or not.
func (p *Persistence) Responses() []*models.HILResponse {
	p.mu.RLock()
	defer p.mu.RUnlock()

	responses := make([]*models.HILResponse, 0, len(p.responses))
	for _, response := range p.responses {
		clone := *response
		responses = append(responses, &clone)
	}

	return responses
}

func (p *Persistence) UpsertEntry(_ context.Context, entry *models.TriggerIndexEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := entryKey{workflowID: entry.WorkflowID, indexKey: entry.IndexKey}
	if stored, ok := p.entries[k]; ok {
		entry.DeployedAt = stored.DeployedAt
	}

	p.entries[k] = cloneEntry(entry)

	return nil
}

func (p *Persistence) EntriesByKey(_ context.Context, subtype models.TriggerSubtype, indexKey string) ([]*models.TriggerIndexEntry, error) {
	return p.filterEntries(func(e *models.TriggerIndexEntry) bool {
		return e.TriggerSubtype == subtype && e.IndexKey == indexKey && e.DeploymentStatus == models.DeploymentActive
	}), nil
}

func (p *Persistence) EntriesByWorkflow(_ context.Context, workflowID string) ([]*models.TriggerIndexEntry, error) {
	return p.filterEntries(func(e *models.TriggerIndexEntry) bool {
		return e.WorkflowID == workflowID
	}), nil
}

func (p *Persistence) ActiveKeys(_ context.Context, subtype models.TriggerSubtype) ([]string, error) {
	keys := make([]string, 0)

	for _, entry := range p.filterEntries(func(e *models.TriggerIndexEntry) bool {
		return e.TriggerSubtype == subtype && e.DeploymentStatus == models.DeploymentActive
	}) {
		if !slices.Contains(keys, entry.IndexKey) {
			keys = append(keys, entry.IndexKey)
		}
	}

	slices.Sort(keys)

	return keys, nil
}

func (p *Persistence) SetEntryStatus(_ context.Context, workflowID, indexKey string, status models.DeploymentStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.entries[entryKey{workflowID: workflowID, indexKey: indexKey}]; ok {
		entry.DeploymentStatus = status
		entry.UpdatedAt = time.Now().UTC()
	}

	return nil
}

func (p *Persistence) SetWorkflowEntriesStatus(_ context.Context, workflowID string, status models.DeploymentStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k, entry := range p.entries {
		if k.workflowID == workflowID {
			entry.DeploymentStatus = status
			entry.UpdatedAt = time.Now().UTC()
		}
	}

	return nil
}

func (p *Persistence) DeleteWorkflowEntries(_ context.Context, workflowID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k := range p.entries {
		if k.workflowID == workflowID {
			delete(p.entries, k)
		}
	}

	return nil
}

func (p *Persistence) filterEntries(match func(*models.TriggerIndexEntry) bool) []*models.TriggerIndexEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*models.TriggerIndexEntry, 0)

	for _, entry := range p.entries {
		if match(entry) {
			result = append(result, cloneEntry(entry))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].WorkflowID != result[j].WorkflowID {
			return result[i].WorkflowID < result[j].WorkflowID
		}

		return result[i].IndexKey < result[j].IndexKey
	})

	return result
}

func cloneEntry(entry *models.TriggerIndexEntry) *models.TriggerIndexEntry {
	clone := *entry
	clone.TriggerConfig = models.CloneMap(entry.TriggerConfig)

	return &clone
}

func cloneWorkflow(workflow *models.Workflow) *models.Workflow {
	clone := *workflow
	clone.Nodes = make([]*models.Node, len(workflow.Nodes))

	for i, node := range workflow.Nodes {
		nodeCopy := *node
		nodeCopy.Configuration = models.CloneMap(node.Configuration)
		nodeCopy.AttachedNodes = slices.Clone(node.AttachedNodes)
		clone.Nodes[i] = &nodeCopy
	}

	clone.Connections = make([]*models.Connection, len(workflow.Connections))
	for i, conn := range workflow.Connections {
		connCopy := *conn
		clone.Connections[i] = &connCopy
	}

	clone.Triggers = slices.Clone(workflow.Triggers)
	clone.Settings.Variables = models.CloneMap(workflow.Settings.Variables)

	return &clone
}
