// Package triggerindex maps incoming events to the deployed workflows they start.
//
// Deploying a workflow registers one entry per trigger node under a coarse index
// key. An event is matched in two phases: a lookup of the active entries under
// its (subtype, index key), then the exact matcher of the subtype against each
// entry's full trigger configuration.
package triggerindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/loom/pkg/eventbus"
	"github.com/dukex/loom/pkg/events"
	triggerexec "github.com/dukex/loom/pkg/executors/trigger"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/otelhelper"
	"github.com/dukex/loom/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Starter starts an execution of a workflow from one of its trigger nodes.
type Starter interface {
	StartExecution(ctx context.Context, workflowID, triggerNodeID string, payload map[string]any) (string, error)
}

// Validator checks a workflow graph before its triggers are deployed.
type Validator interface {
	Validate(ctx context.Context, workflow *models.Workflow) error
}

// Retention decides what undeploying does with index entries.
type Retention string

const (
	// RetentionSoft marks entries inactive and keeps them for audit.
	RetentionSoft Retention = "soft"
	// RetentionHard deletes entries.
	RetentionHard Retention = "hard"
)

type Option func(*Index)

func WithRetention(retention Retention) Option {
	return func(i *Index) {
		i.retention = retention
	}
}

func WithValidator(validator Validator) Option {
	return func(i *Index) {
		i.validator = validator
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(i *Index) {
		i.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(i *Index) {
		i.tracer = tracer
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Index) {
		i.now = now
	}
}

// Match is an entry accepted by the exact matcher.
type Match struct {
	WorkflowID    string `json:"workflow_id"`
	TriggerNodeID string `json:"trigger_node_id"`
	IndexKey      string `json:"index_key"`
}

// Dispatched is a match together with the execution it started.
type Dispatched struct {
	Match

	ExecutionID string `json:"execution_id"`
}

type Index struct {
	logger    *slog.Logger
	store     persistence.TriggerIndexRepository
	starter   Starter
	validator Validator
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	retention Retention
	now       func() time.Time
}

func New(logger *slog.Logger, store persistence.TriggerIndexRepository, starter Starter, opts ...Option) *Index {
	i := &Index{
		logger:    logger.With("module", "triggerindex"),
		store:     store,
		starter:   starter,
		tracer:    otelhelper.NoopTracer(),
		retention: RetentionSoft,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Deploy registers one trigger node of a workflow as an active entry. Deploying
// the same trigger again replaces its entry.
func (i *Index) Deploy(ctx context.Context, workflowID string, trigger *models.Node) (*models.TriggerIndexEntry, error) {
	if trigger == nil || trigger.Type != models.NodeTypeTrigger {
		return nil, indexError("Deploy", workflowID, ErrNotTrigger)
	}

	entry, err := i.entryFor(workflowID, trigger)
	if err != nil {
		return nil, indexError("Deploy", workflowID, err)
	}

	err = i.store.UpsertEntry(ctx, entry)
	if err != nil {
		return nil, indexError("Deploy", workflowID, err)
	}

	i.logger.InfoContext(ctx, "Trigger deployed",
		"workflow_id", workflowID,
		"trigger_node_id", trigger.ID,
		"trigger_subtype", entry.TriggerSubtype,
		"index_key", entry.IndexKey,
	)

	return entry, nil
}

// DeployWorkflow validates a workflow and deploys every trigger node it has.
// Entries left over from a previous version whose key is gone are retired
// according to the retention policy.
func (i *Index) DeployWorkflow(ctx context.Context, workflow *models.Workflow) ([]*models.TriggerIndexEntry, error) {
	if i.validator != nil {
		err := i.validator.Validate(ctx, workflow)
		if err != nil {
			return nil, indexError("DeployWorkflow", workflow.ID, err)
		}
	}

	triggers := workflow.TriggerNodes()
	if len(triggers) == 0 {
		return nil, indexError("DeployWorkflow", workflow.ID, ErrNoTriggers)
	}

	entries := make([]*models.TriggerIndexEntry, 0, len(triggers))
	keys := make(map[string]string, len(triggers))

	for _, trigger := range triggers {
		entry, err := i.entryFor(workflow.ID, trigger)
		if err != nil {
			return nil, indexError("DeployWorkflow", workflow.ID, fmt.Errorf("trigger %s: %w", trigger.ID, err))
		}

		if other, ok := keys[entry.IndexKey]; ok {
			return nil, indexError("DeployWorkflow", workflow.ID, fmt.Errorf("%w: %s and %s on %q", ErrDuplicateKey, other, trigger.ID, entry.IndexKey))
		}

		keys[entry.IndexKey] = trigger.ID
		entries = append(entries, entry)
	}

	previous, err := i.store.EntriesByWorkflow(ctx, workflow.ID)
	if err != nil {
		return nil, indexError("DeployWorkflow", workflow.ID, err)
	}

	for _, entry := range entries {
		err := i.store.UpsertEntry(ctx, entry)
		if err != nil {
			return nil, indexError("DeployWorkflow", workflow.ID, err)
		}
	}

	for _, stale := range previous {
		if _, ok := keys[stale.IndexKey]; ok || stale.DeploymentStatus != models.DeploymentActive {
			continue
		}

		err := i.store.SetEntryStatus(ctx, workflow.ID, stale.IndexKey, models.DeploymentInactive)
		if err != nil {
			return nil, indexError("DeployWorkflow", workflow.ID, err)
		}
	}

	i.logger.InfoContext(ctx, "Workflow deployed", "workflow_id", workflow.ID, "version", workflow.Version, "triggers", len(entries))

	return entries, nil
}

// Undeploy stops a workflow from being triggered. With soft retention its entries
// are kept as inactive, with hard retention they are deleted.
func (i *Index) Undeploy(ctx context.Context, workflowID string) error {
	var err error

	if i.retention == RetentionHard {
		err = i.store.DeleteWorkflowEntries(ctx, workflowID)
	} else {
		err = i.store.SetWorkflowEntriesStatus(ctx, workflowID, models.DeploymentInactive)
	}

	if err != nil {
		return indexError("Undeploy", workflowID, err)
	}

	i.logger.InfoContext(ctx, "Workflow undeployed", "workflow_id", workflowID, "retention", i.retention)

	return nil
}

// Entries returns every entry of a workflow, active or not.
func (i *Index) Entries(ctx context.Context, workflowID string) ([]*models.TriggerIndexEntry, error) {
	entries, err := i.store.EntriesByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, indexError("Entries", workflowID, err)
	}

	return entries, nil
}

// Match returns the deployed triggers an event starts. Entries whose stored
// configuration no longer decodes are skipped and logged.
func (i *Index) Match(ctx context.Context, event models.TriggerEvent) ([]Match, error) {
	key, err := EventKey(event)
	if err != nil {
		return nil, indexError("Match", "", err)
	}

	ctx, span := otelhelper.StartSpan(ctx, i.tracer, "triggerindex.match",
		attribute.String(otelhelper.TriggerSubtypeKey, string(event.Subtype)),
		attribute.String(otelhelper.IndexKeyKey, key),
	)
	defer span.End()

	candidates, err := i.store.EntriesByKey(ctx, event.Subtype, key)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, indexError("Match", "", err)
	}

	matched := make([]Match, 0, len(candidates))

	for _, entry := range candidates {
		ok, err := matches(entry, event)
		if err != nil {
			i.logger.WarnContext(ctx, "Skipping trigger entry that cannot be matched",
				"workflow_id", entry.WorkflowID,
				"trigger_node_id", entry.TriggerNodeID,
				"error", err,
			)

			continue
		}

		if ok {
			matched = append(matched, Match{WorkflowID: entry.WorkflowID, TriggerNodeID: entry.TriggerNodeID, IndexKey: entry.IndexKey})
		}
	}

	i.logger.DebugContext(ctx, "Matched trigger event",
		"trigger_subtype", event.Subtype,
		"index_key", key,
		"candidates", len(candidates),
		"matches", len(matched),
	)

	return matched, nil
}

// Dispatch matches an event and starts one independent execution per match. It
// returns once the executions are started, not when they finish. A failure to
// start one execution does not prevent the others.
func (i *Index) Dispatch(ctx context.Context, event models.TriggerEvent) ([]Dispatched, error) {
	if event.Time.IsZero() {
		event.Time = i.now()
	}

	matched, err := i.Match(ctx, event)
	if err != nil {
		return nil, err
	}

	dispatched := make([]Dispatched, 0, len(matched))
	problems := make([]error, 0)

	for _, match := range matched {
		executionID, err := i.starter.StartExecution(ctx, match.WorkflowID, match.TriggerNodeID, models.CloneMap(event.Payload))
		if err != nil {
			i.logger.ErrorContext(ctx, "Failed to start triggered execution", "workflow_id", match.WorkflowID, "error", err)
			problems = append(problems, indexError("Dispatch", match.WorkflowID, err))

			continue
		}

		dispatched = append(dispatched, Dispatched{Match: match, ExecutionID: executionID})

		i.publish(ctx, events.TriggerMatched{
			BaseEvent:     events.NewBaseEvent(events.TriggerMatchedEvent, match.WorkflowID, executionID),
			TriggerNodeID: match.TriggerNodeID,
			Subtype:       event.Subtype,
			IndexKey:      match.IndexKey,
		}, executionID)

		i.logger.InfoContext(ctx, "Trigger fired",
			"workflow_id", match.WorkflowID,
			"trigger_node_id", match.TriggerNodeID,
			"execution_id", executionID,
		)
	}

	return dispatched, errors.Join(problems...)
}

func (i *Index) entryFor(workflowID string, trigger *models.Node) (*models.TriggerIndexEntry, error) {
	subtype := models.TriggerSubtype(trigger.Subtype)

	if errs := (&triggerexec.Executor{}).Validate(trigger); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	key, err := IndexKey(workflowID, subtype, trigger.Configuration)
	if err != nil {
		return nil, err
	}

	if key == "" {
		return nil, fmt.Errorf("%w: trigger %s has no %s key", ErrMissingKey, trigger.ID, subtype)
	}

	now := i.now().UTC()

	return &models.TriggerIndexEntry{
		WorkflowID:       workflowID,
		TriggerNodeID:    trigger.ID,
		TriggerSubtype:   subtype,
		IndexKey:         key,
		TriggerConfig:    models.CloneMap(trigger.Configuration),
		DeploymentStatus: models.DeploymentActive,
		DeployedAt:       now,
		UpdatedAt:        now,
	}, nil
}

func (i *Index) publish(ctx context.Context, event eventbus.Event, executionID string) {
	if i.publisher == nil {
		return
	}

	err := i.publisher.Publish(context.WithoutCancel(ctx), executionID, event)
	if err != nil {
		i.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
