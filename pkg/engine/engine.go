// Package engine validates workflow graphs and drives their executions: ordering,
// dispatch to node executors, input routing, retries, pauses and resumes.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/loom/pkg/eventbus"
	"github.com/dukex/loom/pkg/events"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/otelhelper"
	"github.com/dukex/loom/pkg/persistence"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/dukex/loom/pkg/registry"
	"github.com/dukex/loom/pkg/router"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Store is the persistence the engine needs.
type Store interface {
	persistence.WorkflowRepository
	persistence.ExecutionRepository
}

// Interactions opens and closes the human-in-the-loop requests of paused nodes.
type Interactions interface {
	StartInteraction(ctx context.Context, execution *models.WorkflowExecution, nodeID string, spec models.InteractionSpec) (*models.HILInteraction, error)
	CancelForExecution(ctx context.Context, executionID string) error
}

type Config struct {
	// MaxParallelNodes bounds how many ready nodes of one execution run at once.
	MaxParallelNodes int
	// NodeTimeout applies to nodes that set no timeout_seconds. Zero disables it.
	NodeTimeout time.Duration
	// ExecutionTimeout moves executions running longer than this to TIMEOUT. Zero disables it.
	ExecutionTimeout time.Duration
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxParallelNodes: 4,
		NodeTimeout:      5 * time.Minute,
		RetryBaseDelay:   time.Second,
		RetryMaxDelay:    time.Minute,
	}
}

type Option func(*Engine)

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func WithRouter(r *router.Router) Option {
	return func(e *Engine) {
		e.router = r
	}
}

func WithInteractions(interactions Interactions) Option {
	return func(e *Engine) {
		e.interactions = interactions
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// StartRequest asks for a new execution of a workflow. TriggerNodeID may be empty
// when the workflow has a single trigger.
type StartRequest struct {
	WorkflowID    string         `json:"workflow_id" validate:"required"`
	TriggerNodeID string         `json:"trigger_node_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

type Engine struct {
	logger       *slog.Logger
	store        Store
	registry     *registry.Registry
	validator    *Validator
	router       *router.Router
	interactions Interactions
	publisher    eventbus.EventPublisher
	tracer       trace.Tracer
	config       Config
	now          func() time.Time

	locks *keyedMutex

	mu      sync.Mutex
	runs    map[string]map[uint64]context.CancelFunc
	nextRun uint64
	wg      sync.WaitGroup
}

func New(logger *slog.Logger, store Store, reg *registry.Registry, config Config, opts ...Option) *Engine {
	if config.MaxParallelNodes <= 0 {
		config.MaxParallelNodes = 1
	}

	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = DefaultConfig().RetryBaseDelay
	}

	if config.RetryMaxDelay < config.RetryBaseDelay {
		config.RetryMaxDelay = config.RetryBaseDelay
	}

	e := &Engine{
		logger:    logger.With("module", "engine"),
		store:     store,
		registry:  reg,
		validator: NewValidator(reg),
		router:    router.New(time.Second),
		tracer:    otelhelper.NoopTracer(),
		config:    config,
		now:       time.Now,
		locks:     newKeyedMutex(),
		runs:      make(map[string]map[uint64]context.CancelFunc),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// SetInteractions wires the HIL manager. It must be called before the first execution
// pauses.
func (e *Engine) SetInteractions(interactions Interactions) {
	e.interactions = interactions
}

// Validate checks a workflow without running it.
func (e *Engine) Validate(ctx context.Context, workflow *models.Workflow) error {
	return e.validator.Validate(ctx, workflow)
}

// Start validates the workflow, persists a NEW execution and runs it in the
// background. The returned execution is a snapshot taken before the first node ran.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*models.WorkflowExecution, error) {
	workflow, err := e.store.WorkflowByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	err = e.validator.Validate(ctx, workflow)
	if err != nil {
		return nil, err
	}

	triggerNodeID, err := ValidateTrigger(workflow, req.TriggerNodeID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	execution := &models.WorkflowExecution{
		ID:             uuid.NewString(),
		WorkflowID:     workflow.ID,
		Status:         models.ExecutionStatusNew,
		TriggerNodeID:  triggerNodeID,
		TriggerPayload: models.CloneMap(req.Payload),
		NodeExecutions: make(map[string]*models.NodeExecution),
		Frontier:       []string{triggerNodeID},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = e.store.SaveExecution(ctx, execution)
	if err != nil {
		return nil, executionError("Start", execution.ID, err)
	}

	e.logger.InfoContext(ctx, "Created execution",
		"execution_id", execution.ID,
		"workflow_id", workflow.ID,
		"trigger_node_id", triggerNodeID,
	)

	e.dispatch(ctx, execution.ID)

	return execution.Clone(), nil
}

// StartExecution starts an execution and returns its id.
func (e *Engine) StartExecution(ctx context.Context, workflowID, triggerNodeID string, payload map[string]any) (string, error) {
	execution, err := e.Start(ctx, StartRequest{WorkflowID: workflowID, TriggerNodeID: triggerNodeID, Payload: payload})
	if err != nil {
		return "", err
	}

	return execution.ID, nil
}

// Status returns the persisted state of an execution.
func (e *Engine) Status(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	return e.store.ExecutionByID(ctx, executionID)
}

// Wait blocks until every background run has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Run advances an execution until it finishes, waits for a human or ctx is done.
func (e *Engine) Run(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	unlock := e.locks.Lock(executionID)
	defer unlock()

	return e.run(ctx, executionID)
}

// dispatch runs the execution in a goroutine that outlives ctx. Cancel stops it.
func (e *Engine) dispatch(ctx context.Context, executionID string) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	e.mu.Lock()
	e.nextRun++
	token := e.nextRun

	if e.runs[executionID] == nil {
		e.runs[executionID] = make(map[uint64]context.CancelFunc)
	}

	e.runs[executionID][token] = cancel
	e.mu.Unlock()

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer e.untrack(executionID, token)

		_, err := e.Run(runCtx, executionID)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, persistence.ErrExecutionTerminal) {
			e.logger.ErrorContext(runCtx, "Execution run failed", "execution_id", executionID, "error", err)
		}
	}()
}

func (e *Engine) untrack(executionID string, token uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cancel, ok := e.runs[executionID][token]; ok {
		cancel()
		delete(e.runs[executionID], token)
	}

	if len(e.runs[executionID]) == 0 {
		delete(e.runs, executionID)
	}
}

func (e *Engine) cancelRuns(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cancel := range e.runs[executionID] {
		cancel()
	}
}

func (e *Engine) run(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	execution, err := e.store.ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, executionError("Run", executionID, err)
	}

	if execution.Status.IsTerminal() || execution.Status == models.ExecutionStatusWaitingForHuman {
		return execution, nil
	}

	workflow, err := e.store.WorkflowByID(ctx, execution.WorkflowID)
	if err != nil {
		return execution, executionError("Run", executionID, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.run",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	)
	defer span.End()

	plan, err := ComputeOrder(workflow)
	if err != nil {
		otelhelper.SetError(span, err)

		return e.finish(ctx, execution, models.ExecutionStatusError, &models.ExecutionError{
			Code:    protocol.CodeValidationFailed,
			Message: err.Error(),
		})
	}

	state := &runState{
		engine:    e,
		workflow:  workflow,
		plan:      plan,
		execution: execution,
		reachable: plan.Reachable(execution.TriggerNodeID),
		logger:    e.logger.With("execution_id", executionID, "workflow_id", workflow.ID),
	}

	if execution.Status == models.ExecutionStatusNew {
		now := e.now()
		execution.StartedAt = &now

		e.publish(ctx, execution.ID, events.ExecutionStarted{
			BaseEvent:      events.NewBaseEvent(events.ExecutionStartedEvent, workflow.ID, execution.ID),
			TriggerNodeID:  execution.TriggerNodeID,
			TriggerPayload: models.CloneMap(execution.TriggerPayload),
		})
	}

	execution.Status = models.ExecutionStatusRunning

	for _, id := range execution.NodesWithStatus(models.NodeExecutionRunning) {
		state.logger.WarnContext(ctx, "Recovering interrupted node", "node_id", id)
		execution.NodeExecutions[id].Status = models.NodeExecutionPending
	}

	err = e.save(ctx, execution)
	if err != nil {
		return execution, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return execution, err
		}

		if e.expired(execution) {
			return e.finish(ctx, execution, models.ExecutionStatusTimeout, &models.ExecutionError{
				Code:    "EXECUTION_TIMEOUT",
				Message: "execution exceeded " + e.config.ExecutionTimeout.String(),
			})
		}

		if waiting := execution.NodesWithStatus(models.NodeExecutionWaitingInput); len(waiting) > 0 {
			return e.await(ctx, state, waiting)
		}

		ready, wake := state.frontier()
		execution.Frontier = ready

		if len(ready) == 0 {
			if wake != nil {
				err := e.sleep(ctx, wake.Sub(e.now()))
				if err != nil {
					return execution, err
				}

				continue
			}

			return e.settle(ctx, state)
		}

		halt, err := state.step(ctx, ready)
		if err != nil {
			return execution, err
		}

		if err := ctx.Err(); err != nil {
			return execution, err
		}

		if halt != nil {
			return e.finish(ctx, execution, models.ExecutionStatusError, halt)
		}

		err = e.save(ctx, execution)
		if err != nil {
			return execution, err
		}
	}
}

// await parks an execution on its waiting nodes. Nothing else is scheduled until
// every pause is resumed or failed.
func (e *Engine) await(ctx context.Context, state *runState, waiting []string) (*models.WorkflowExecution, error) {
	execution := state.execution
	execution.Status = models.ExecutionStatusWaitingForHuman
	execution.Frontier = waiting

	err := e.save(ctx, execution)
	if err != nil {
		return execution, err
	}

	state.logger.InfoContext(ctx, "Execution waiting for human input", "nodes", waiting)

	return execution, nil
}

// settle decides the status of an execution with nothing left to run.
func (e *Engine) settle(ctx context.Context, state *runState) (*models.WorkflowExecution, error) {
	if blocked := state.blockingFailure(); blocked != nil {
		return e.finish(ctx, state.execution, models.ExecutionStatusError, blocked)
	}

	return e.finish(ctx, state.execution, models.ExecutionStatusSuccess, nil)
}

// finish moves the execution to a terminal status. Nodes still waiting on a human
// are cancelled together with their pauses and interactions.
func (e *Engine) finish(ctx context.Context, execution *models.WorkflowExecution, status models.ExecutionStatus, execErr *models.ExecutionError) (*models.WorkflowExecution, error) {
	now := e.now()

	if len(execution.NodesWithStatus(models.NodeExecutionWaitingInput)) > 0 {
		e.releaseWaiting(ctx, execution, now)
	}

	execution.Status = status
	execution.Error = execErr
	execution.Frontier = nil
	execution.FinishedAt = &now

	err := e.save(ctx, execution)
	if err != nil {
		return execution, err
	}

	var duration time.Duration
	if execution.StartedAt != nil {
		duration = now.Sub(*execution.StartedAt)
	}

	base := events.NewBaseEvent(events.ExecutionCompletedEvent, execution.WorkflowID, execution.ID)

	if status == models.ExecutionStatusSuccess {
		e.publish(ctx, execution.ID, events.ExecutionCompleted{BaseEvent: base, Status: status, Duration: duration})
		e.logger.InfoContext(ctx, "Execution completed", "execution_id", execution.ID, "duration", duration)

		return execution, nil
	}

	failed := events.ExecutionFailed{
		BaseEvent: events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID, execution.ID),
		Duration:  duration,
	}

	if execErr != nil {
		failed.NodeID = execErr.NodeID
		failed.Code = execErr.Code
		failed.Error = execErr.Message
	}

	e.publish(ctx, execution.ID, failed)
	e.logger.WarnContext(ctx, "Execution failed", "execution_id", execution.ID, "status", status, "error", execErr)

	return execution, nil
}

// releaseWaiting cancels the nodes, pauses and interactions still waiting on humans.
func (e *Engine) releaseWaiting(ctx context.Context, execution *models.WorkflowExecution, now time.Time) {
	for _, id := range execution.NodesWithStatus(models.NodeExecutionWaitingInput) {
		ne := execution.NodeExecutions[id]
		ne.Status = models.NodeExecutionCancelled
		ne.CompletedAt = &now
	}

	pauses, err := e.store.PausesByExecution(ctx, execution.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to load pauses", "execution_id", execution.ID, "error", err)
	}

	for _, pause := range pauses {
		if pause.Status != models.PauseActive {
			continue
		}

		_, err := e.store.TransitionPause(ctx, pause.ID, models.PauseActive, models.PauseCancelled, now)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to cancel pause", "execution_id", execution.ID, "pause_id", pause.ID, "error", err)
		}
	}

	if e.interactions != nil {
		err := e.interactions.CancelForExecution(ctx, execution.ID)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to cancel interactions", "execution_id", execution.ID, "error", err)
		}
	}
}

func (e *Engine) save(ctx context.Context, execution *models.WorkflowExecution) error {
	execution.UpdatedAt = e.now()

	err := e.store.SaveExecution(ctx, execution)
	if err != nil {
		return executionError("SaveExecution", execution.ID, err)
	}

	return nil
}

func (e *Engine) expired(execution *models.WorkflowExecution) bool {
	if e.config.ExecutionTimeout <= 0 || execution.StartedAt == nil {
		return false
	}

	return e.now().Sub(*execution.StartedAt) > e.config.ExecutionTimeout
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff returns the delay before retry number attempt, doubling from the base
// delay up to the maximum.
func (e *Engine) backoff(attempt int) time.Duration {
	policy := &backoff.ExponentialBackOff{
		InitialInterval: e.config.RetryBaseDelay,
		Multiplier:      2,
		MaxInterval:     e.config.RetryMaxDelay,
	}

	delay := policy.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = policy.NextBackOff()
	}

	return delay
}

func (e *Engine) publish(ctx context.Context, executionID string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(context.WithoutCancel(ctx), executionID, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "execution_id", executionID, "error", err)
	}
}
