// Package hil runs the human-in-the-loop state machine. An interaction moves from
// pending to exactly one of responded, timeout or cancelled; every transition is a
// compare-and-swap on the repository so a late response, a timeout and a
// cancellation can race without resuming an execution twice.
package hil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/loom/pkg/eventbus"
	"github.com/dukex/loom/pkg/events"
	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/otelhelper"
	"github.com/dukex/loom/pkg/persistence"
	"github.com/dukex/loom/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Resumer continues or fails the execution a resolved interaction belongs to.
type Resumer interface {
	ResumeNode(ctx context.Context, executionID, nodeID string, data map[string]any) error
	Fail(ctx context.Context, executionID, nodeID, code, message string) error
}

type Config struct {
	// WarningLead is how long before timeout_at a reminder is sent.
	WarningLead time.Duration
	// DefaultTimeout applies to interactions that ask for no timeout.
	DefaultTimeout time.Duration
	// Responses scoring at or above RelevantThreshold resume the execution.
	RelevantThreshold float64
	// Responses scoring at or below FilteredThreshold are dropped.
	FilteredThreshold float64
}

func DefaultConfig() Config {
	return Config{
		WarningLead:       15 * time.Minute,
		DefaultTimeout:    time.Hour,
		RelevantThreshold: 0.7,
		FilteredThreshold: 0.3,
	}
}

type Option func(*Manager)

func WithSender(sender protocol.ChannelSender) Option {
	return func(m *Manager) {
		m.sender = sender
	}
}

func WithClassifier(classifier protocol.Classifier) Option {
	return func(m *Manager) {
		m.classifier = classifier
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(m *Manager) {
		m.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

type Manager struct {
	logger     *slog.Logger
	store      persistence.HILRepository
	resumer    Resumer
	sender     protocol.ChannelSender
	classifier protocol.Classifier
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	config     Config
	now        func() time.Time

	deliveries sync.WaitGroup
}

func NewManager(logger *slog.Logger, store persistence.HILRepository, resumer Resumer, config Config, opts ...Option) *Manager {
	defaults := DefaultConfig()

	if config.WarningLead <= 0 {
		config.WarningLead = defaults.WarningLead
	}

	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = defaults.DefaultTimeout
	}

	if config.RelevantThreshold <= 0 {
		config.RelevantThreshold = defaults.RelevantThreshold
	}

	if config.FilteredThreshold <= 0 {
		config.FilteredThreshold = defaults.FilteredThreshold
	}

	m := &Manager{
		logger:  logger.With("module", "hil"),
		store:   store,
		resumer: resumer,
		tracer:  otelhelper.NoopTracer(),
		config:  config,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// StartInteraction records a pending interaction for a paused node and hands the
// request to the channel sender in the background. It never blocks on delivery.
func (m *Manager) StartInteraction(ctx context.Context, execution *models.WorkflowExecution, nodeID string, spec models.InteractionSpec) (*models.HILInteraction, error) {
	now := m.now()

	timeout := time.Duration(spec.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = m.config.DefaultTimeout
	}

	action := spec.TimeoutAction
	if action == "" {
		action = models.TimeoutActionFail
	}

	requestData := models.CloneMap(spec.RequestData)
	if requestData == nil {
		requestData = map[string]any{}
	}

	requestData["message"] = spec.Message

	if len(spec.Options) > 0 {
		requestData["options"] = append([]string{}, spec.Options...)
	}

	id := uuid.NewString()
	interaction := &models.HILInteraction{
		ID:               id,
		WorkflowID:       execution.WorkflowID,
		ExecutionID:      execution.ID,
		NodeID:           nodeID,
		InteractionType:  spec.InteractionType,
		ChannelType:      spec.ChannelType,
		Target:           spec.Target,
		Status:           models.InteractionPending,
		RequestData:      requestData,
		TimeoutAt:        now.Add(timeout),
		TimeoutAction:    action,
		DefaultResponse:  models.CloneMap(spec.DefaultResponse),
		CorrelationToken: id,
		CreatedAt:        now,
	}

	err := m.store.CreateInteraction(ctx, interaction)
	if err != nil {
		return nil, interactionError("StartInteraction", id, err)
	}

	m.publish(ctx, interaction, events.InteractionRequested{
		BaseEvent:     events.NewBaseEvent(events.InteractionRequestedEvent, interaction.WorkflowID, interaction.ExecutionID),
		InteractionID: id,
		NodeID:        nodeID,
		Channel:       interaction.ChannelType,
		Target:        interaction.Target,
		TimeoutAt:     interaction.TimeoutAt,
	})

	m.logger.InfoContext(ctx, "Interaction started",
		"interaction_id", id,
		"execution_id", execution.ID,
		"node_id", nodeID,
		"channel", interaction.ChannelType,
		"timeout_at", interaction.TimeoutAt,
	)

	m.deliver(ctx, interaction.Clone(), WithToken(spec.Message, id), true)

	return interaction.Clone(), nil
}

// CancelForExecution cancels every pending interaction of an execution. Responses
// and timeouts arriving afterwards lose the compare-and-swap and become no-ops.
func (m *Manager) CancelForExecution(ctx context.Context, executionID string) error {
	pending, err := m.store.PendingInteractionsByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load pending interactions of execution %s: %w", executionID, err)
	}

	for _, interaction := range pending {
		won, err := m.store.TransitionInteraction(ctx, interaction.ID, models.InteractionCancelled, nil, m.now())
		if err != nil {
			return interactionError("CancelForExecution", interaction.ID, err)
		}

		if !won {
			m.logger.InfoContext(ctx, "Interaction resolved before it could be cancelled",
				"interaction_id", interaction.ID,
				"execution_id", executionID,
			)

			continue
		}

		m.resolved(ctx, interaction, models.InteractionCancelled)
	}

	return nil
}

// Wait blocks until every background delivery returned.
func (m *Manager) Wait() {
	m.deliveries.Wait()
}

// deliver sends a message for the interaction without blocking the caller. The
// delivery id of the initial request is recorded for correlation.
func (m *Manager) deliver(ctx context.Context, interaction *models.HILInteraction, message string, record bool) {
	if m.sender == nil {
		m.logger.WarnContext(ctx, "No channel sender configured, interaction not delivered", "interaction_id", interaction.ID)

		return
	}

	ctx = context.WithoutCancel(ctx)

	m.deliveries.Add(1)

	go func() {
		defer m.deliveries.Done()

		ctx, span := otelhelper.StartSpan(ctx, m.tracer, "hil.deliver",
			attribute.String(otelhelper.InteractionIDKey, interaction.ID),
			attribute.String(otelhelper.ExecutionIDKey, interaction.ExecutionID),
		)
		defer span.End()

		deliveryID, err := m.sender.Send(ctx, interaction.ChannelType, interaction.Target, message)
		if err != nil {
			otelhelper.SetError(span, err)
			m.logger.ErrorContext(ctx, "Failed to deliver interaction", "interaction_id", interaction.ID, "error", err)

			return
		}

		if !record || deliveryID == "" {
			return
		}

		err = m.store.SetDeliveryID(ctx, interaction.ID, deliveryID)
		if err != nil {
			m.logger.WarnContext(ctx, "Failed to record delivery id", "interaction_id", interaction.ID, "error", err)
		}
	}()
}

func (m *Manager) resolved(ctx context.Context, interaction *models.HILInteraction, status models.InteractionStatus) {
	m.publish(ctx, interaction, events.InteractionResolved{
		BaseEvent:     events.NewBaseEvent(events.InteractionResolvedEvent, interaction.WorkflowID, interaction.ExecutionID),
		InteractionID: interaction.ID,
		NodeID:        interaction.NodeID,
		Status:        status,
	})

	m.logger.InfoContext(ctx, "Interaction resolved",
		"interaction_id", interaction.ID,
		"execution_id", interaction.ExecutionID,
		"status", status,
	)
}

func (m *Manager) publish(ctx context.Context, interaction *models.HILInteraction, event eventbus.Event) {
	if m.publisher == nil {
		return
	}

	err := m.publisher.Publish(context.WithoutCancel(ctx), interaction.ExecutionID, event)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "interaction_id", interaction.ID, "error", err)
	}
}
