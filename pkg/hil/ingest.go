package hil

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/otelhelper"
	"github.com/dukex/loom/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// InboundResponse is a message received on a channel. CorrelationID is set by
// channels that thread replies (webhook, in-app).
type InboundResponse struct {
	Channel       models.ChannelType `json:"channel" validate:"required,oneof=slack email webhook in_app"`
	Sender        string             `json:"sender" validate:"required"`
	Text          string             `json:"text"`
	CorrelationID string             `json:"correlation_id,omitempty"`
	RawPayload    map[string]any     `json:"raw_payload,omitempty"`
}

// IngestResult reports what happened to an inbound response.
type IngestResult struct {
	ResponseID     string                        `json:"response_id"`
	InteractionID  string                        `json:"interaction_id,omitempty"`
	MatchMethod    models.MatchMethod            `json:"match_method"`
	Classification models.ResponseClassification `json:"classification"`
	Score          float64                       `json:"score"`
	Resumed        bool                          `json:"resumed"`
}

// IngestResponse stores an inbound response, ties it to a pending interaction and
// classifies it. A relevant response resolves the interaction and resumes the
// paused node; filtered and uncertain responses are only recorded.
//
// Matching tries the correlation id, then a correlation token quoted in the
// text, then the most recent pending interaction on the same channel and target.
// The last one is a heuristic and is recorded as such.
func (m *Manager) IngestResponse(ctx context.Context, inbound InboundResponse) (*IngestResult, error) {
	if !inbound.Channel.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, inbound.Channel)
	}

	if StripToken(inbound.Text) == "" {
		return nil, fmt.Errorf("%w: from %s on %s", ErrEmptyResponse, inbound.Sender, inbound.Channel)
	}

	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "hil.ingest",
		attribute.String("loom.hil.channel", string(inbound.Channel)),
	)
	defer span.End()

	response := &models.HILResponse{
		ID:          uuid.NewString(),
		Channel:     inbound.Channel,
		Sender:      inbound.Sender,
		Text:        inbound.Text,
		RawPayload:  models.CloneMap(inbound.RawPayload),
		MatchMethod: models.MatchNone,
		CreatedAt:   m.now(),
	}

	result := &IngestResult{ResponseID: response.ID, MatchMethod: models.MatchNone}

	interaction, method, err := m.match(ctx, inbound)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if interaction == nil {
		response.AIClassification = models.ClassificationFiltered
		response.Reasoning = "no pending interaction matches the response"
		result.Classification = models.ClassificationFiltered

		return result, m.saveResponse(ctx, response)
	}

	span.SetAttributes(attribute.String(otelhelper.InteractionIDKey, interaction.ID))

	response.MatchedInteractionID = &interaction.ID
	response.MatchMethod = method
	result.InteractionID = interaction.ID
	result.MatchMethod = method

	logger := m.logger.With("interaction_id", interaction.ID, "execution_id", interaction.ExecutionID, "match_method", method)

	if interaction.Status != models.InteractionPending {
		response.AIClassification = models.ClassificationFiltered
		response.Reasoning = fmt.Sprintf("interaction is already %s", interaction.Status)
		result.Classification = models.ClassificationFiltered

		logger.InfoContext(ctx, "Late response ignored", "status", interaction.Status)

		err := m.saveResponse(ctx, response)
		if err != nil {
			return nil, err
		}

		return result, interactionError("IngestResponse", interaction.ID, ErrInteractionResolved)
	}

	score, reasoning := m.classify(ctx, interaction, inbound.Text, method)
	response.AIRelevanceScore = score
	response.Reasoning = reasoning
	response.AIClassification = m.classification(score)
	result.Score = score
	result.Classification = response.AIClassification

	err = m.saveResponse(ctx, response)
	if err != nil {
		return nil, err
	}

	switch response.AIClassification {
	case models.ClassificationFiltered:
		logger.InfoContext(ctx, "Response filtered", "score", score, "reasoning", reasoning)

		return result, nil
	case models.ClassificationUncertain:
		logger.WarnContext(ctx, "Response relevance uncertain, waiting for a clearer answer", "score", score, "reasoning", reasoning)

		return result, nil
	}

	data := responseData(interaction, inbound)

	won, err := m.store.TransitionInteraction(ctx, interaction.ID, models.InteractionResponded, data, m.now())
	if err != nil {
		return nil, interactionError("IngestResponse", interaction.ID, err)
	}

	if !won {
		logger.InfoContext(ctx, "Response lost the race to another resolution")

		return result, interactionError("IngestResponse", interaction.ID, ErrInteractionResolved)
	}

	m.resolved(ctx, interaction, models.InteractionResponded)

	err = m.resumer.ResumeNode(ctx, interaction.ExecutionID, interaction.NodeID, data)
	if err != nil {
		otelhelper.SetError(span, err)

		return result, interactionError("IngestResponse", interaction.ID, err)
	}

	result.Resumed = true

	return result, nil
}

func (m *Manager) match(ctx context.Context, inbound InboundResponse) (*models.HILInteraction, models.MatchMethod, error) {
	if inbound.CorrelationID != "" && inbound.Channel.SupportsCorrelation() {
		interaction, err := m.lookup(ctx, inbound.CorrelationID)
		if err != nil || interaction != nil {
			return interaction, models.MatchCorrelation, err
		}
	}

	if token, ok := ExtractToken(inbound.Text); ok {
		interaction, err := m.lookup(ctx, token)
		if err != nil || interaction != nil {
			return interaction, models.MatchToken, err
		}
	}

	interaction, err := m.store.LatestPendingInteraction(ctx, inbound.Channel, inbound.Sender)
	if errors.Is(err, persistence.ErrInteractionNotFound) {
		return nil, models.MatchNone, nil
	}

	if err != nil {
		return nil, models.MatchNone, fmt.Errorf("find pending interaction: %w", err)
	}

	return interaction, models.MatchHeuristic, nil
}

func (m *Manager) lookup(ctx context.Context, id string) (*models.HILInteraction, error) {
	interaction, err := m.store.InteractionByID(ctx, id)
	if errors.Is(err, persistence.ErrInteractionNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, interactionError("IngestResponse", id, err)
	}

	return interaction, nil
}

// classify scores a response. Without a classifier, responses tied by
// correlation id or token are relevant and heuristic matches are uncertain.
func (m *Manager) classify(ctx context.Context, interaction *models.HILInteraction, text string, method models.MatchMethod) (float64, string) {
	if m.classifier == nil {
		if method == models.MatchHeuristic {
			return (m.config.RelevantThreshold + m.config.FilteredThreshold) / 2, "no classifier configured for a heuristic match"
		}

		return 1, "matched by " + string(method)
	}

	score, reasoning, err := m.classifier.Classify(ctx, interaction, StripToken(text))
	if err != nil {
		m.logger.ErrorContext(ctx, "Classifier failed, response kept as uncertain", "interaction_id", interaction.ID, "error", err)

		return (m.config.RelevantThreshold + m.config.FilteredThreshold) / 2, "classifier error: " + err.Error()
	}

	return score, reasoning
}

func (m *Manager) classification(score float64) models.ResponseClassification {
	switch {
	case score >= m.config.RelevantThreshold:
		return models.ClassificationRelevant
	case score <= m.config.FilteredThreshold:
		return models.ClassificationFiltered
	default:
		return models.ClassificationUncertain
	}
}

func (m *Manager) saveResponse(ctx context.Context, response *models.HILResponse) error {
	err := m.store.SaveResponse(ctx, response)
	if err != nil {
		return fmt.Errorf("save response %s: %w", response.ID, err)
	}

	return nil
}

// responseData is the output the paused node completes with.
func responseData(interaction *models.HILInteraction, inbound InboundResponse) map[string]any {
	text := StripToken(inbound.Text)
	data := map[string]any{
		"response":       text,
		"responder":      inbound.Sender,
		"channel":        string(inbound.Channel),
		"interaction_id": interaction.ID,
	}

	if interaction.InteractionType == models.InteractionTypeApproval {
		data["approved"] = approves(text)
	}

	return data
}
