package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/loom/pkg/models"
	"github.com/dukex/loom/pkg/persistence"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// HILRepository handles human-in-the-loop interactions and inbound responses.
type HILRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewHILRepository creates a new HIL repository.
func NewHILRepository(db *sql.DB, logger *slog.Logger) *HILRepository {
	return &HILRepository{db: db, logger: logger}
}

// CreateInteraction inserts a new interaction.
func (r *HILRepository) CreateInteraction(ctx context.Context, interaction *models.HILInteraction) error {
	requestJSON, err := marshalJSON("request data", interaction.RequestData)
	if err != nil {
		return err
	}

	defaultJSON, err := marshalJSON("default response", interaction.DefaultResponse)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO hil_interactions (
			id, workflow_id, execution_id, node_id, interaction_type, channel_type, target, status,
			request_data, timeout_at, warning_sent, timeout_action, default_response,
			correlation_token, delivery_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = r.db.ExecContext(ctx, query,
		interaction.ID,
		interaction.WorkflowID,
		interaction.ExecutionID,
		interaction.NodeID,
		interaction.InteractionType,
		interaction.ChannelType,
		interaction.Target,
		interaction.Status,
		requestJSON,
		interaction.TimeoutAt,
		interaction.WarningSent,
		interaction.TimeoutAction,
		defaultJSON,
		interaction.CorrelationToken,
		interaction.DeliveryID,
		interaction.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewInteractionError("CreateInteraction", interaction.ID, persistence.ErrInteractionExists)
		}

		return fmt.Errorf("failed to create interaction: %w", err)
	}

	return nil
}

const interactionColumns = `id, workflow_id, execution_id, node_id, interaction_type, channel_type, target, status,
	request_data, response_data, timeout_at, warning_sent, timeout_action, default_response,
	correlation_token, delivery_id, created_at, resolved_at`

// InteractionByID returns an interaction by its ID.
func (r *HILRepository) InteractionByID(ctx context.Context, id string) (*models.HILInteraction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM hil_interactions WHERE id = $1`, id)

	interaction, err := scanInteraction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInteractionError("InteractionByID", id, persistence.ErrInteractionNotFound)
		}

		return nil, fmt.Errorf("failed to scan interaction: %w", err)
	}

	return interaction, nil
}

// TransitionInteraction resolves a pending interaction. Only one caller can win.
func (r *HILRepository) TransitionInteraction(ctx context.Context, id string, to models.InteractionStatus, responseData map[string]any, at time.Time) (bool, error) {
	responseJSON, err := marshalJSON("response data", responseData)
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE hil_interactions SET status = $1, response_data = $2, resolved_at = $3
		WHERE id = $4 AND status = 'pending'`, to, responseJSON, at, id)
	if err != nil {
		return false, fmt.Errorf("failed to transition interaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

// MarkWarningSent flips warning_sent on a pending interaction once.
func (r *HILRepository) MarkWarningSent(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE hil_interactions SET warning_sent = TRUE
		WHERE id = $1 AND status = 'pending' AND warning_sent = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark warning sent: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

func (r *HILRepository) SetDeliveryID(ctx context.Context, id, deliveryID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE hil_interactions SET delivery_id = $1 WHERE id = $2`, deliveryID, id)
	if err != nil {
		return fmt.Errorf("failed to set delivery id: %w", err)
	}

	return nil
}

func (r *HILRepository) PendingInteractions(ctx context.Context) ([]*models.HILInteraction, error) {
	return r.queryInteractions(ctx, `WHERE status = 'pending' ORDER BY created_at, id`)
}

func (r *HILRepository) PendingInteractionsByExecution(ctx context.Context, executionID string) ([]*models.HILInteraction, error) {
	return r.queryInteractions(ctx, `WHERE status = 'pending' AND execution_id = $1 ORDER BY created_at, id`, executionID)
}

func (r *HILRepository) LatestPendingInteraction(ctx context.Context, channel models.ChannelType, target string) (*models.HILInteraction, error) {
	interactions, err := r.queryInteractions(ctx, `
		WHERE status = 'pending' AND channel_type = $1 AND target = $2
		ORDER BY created_at DESC, id DESC LIMIT 1`, channel, target)
	if err != nil {
		return nil, err
	}

	if len(interactions) == 0 {
		return nil, persistence.NewInteractionError("LatestPendingInteraction", target, persistence.ErrInteractionNotFound)
	}

	return interactions[0], nil
}

func (r *HILRepository) queryInteractions(ctx context.Context, clause string, args ...any) ([]*models.HILInteraction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+interactionColumns+` FROM hil_interactions `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	interactions := make([]*models.HILInteraction, 0)

	for rows.Next() {
		interaction, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}

		interactions = append(interactions, interaction)
	}

	return interactions, rows.Err()
}

func scanInteraction(row scanner) (*models.HILInteraction, error) {
	var (
		interaction                            models.HILInteraction
		requestJSON, responseJSON, defaultJSON []byte
		deliveryID                             sql.NullString
		resolvedAt                             sql.NullTime
	)

	err := row.Scan(
		&interaction.ID,
		&interaction.WorkflowID,
		&interaction.ExecutionID,
		&interaction.NodeID,
		&interaction.InteractionType,
		&interaction.ChannelType,
		&interaction.Target,
		&interaction.Status,
		&requestJSON,
		&responseJSON,
		&interaction.TimeoutAt,
		&interaction.WarningSent,
		&interaction.TimeoutAction,
		&defaultJSON,
		&interaction.CorrelationToken,
		&deliveryID,
		&interaction.CreatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON("request data", requestJSON, &interaction.RequestData); err != nil {
		return nil, err
	}

	if err := unmarshalJSON("response data", responseJSON, &interaction.ResponseData); err != nil {
		return nil, err
	}

	if err := unmarshalJSON("default response", defaultJSON, &interaction.DefaultResponse); err != nil {
		return nil, err
	}

	interaction.DeliveryID = deliveryID.String
	interaction.TimeoutAt = interaction.TimeoutAt.UTC()
	interaction.CreatedAt = interaction.CreatedAt.UTC()
	interaction.ResolvedAt = timePtr(resolvedAt)

	return &interaction, nil
}

// SaveResponse stores an inbound response.
func (r *HILRepository) SaveResponse(ctx context.Context, response *models.HILResponse) error {
	rawJSON, err := marshalJSON("raw payload", response.RawPayload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO hil_responses (
			id, channel, sender, text, raw_payload, matched_interaction_id, match_method,
			ai_relevance_score, ai_classification, reasoning, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	var matched sql.NullString
	if response.MatchedInteractionID != nil {
		matched = sql.NullString{String: *response.MatchedInteractionID, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, query,
		response.ID,
		response.Channel,
		response.Sender,
		response.Text,
		rawJSON,
		matched,
		response.MatchMethod,
		response.AIRelevanceScore,
		response.AIClassification,
		response.Reasoning,
		response.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save response: %w", err)
	}

	return nil
}

// ResponsesByInteraction returns the responses matched to an interaction, oldest first.
func (r *HILRepository) ResponsesByInteraction(ctx context.Context, interactionID string) ([]*models.HILResponse, error) {
	query := `
		SELECT id, channel, sender, text, raw_payload, matched_interaction_id, match_method,
			ai_relevance_score, ai_classification, reasoning, created_at
		FROM hil_responses
		WHERE matched_interaction_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, interactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	responses := make([]*models.HILResponse, 0)

	for rows.Next() {
		var (
			response                models.HILResponse
			sender, text, reasoning sql.NullString
			matched                 sql.NullString
			rawJSON                 []byte
		)

		err := rows.Scan(&response.ID, &response.Channel, &sender, &text, &rawJSON, &matched, &response.MatchMethod,
			&response.AIRelevanceScore, &response.AIClassification, &reasoning, &response.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}

		if err := unmarshalJSON("raw payload", rawJSON, &response.RawPayload); err != nil {
			return nil, err
		}

		response.Sender = sender.String
		response.Text = text.String
		response.Reasoning = reasoning.String
		response.CreatedAt = response.CreatedAt.UTC()

		if matched.Valid {
			response.MatchedInteractionID = &matched.String
		}

		responses = append(responses, &response)
	}

	return responses, rows.Err()
}
