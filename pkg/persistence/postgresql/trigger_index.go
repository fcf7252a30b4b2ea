package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/loom/pkg/models"
)

// TriggerIndexRepository stores trigger index entries.
type TriggerIndexRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTriggerIndexRepository creates a new trigger index repository.
func NewTriggerIndexRepository(db *sql.DB, logger *slog.Logger) *TriggerIndexRepository {
	return &TriggerIndexRepository{db: db, logger: logger}
}

// UpsertEntry inserts or replaces an entry, keeping its original deployed_at.
func (r *TriggerIndexRepository) UpsertEntry(ctx context.Context, entry *models.TriggerIndexEntry) error {
	configJSON, err := marshalJSON("trigger config", entry.TriggerConfig)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO trigger_index_entries (
			workflow_id, index_key, trigger_node_id, trigger_subtype, trigger_config,
			deployment_status, deployed_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (workflow_id, index_key) DO UPDATE SET
			trigger_node_id = EXCLUDED.trigger_node_id,
			trigger_subtype = EXCLUDED.trigger_subtype,
			trigger_config = EXCLUDED.trigger_config,
			deployment_status = EXCLUDED.deployment_status,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.WorkflowID,
		entry.IndexKey,
		entry.TriggerNodeID,
		entry.TriggerSubtype,
		configJSON,
		entry.DeploymentStatus,
		entry.DeployedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert trigger index entry: %w", err)
	}

	return nil
}

func (r *TriggerIndexRepository) EntriesByKey(ctx context.Context, subtype models.TriggerSubtype, indexKey string) ([]*models.TriggerIndexEntry, error) {
	return r.queryEntries(ctx, `WHERE trigger_subtype = $1 AND index_key = $2 AND deployment_status = 'active'
		ORDER BY workflow_id`, subtype, indexKey)
}

func (r *TriggerIndexRepository) EntriesByWorkflow(ctx context.Context, workflowID string) ([]*models.TriggerIndexEntry, error) {
	return r.queryEntries(ctx, `WHERE workflow_id = $1 ORDER BY index_key`, workflowID)
}

func (r *TriggerIndexRepository) ActiveKeys(ctx context.Context, subtype models.TriggerSubtype) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT index_key FROM trigger_index_entries
		WHERE trigger_subtype = $1 AND deployment_status = 'active'
		ORDER BY index_key`, subtype)
	if err != nil {
		return nil, fmt.Errorf("failed to query active keys: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	keys := make([]string, 0)

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan index key: %w", err)
		}

		keys = append(keys, key)
	}

	return keys, rows.Err()
}

func (r *TriggerIndexRepository) SetEntryStatus(ctx context.Context, workflowID, indexKey string, status models.DeploymentStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE trigger_index_entries SET deployment_status = $1, updated_at = $2
		WHERE workflow_id = $3 AND index_key = $4`, status, time.Now().UTC(), workflowID, indexKey)
	if err != nil {
		return fmt.Errorf("failed to set entry status: %w", err)
	}

	return nil
}

func (r *TriggerIndexRepository) SetWorkflowEntriesStatus(ctx context.Context, workflowID string, status models.DeploymentStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE trigger_index_entries SET deployment_status = $1, updated_at = $2
		WHERE workflow_id = $3`, status, time.Now().UTC(), workflowID)
	if err != nil {
		return fmt.Errorf("failed to set workflow entries status: %w", err)
	}

	return nil
}

func (r *TriggerIndexRepository) DeleteWorkflowEntries(ctx context.Context, workflowID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM trigger_index_entries WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow entries: %w", err)
	}

	return nil
}

func (r *TriggerIndexRepository) queryEntries(ctx context.Context, clause string, args ...any) ([]*models.TriggerIndexEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT workflow_id, index_key, trigger_node_id, trigger_subtype, trigger_config,
			deployment_status, deployed_at, updated_at
		FROM trigger_index_entries `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger index entries: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	entries := make([]*models.TriggerIndexEntry, 0)

	for rows.Next() {
		var (
			entry      models.TriggerIndexEntry
			configJSON []byte
		)

		err := rows.Scan(&entry.WorkflowID, &entry.IndexKey, &entry.TriggerNodeID, &entry.TriggerSubtype,
			&configJSON, &entry.DeploymentStatus, &entry.DeployedAt, &entry.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger index entry: %w", err)
		}

		if err := unmarshalJSON("trigger config", configJSON, &entry.TriggerConfig); err != nil {
			return nil, err
		}

		entry.DeployedAt = entry.DeployedAt.UTC()
		entry.UpdatedAt = entry.UpdatedAt.UTC()
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
