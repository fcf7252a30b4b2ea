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
)

// ExecutionRepository handles executions, their node executions and pauses.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// SaveExecution upserts the execution and every node execution in one transaction.
// The conditional update leaves terminal rows untouched.
func (r *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	execution.UpdatedAt = time.Now().UTC()

	payloadJSON, err := marshalJSON("trigger payload", execution.TriggerPayload)
	if err != nil {
		return err
	}

	frontierJSON, err := marshalJSON("frontier", execution.Frontier)
	if err != nil {
		return err
	}

	errorJSON, err := marshalJSON("execution error", execution.Error)
	if err != nil {
		return err
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (
			id, workflow_id, status, trigger_node_id, trigger_payload, frontier,
			error, created_at, started_at, finished_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			frontier = EXCLUDED.frontier,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			updated_at = EXCLUDED.updated_at
		WHERE workflow_executions.status NOT IN ('SUCCESS', 'ERROR', 'CANCELED', 'TIMEOUT')
	`

	result, err := transaction.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.Status,
		execution.TriggerNodeID,
		payloadJSON,
		frontierJSON,
		errorJSON,
		execution.CreatedAt,
		nullTime(execution.StartedAt),
		nullTime(execution.FinishedAt),
		execution.UpdatedAt,
	)
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to save execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		_ = transaction.Rollback()

		return persistence.NewExecutionError("SaveExecution", execution.ID, persistence.ErrExecutionTerminal)
	}

	for _, nodeExecution := range execution.NodeExecutions {
		err = r.saveNodeExecution(ctx, transaction, execution.ID, nodeExecution)
		if err != nil {
			_ = transaction.Rollback()

			return err
		}
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) saveNodeExecution(ctx context.Context, transaction *sql.Tx, executionID string, ne *models.NodeExecution) error {
	inputJSON, err := marshalJSON("input data", ne.InputData)
	if err != nil {
		return err
	}

	outputJSON, err := marshalJSON("output data", ne.OutputData)
	if err != nil {
		return err
	}

	activeJSON, err := marshalJSON("active outputs", ne.ActiveOutputs)
	if err != nil {
		return err
	}

	logsJSON, err := marshalJSON("logs", ne.Logs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO node_executions (
			execution_id, node_id, status, input_data, output_data, active_outputs, logs,
			retry_count, max_retries, next_attempt_at, error_code, error_message, started_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (execution_id, node_id) DO UPDATE SET
			status = EXCLUDED.status,
			input_data = EXCLUDED.input_data,
			output_data = EXCLUDED.output_data,
			active_outputs = EXCLUDED.active_outputs,
			logs = EXCLUDED.logs,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			next_attempt_at = EXCLUDED.next_attempt_at,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err = transaction.ExecContext(ctx, query,
		executionID,
		ne.NodeID,
		ne.Status,
		inputJSON,
		outputJSON,
		activeJSON,
		logsJSON,
		ne.RetryCount,
		ne.MaxRetries,
		nullTime(ne.NextAttemptAt),
		ne.ErrorCode,
		ne.ErrorMessage,
		nullTime(ne.StartedAt),
		nullTime(ne.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save node execution %s: %w", ne.NodeID, err)
	}

	return nil
}

const executionColumns = `id, workflow_id, status, trigger_node_id, trigger_payload, frontier,
	error, created_at, started_at, finished_at, updated_at`

// ExecutionByID returns the execution with its node executions.
func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	err = r.loadNodeExecutions(ctx, execution)
	if err != nil {
		return nil, err
	}

	return execution, nil
}

// ExecutionsByWorkflow returns the executions of a workflow, oldest first.
func (r *ExecutionRepository) ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE workflow_id = $1 ORDER BY created_at`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			_ = rows.Close()

			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()

	if closeErr := rows.Close(); closeErr != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
	}

	if err != nil {
		return nil, err
	}

	for _, execution := range executions {
		err = r.loadNodeExecutions(ctx, execution)
		if err != nil {
			return nil, err
		}
	}

	return executions, nil
}

func (r *ExecutionRepository) loadNodeExecutions(ctx context.Context, execution *models.WorkflowExecution) error {
	query := `
		SELECT node_id, status, input_data, output_data, active_outputs, logs, retry_count, max_retries,
			next_attempt_at, error_code, error_message, started_at, completed_at
		FROM node_executions
		WHERE execution_id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, execution.ID)
	if err != nil {
		return fmt.Errorf("failed to query node executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	execution.NodeExecutions = make(map[string]*models.NodeExecution)

	for rows.Next() {
		var (
			ne                                      models.NodeExecution
			inputJSON, outputJSON, activeJSON, logs []byte
			nextAttempt, startedAt, completedAt     sql.NullTime
			errorCode, errorMessage                 sql.NullString
		)

		err := rows.Scan(&ne.NodeID, &ne.Status, &inputJSON, &outputJSON, &activeJSON, &logs,
			&ne.RetryCount, &ne.MaxRetries, &nextAttempt, &errorCode, &errorMessage, &startedAt, &completedAt)
		if err != nil {
			return fmt.Errorf("failed to scan node execution: %w", err)
		}

		if err := unmarshalJSON("input data", inputJSON, &ne.InputData); err != nil {
			return err
		}

		if err := unmarshalJSON("output data", outputJSON, &ne.OutputData); err != nil {
			return err
		}

		if err := unmarshalJSON("active outputs", activeJSON, &ne.ActiveOutputs); err != nil {
			return err
		}

		if err := unmarshalJSON("logs", logs, &ne.Logs); err != nil {
			return err
		}

		ne.NextAttemptAt = timePtr(nextAttempt)
		ne.StartedAt = timePtr(startedAt)
		ne.CompletedAt = timePtr(completedAt)
		ne.ErrorCode = errorCode.String
		ne.ErrorMessage = errorMessage.String

		execution.NodeExecutions[ne.NodeID] = &ne
	}

	return rows.Err()
}

func scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution                          models.WorkflowExecution
		payloadJSON, frontierJSON, errJSON []byte
		startedAt, finishedAt              sql.NullTime
	)

	err := row.Scan(&execution.ID, &execution.WorkflowID, &execution.Status, &execution.TriggerNodeID,
		&payloadJSON, &frontierJSON, &errJSON, &execution.CreatedAt, &startedAt, &finishedAt, &execution.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON("trigger payload", payloadJSON, &execution.TriggerPayload); err != nil {
		return nil, err
	}

	if err := unmarshalJSON("frontier", frontierJSON, &execution.Frontier); err != nil {
		return nil, err
	}

	if err := unmarshalJSON("execution error", errJSON, &execution.Error); err != nil {
		return nil, err
	}

	execution.CreatedAt = execution.CreatedAt.UTC()
	execution.UpdatedAt = execution.UpdatedAt.UTC()
	execution.StartedAt = timePtr(startedAt)
	execution.FinishedAt = timePtr(finishedAt)

	return &execution, nil
}

// SavePause upserts a pause.
func (r *ExecutionRepository) SavePause(ctx context.Context, pause *models.WorkflowExecutionPause) error {
	conditionsJSON, err := marshalJSON("resume conditions", pause.ResumeConditions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_execution_pauses (
			id, execution_id, paused_node_id, pause_reason, resume_conditions, status, created_at, resumed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			resume_conditions = EXCLUDED.resume_conditions,
			resumed_at = EXCLUDED.resumed_at
	`

	_, err = r.db.ExecContext(ctx, query, pause.ID, pause.ExecutionID, pause.PausedNodeID, pause.PauseReason,
		conditionsJSON, pause.Status, pause.CreatedAt, nullTime(pause.ResumedAt))
	if err != nil {
		return fmt.Errorf("failed to save pause: %w", err)
	}

	return nil
}

const pauseColumns = `id, execution_id, paused_node_id, pause_reason, resume_conditions, status, created_at, resumed_at`

// ActivePause returns the active pause of a node.
func (r *ExecutionRepository) ActivePause(ctx context.Context, executionID, nodeID string) (*models.WorkflowExecutionPause, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+pauseColumns+` FROM workflow_execution_pauses
		WHERE execution_id = $1 AND paused_node_id = $2 AND status = 'active'
		ORDER BY created_at DESC LIMIT 1`, executionID, nodeID)

	pause, err := scanPause(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ActivePause", executionID, persistence.ErrPauseNotFound)
		}

		return nil, fmt.Errorf("failed to scan pause: %w", err)
	}

	return pause, nil
}

// PausesByExecution returns every pause of an execution, oldest first.
func (r *ExecutionRepository) PausesByExecution(ctx context.Context, executionID string) ([]*models.WorkflowExecutionPause, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+pauseColumns+` FROM workflow_execution_pauses
		WHERE execution_id = $1 ORDER BY created_at`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pauses: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	pauses := make([]*models.WorkflowExecutionPause, 0)

	for rows.Next() {
		pause, err := scanPause(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pause: %w", err)
		}

		pauses = append(pauses, pause)
	}

	return pauses, rows.Err()
}

// TransitionPause performs a conditional status update.
func (r *ExecutionRepository) TransitionPause(ctx context.Context, pauseID string, from, to models.PauseStatus, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE workflow_execution_pauses SET status = $1, resumed_at = $2 WHERE id = $3 AND status = $4`,
		to, at, pauseID, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition pause: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

func scanPause(row scanner) (*models.WorkflowExecutionPause, error) {
	var (
		pause          models.WorkflowExecutionPause
		reason         sql.NullString
		conditionsJSON []byte
		resumedAt      sql.NullTime
	)

	err := row.Scan(&pause.ID, &pause.ExecutionID, &pause.PausedNodeID, &reason, &conditionsJSON,
		&pause.Status, &pause.CreatedAt, &resumedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON("resume conditions", conditionsJSON, &pause.ResumeConditions); err != nil {
		return nil, err
	}

	pause.PauseReason = reason.String
	pause.CreatedAt = pause.CreatedAt.UTC()
	pause.ResumedAt = timePtr(resumedAt)

	return &pause, nil
}
