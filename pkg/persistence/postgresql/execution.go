package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/leadflow/pkg/models"
	"github.com/leadflow/leadflow/pkg/persistence"
)

// ExecutionRepository handles execution instance database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id, workflow_id, lead_id, current_node_id, status, next_run_at,
	failure_reason, created_at, updated_at
`

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	now := time.Now().UTC()

	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate execution ID: %w", err)
		}

		execution.ID = id.String()
	}

	execution.CreatedAt = now
	execution.UpdatedAt = now

	query := `
		INSERT INTO workflow_executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		execution.ID, execution.WorkflowID, execution.LeadID,
		execution.CurrentNodeID, execution.Status, execution.NextRunAt,
		execution.FailureReason, execution.CreatedAt, execution.UpdatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	execution.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE workflow_executions
		SET current_node_id = $2, status = $3, next_run_at = $4,
		    failure_reason = $5, updated_at = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID, execution.CurrentNodeID, execution.Status,
		execution.NextRunAt, execution.FailureReason, execution.UpdatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

// ClaimWaiting performs the atomic conditional update that guards against
// double resumption: only one concurrent caller observes an affected row.
func (r *ExecutionRepository) ClaimWaiting(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE workflow_executions
		SET status = $3, next_run_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $4 AND next_run_at <= $2
	`

	result, err := r.db.ExecContext(ctx, query, id, now,
		models.ExecutionStatusPending, models.ExecutionStatusWaiting)
	if err != nil {
		return false, persistence.NewExecutionError("ClaimWaiting", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewExecutionError("ClaimWaiting", id, err)
	}

	return affected == 1, nil
}

func (r *ExecutionRepository) DueExecutions(ctx context.Context, now time.Time) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE status = $1 AND next_run_at <= $2
		ORDER BY next_run_at
	`

	return r.queryExecutions(ctx, query, models.ExecutionStatusWaiting, now)
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY created_at DESC
	`

	return r.queryExecutions(ctx, query, workflowID)
}

func (r *ExecutionRepository) ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE status = $1
		ORDER BY created_at DESC
	`

	return r.queryExecutions(ctx, query, status)
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ExecutionRepository) scanExecution(row rowScanner) (*models.Execution, error) {
	execution := &models.Execution{}

	var nextRunAt sql.NullTime

	err := row.Scan(
		&execution.ID, &execution.WorkflowID, &execution.LeadID,
		&execution.CurrentNodeID, &execution.Status, &nextRunAt,
		&execution.FailureReason, &execution.CreatedAt, &execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if nextRunAt.Valid {
		execution.NextRunAt = &nextRunAt.Time
	}

	return execution, nil
}
