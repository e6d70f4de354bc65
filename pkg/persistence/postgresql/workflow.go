package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/leadflow/pkg/models"
	"github.com/leadflow/leadflow/pkg/persistence"
)

// WorkflowRepository handles workflow graph database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT id, name, status, owner, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`

	workflow := &models.Workflow{}

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Status,
		&workflow.Owner,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	err = r.loadGraph(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow graph: %w", err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) List(ctx context.Context) ([]*models.Workflow, error) {
	return r.listByStatus(ctx, "")
}

func (r *WorkflowRepository) Published(ctx context.Context) ([]*models.Workflow, error) {
	return r.listByStatus(ctx, models.WorkflowStatusPublished)
}

func (r *WorkflowRepository) listByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error) {
	query := `
		SELECT id, name, status, owner, created_at, updated_at
		FROM workflows
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow := &models.Workflow{}

		err := rows.Scan(
			&workflow.ID,
			&workflow.Name,
			&workflow.Status,
			&workflow.Owner,
			&workflow.CreatedAt,
			&workflow.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		err = r.loadGraph(ctx, workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow graph: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) loadGraph(ctx context.Context, workflow *models.Workflow) error {
	nodes, err := r.loadNodes(ctx, workflow.ID)
	if err != nil {
		return err
	}

	edges, err := r.loadEdges(ctx, workflow.ID)
	if err != nil {
		return err
	}

	workflow.Nodes = nodes
	workflow.Edges = edges

	return nil
}

func (r *WorkflowRepository) loadNodes(ctx context.Context, workflowID string) ([]*models.Node, error) {
	query := `
		SELECT id, node_type, data
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow nodes: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	nodes := make([]*models.Node, 0)

	for rows.Next() {
		var (
			id       string
			nodeType string
			data     []byte
		)

		err := rows.Scan(&id, &nodeType, &data)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow node: %w", err)
		}

		// Rebuild the tagged-union wire form so the node decoder picks
		// the typed payload.
		envelope, err := json.Marshal(map[string]json.RawMessage{
			"id":   mustJSON(id),
			"type": mustJSON(nodeType),
			"data": data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build node envelope: %w", err)
		}

		node := &models.Node{}

		err = json.Unmarshal(envelope, node)
		if err != nil {
			return nil, fmt.Errorf("failed to decode node %s: %w", id, err)
		}

		nodes = append(nodes, node)
	}

	return nodes, rows.Err()
}

func mustJSON(value string) json.RawMessage {
	raw, _ := json.Marshal(value)

	return raw
}

func (r *WorkflowRepository) loadEdges(ctx context.Context, workflowID string) ([]*models.Edge, error) {
	query := `
		SELECT id, source_node_id, target_node_id, source_handle
		FROM workflow_edges
		WHERE workflow_id = $1
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow edges: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	edges := make([]*models.Edge, 0)

	for rows.Next() {
		edge := &models.Edge{}

		err := rows.Scan(&edge.ID, &edge.SourceNodeID, &edge.TargetNodeID, &edge.SourceHandle)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow edge: %w", err)
		}

		edges = append(edges, edge)
	}

	return edges, rows.Err()
}

// Save upserts the workflow row and replaces its graph in one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	upsert := `
		INSERT INTO workflows (id, name, status, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, upsert,
		workflow.ID, workflow.Name, workflow.Status, workflow.Owner,
		workflow.CreatedAt, workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM workflow_nodes WHERE workflow_id = $1`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to clear workflow nodes: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM workflow_edges WHERE workflow_id = $1`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to clear workflow edges: %w", err)
	}

	for _, node := range workflow.Nodes {
		var data []byte

		data, err = nodeData(node)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO workflow_nodes (workflow_id, id, node_type, data) VALUES ($1, $2, $3, $4)`,
			workflow.ID, node.ID, string(node.Kind), data,
		)
		if err != nil {
			return fmt.Errorf("failed to save node %s: %w", node.ID, err)
		}
	}

	for position, edge := range workflow.Edges {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO workflow_edges (workflow_id, id, source_node_id, target_node_id, source_handle, position)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			workflow.ID, edge.ID, edge.SourceNodeID, edge.TargetNodeID, edge.SourceHandle, position,
		)
		if err != nil {
			return fmt.Errorf("failed to save edge %s: %w", edge.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit workflow save: %w", err)
	}

	return nil
}

func nodeData(node *models.Node) ([]byte, error) {
	var payload any

	switch node.Kind {
	case models.NodeKindTrigger:
		payload = node.Trigger
	case models.NodeKindMessage:
		payload = node.Message
	case models.NodeKindDelay:
		payload = node.Delay
	case models.NodeKindCondition:
		payload = node.Condition
	default:
		return nil, fmt.Errorf("unknown node kind %q for node %s", node.Kind, node.ID)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node %s data: %w", node.ID, err)
	}

	return data, nil
}
