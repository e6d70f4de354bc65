package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/leadflow/pkg/models"
	"github.com/leadflow/leadflow/pkg/persistence"
)

// LeadRepository handles lead database operations.
type LeadRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewLeadRepository(db *sql.DB, logger *slog.Logger) *LeadRepository {
	return &LeadRepository{db: db, logger: logger}
}

func (r *LeadRepository) GetByID(ctx context.Context, id string) (*models.Lead, error) {
	query := `
		SELECT id, phone, name, tags, status, stopped_automation, created_at, updated_at
		FROM leads
		WHERE id = $1
	`

	lead, err := r.scanLead(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrLeadNotFound
		}

		return nil, fmt.Errorf("failed to scan lead: %w", err)
	}

	return lead, nil
}

func (r *LeadRepository) Save(ctx context.Context, lead *models.Lead) error {
	now := time.Now().UTC()

	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}

	lead.UpdatedAt = now

	if lead.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate lead ID: %w", err)
		}

		lead.ID = id.String()
	}

	tags, err := json.Marshal(lead.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode lead tags: %w", err)
	}

	query := `
		INSERT INTO leads (id, phone, name, tags, status, stopped_automation, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id)
		DO UPDATE SET
			phone = EXCLUDED.phone,
			name = EXCLUDED.name,
			tags = EXCLUDED.tags,
			status = EXCLUDED.status,
			stopped_automation = EXCLUDED.stopped_automation,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		lead.ID, lead.Phone, lead.Name, tags, lead.Status,
		lead.StoppedAutomation, lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save lead: %w", err)
	}

	return nil
}

// FindForCampaign selects the audience for a target filter. Opted-out leads
// are always excluded.
func (r *LeadRepository) FindForCampaign(ctx context.Context, targetFilter string) ([]*models.Lead, error) {
	query := `
		SELECT id, phone, name, tags, status, stopped_automation, created_at, updated_at
		FROM leads
		WHERE stopped_automation = false
	`

	args := []any{}

	switch {
	case targetFilter == models.TargetFilterAll || targetFilter == "":
	case strings.HasPrefix(targetFilter, models.TargetFilterTagPrefix):
		query += ` AND tags @> $1`

		tag, err := json.Marshal([]string{strings.TrimPrefix(targetFilter, models.TargetFilterTagPrefix)})
		if err != nil {
			return nil, fmt.Errorf("failed to encode tag filter: %w", err)
		}

		args = append(args, tag)
	case strings.HasPrefix(targetFilter, models.TargetFilterStatusPrefix):
		query += ` AND status = $1`
		args = append(args, strings.TrimPrefix(targetFilter, models.TargetFilterStatusPrefix))
	default:
		return nil, fmt.Errorf("unknown target filter %q", targetFilter)
	}

	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	leads := make([]*models.Lead, 0)

	for rows.Next() {
		lead, err := r.scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}

		leads = append(leads, lead)
	}

	return leads, rows.Err()
}

func (r *LeadRepository) AddMessage(ctx context.Context, leadID, content string, direction models.MessageDirection) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate message ID: %w", err)
	}

	query := `
		INSERT INTO lead_messages (id, lead_id, content, direction, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = r.db.ExecContext(ctx, query, id.String(), leadID, content, direction, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record lead message: %w", err)
	}

	return nil
}

func (r *LeadRepository) scanLead(row rowScanner) (*models.Lead, error) {
	lead := &models.Lead{}

	var tags []byte

	err := row.Scan(
		&lead.ID, &lead.Phone, &lead.Name, &tags, &lead.Status,
		&lead.StoppedAutomation, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(tags, &lead.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to decode lead tags: %w", err)
	}

	return lead, nil
}
