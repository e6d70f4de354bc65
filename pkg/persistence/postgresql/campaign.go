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

// CampaignRepository handles campaign and audience database operations.
type CampaignRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewCampaignRepository(db *sql.DB, logger *slog.Logger) *CampaignRepository {
	return &CampaignRepository{db: db, logger: logger}
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	query := `
		SELECT id, name, target_filter, status, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`

	campaign := &models.Campaign{}

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&campaign.ID, &campaign.Name, &campaign.TargetFilter,
		&campaign.Status, &campaign.CreatedAt, &campaign.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrCampaignNotFound
		}

		return nil, fmt.Errorf("failed to scan campaign: %w", err)
	}

	steps, err := r.loadSteps(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}

	campaign.Steps = steps

	return campaign, nil
}

func (r *CampaignRepository) loadSteps(ctx context.Context, campaignID string) ([]*models.CampaignStep, error) {
	query := `
		SELECT step_order, kind, content
		FROM campaign_steps
		WHERE campaign_id = $1
		ORDER BY step_order
	`

	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaign steps: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	steps := make([]*models.CampaignStep, 0)

	for rows.Next() {
		step := &models.CampaignStep{}

		err := rows.Scan(&step.Order, &step.Kind, &step.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign step: %w", err)
		}

		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// Save upserts the campaign row and replaces its step list in one
// transaction. Steps are immutable once the campaign runs; callers enforce
// that before saving.
func (r *CampaignRepository) Save(ctx context.Context, campaign *models.Campaign) error {
	now := time.Now().UTC()

	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = now
	}

	campaign.UpdatedAt = now

	if campaign.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate campaign ID: %w", err)
		}

		campaign.ID = id.String()
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
		INSERT INTO campaigns (id, name, target_filter, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			target_filter = EXCLUDED.target_filter,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, upsert,
		campaign.ID, campaign.Name, campaign.TargetFilter, campaign.Status,
		campaign.CreatedAt, campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save campaign: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM campaign_steps WHERE campaign_id = $1`, campaign.ID)
	if err != nil {
		return fmt.Errorf("failed to clear campaign steps: %w", err)
	}

	for _, step := range campaign.Steps {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO campaign_steps (campaign_id, step_order, kind, content) VALUES ($1, $2, $3, $4)`,
			campaign.ID, step.Order, step.Kind, step.Content,
		)
		if err != nil {
			return fmt.Errorf("failed to save campaign step %d: %w", step.Order, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit campaign save: %w", err)
	}

	return nil
}

func (r *CampaignRepository) CreateAudienceEntry(ctx context.Context, entry *models.AudienceEntry) error {
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate audience entry ID: %w", err)
		}

		entry.ID = id.String()
	}

	query := `
		INSERT INTO campaign_audience
			(id, campaign_id, lead_id, current_step, status, next_run_at, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.CampaignID, entry.LeadID, entry.CurrentStep,
		entry.Status, entry.NextRunAt, entry.FailureReason,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audience entry: %w", err)
	}

	return nil
}

func (r *CampaignRepository) HasAudienceEntry(ctx context.Context, campaignID, leadID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM campaign_audience WHERE campaign_id = $1 AND lead_id = $2)`

	var exists bool

	err := r.db.QueryRowContext(ctx, query, campaignID, leadID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check audience entry: %w", err)
	}

	return exists, nil
}

func (r *CampaignRepository) UpdateAudienceEntry(ctx context.Context, entry *models.AudienceEntry) error {
	entry.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE campaign_audience
		SET current_step = $2, status = $3, next_run_at = $4,
		    failure_reason = $5, updated_at = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.CurrentStep, entry.Status, entry.NextRunAt,
		entry.FailureReason, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update audience entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update audience entry: %w", err)
	}

	if affected == 0 {
		return persistence.ErrAudienceEntryNotFound
	}

	return nil
}

func (r *CampaignRepository) CountActiveAudience(ctx context.Context, campaignID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM campaign_audience
		WHERE campaign_id = $1 AND status NOT IN ($2, $3)
	`

	var count int

	err := r.db.QueryRowContext(ctx, query, campaignID,
		models.AudienceStatusCompleted, models.AudienceStatusFailed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active audience: %w", err)
	}

	return count, nil
}

// DueAudience matches every non-terminal status: entries left active after a
// message step are due again on the next poll.
func (r *CampaignRepository) DueAudience(ctx context.Context, now time.Time) ([]*models.AudienceEntry, error) {
	query := `
		SELECT id, campaign_id, lead_id, current_step, status, next_run_at,
		       failure_reason, created_at, updated_at
		FROM campaign_audience
		WHERE status NOT IN ($1, $2) AND next_run_at <= $3
		ORDER BY next_run_at
	`

	rows, err := r.db.QueryContext(ctx, query,
		models.AudienceStatusCompleted, models.AudienceStatusFailed, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due audience: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.AudienceEntry, 0)

	for rows.Next() {
		entry := &models.AudienceEntry{}

		err := rows.Scan(
			&entry.ID, &entry.CampaignID, &entry.LeadID, &entry.CurrentStep,
			&entry.Status, &entry.NextRunAt, &entry.FailureReason,
			&entry.CreatedAt, &entry.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audience entry: %w", err)
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// ClaimDueAudience performs the atomic conditional update that guards
// against double sends: only one concurrent poller observes an affected row.
// The cleared next_run_at keeps the entry out of DueAudience until the step
// runner schedules its next wake.
func (r *CampaignRepository) ClaimDueAudience(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE campaign_audience
		SET status = $3, next_run_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ($4, $5) AND next_run_at <= $2
	`

	result, err := r.db.ExecContext(ctx, query, id, now,
		models.AudienceStatusActive,
		models.AudienceStatusCompleted, models.AudienceStatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to claim audience entry %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim audience entry %s: %w", id, err)
	}

	return affected == 1, nil
}
