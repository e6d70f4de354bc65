// Package persistence provides the data storage abstraction layer for
// workflows, executions, leads and campaigns.
package persistence

import (
	"context"
	"time"

	"github.com/leadflow/leadflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	LeadRepository() LeadRepository
	CampaignRepository() CampaignRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow graphs. Edge slice order is creation
// order and must be preserved by implementations.
type WorkflowRepository interface {
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	List(ctx context.Context) ([]*models.Workflow, error)
	Published(ctx context.Context) ([]*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
}

// ExecutionRepository stores execution instances. Rows are never deleted.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	Update(ctx context.Context, execution *models.Execution) error

	// ClaimWaiting atomically transitions a waiting execution whose
	// next_run_at has passed into pending, returning false when another
	// worker already claimed it. This is the guard that makes concurrent
	// pollers safe.
	ClaimWaiting(ctx context.Context, id string, now time.Time) (bool, error)

	DueExecutions(ctx context.Context, now time.Time) ([]*models.Execution, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)
	ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error)
}

// LeadRepository exposes the lead fields the engine reads and the message
// log it appends to. Lead lifecycle is owned by the CRM layer.
type LeadRepository interface {
	GetByID(ctx context.Context, id string) (*models.Lead, error)
	Save(ctx context.Context, lead *models.Lead) error

	// FindForCampaign returns leads matching a campaign target filter
	// (ALL / TAG:x / STATUS:y), excluding leads that opted out.
	FindForCampaign(ctx context.Context, targetFilter string) ([]*models.Lead, error)

	AddMessage(ctx context.Context, leadID, content string, direction models.MessageDirection) error
}

// CampaignRepository stores campaigns, their ordered step lists and the
// per-lead audience rows.
type CampaignRepository interface {
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	Save(ctx context.Context, campaign *models.Campaign) error

	CreateAudienceEntry(ctx context.Context, entry *models.AudienceEntry) error
	HasAudienceEntry(ctx context.Context, campaignID, leadID string) (bool, error)
	UpdateAudienceEntry(ctx context.Context, entry *models.AudienceEntry) error

	// DueAudience returns non-terminal entries whose next_run_at has
	// passed, regardless of which intermediate state they are in.
	DueAudience(ctx context.Context, now time.Time) ([]*models.AudienceEntry, error)

	// ClaimDueAudience atomically takes ownership of a due audience entry,
	// clearing its wake time so no concurrent poller processes the same
	// step. Returns false when another poller already claimed it. The
	// campaign-side counterpart of ExecutionRepository.ClaimWaiting.
	ClaimDueAudience(ctx context.Context, id string, now time.Time) (bool, error)

	// CountActiveAudience counts audience entries that have not reached a
	// terminal state, used to detect when a campaign is done.
	CountActiveAudience(ctx context.Context, campaignID string) (int, error)
}
