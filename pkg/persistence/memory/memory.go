// Package memory provides an in-memory persistence implementation for tests
// and local development. It honors the same claim semantics as the SQL
// implementation so concurrency behavior can be exercised without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/leadflow/pkg/models"
	"github.com/leadflow/leadflow/pkg/persistence"
)

type Persistence struct {
	workflows  *workflowRepository
	executions *executionRepository
	leads      *leadRepository
	campaigns  *campaignRepository
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows:  &workflowRepository{items: make(map[string]*models.Workflow)},
		executions: &executionRepository{items: make(map[string]*models.Execution)},
		leads: &leadRepository{
			items:    make(map[string]*models.Lead),
			messages: make(map[string][]*models.LeadMessage),
		},
		campaigns: &campaignRepository{
			items:    make(map[string]*models.Campaign),
			audience: make(map[string]*models.AudienceEntry),
		},
	}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) LeadRepository() persistence.LeadRepository {
	return p.leads
}

func (p *Persistence) CampaignRepository() persistence.CampaignRepository {
	return p.campaigns
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// workflowRepository

type workflowRepository struct {
	mu    sync.RWMutex
	items map[string]*models.Workflow
}

func (r *workflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflow, ok := r.items[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	return workflow, nil
}

func (r *workflowRepository) List(_ context.Context) ([]*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(r.items))
	for _, workflow := range r.items {
		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

func (r *workflowRepository) Published(_ context.Context) ([]*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflows := make([]*models.Workflow, 0)

	for _, workflow := range r.items {
		if workflow.Status == models.WorkflowStatusPublished {
			workflows = append(workflows, workflow)
		}
	}

	return workflows, nil
}

func (r *workflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now
	r.items[workflow.ID] = workflow

	return nil
}

// executionRepository

type executionRepository struct {
	mu    sync.Mutex
	items map[string]*models.Execution
}

func (r *executionRepository) Create(_ context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}

	execution.CreatedAt = now
	execution.UpdatedAt = now

	stored := *execution
	r.items[execution.ID] = &stored

	return nil
}

func (r *executionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.items[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	copied := *execution

	return &copied, nil
}

func (r *executionRepository) Update(_ context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.items[execution.ID]
	if !ok {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	execution.UpdatedAt = time.Now().UTC()

	stored := *execution
	r.items[execution.ID] = &stored

	return nil
}

func (r *executionRepository) ClaimWaiting(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.items[id]
	if !ok {
		return false, persistence.NewExecutionError("ClaimWaiting", id, persistence.ErrExecutionNotFound)
	}

	if execution.Status != models.ExecutionStatusWaiting {
		return false, nil
	}

	if execution.NextRunAt == nil || execution.NextRunAt.After(now) {
		return false, nil
	}

	execution.Status = models.ExecutionStatusPending
	execution.NextRunAt = nil
	execution.UpdatedAt = time.Now().UTC()

	return true, nil
}

func (r *executionRepository) DueExecutions(_ context.Context, now time.Time) ([]*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]*models.Execution, 0)

	for _, execution := range r.items {
		if execution.Status != models.ExecutionStatusWaiting {
			continue
		}

		if execution.NextRunAt != nil && !execution.NextRunAt.After(now) {
			copied := *execution
			due = append(due, &copied)
		}
	}

	return due, nil
}

func (r *executionRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	executions := make([]*models.Execution, 0)

	for _, execution := range r.items {
		if execution.WorkflowID == workflowID {
			copied := *execution
			executions = append(executions, &copied)
		}
	}

	return executions, nil
}

func (r *executionRepository) ListByStatus(_ context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	executions := make([]*models.Execution, 0)

	for _, execution := range r.items {
		if execution.Status == status {
			copied := *execution
			executions = append(executions, &copied)
		}
	}

	return executions, nil
}

// leadRepository

type leadRepository struct {
	mu       sync.RWMutex
	items    map[string]*models.Lead
	messages map[string][]*models.LeadMessage
}

func (r *leadRepository) GetByID(_ context.Context, id string) (*models.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.items[id]
	if !ok {
		return nil, persistence.ErrLeadNotFound
	}

	return lead, nil
}

func (r *leadRepository) Save(_ context.Context, lead *models.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}

	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}

	lead.UpdatedAt = now
	r.items[lead.ID] = lead

	return nil
}

func (r *leadRepository) FindForCampaign(_ context.Context, targetFilter string) ([]*models.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	leads := make([]*models.Lead, 0)

	for _, lead := range r.items {
		if lead.StoppedAutomation {
			continue
		}

		if matchesTargetFilter(lead, targetFilter) {
			leads = append(leads, lead)
		}
	}

	return leads, nil
}

func matchesTargetFilter(lead *models.Lead, targetFilter string) bool {
	switch {
	case targetFilter == "" || targetFilter == models.TargetFilterAll:
		return true
	case len(targetFilter) > len(models.TargetFilterTagPrefix) &&
		targetFilter[:len(models.TargetFilterTagPrefix)] == models.TargetFilterTagPrefix:
		wanted := targetFilter[len(models.TargetFilterTagPrefix):]
		for _, tag := range lead.Tags {
			if tag == wanted {
				return true
			}
		}

		return false
	case len(targetFilter) > len(models.TargetFilterStatusPrefix) &&
		targetFilter[:len(models.TargetFilterStatusPrefix)] == models.TargetFilterStatusPrefix:
		return lead.Status == targetFilter[len(models.TargetFilterStatusPrefix):]
	default:
		return false
	}
}

func (r *leadRepository) AddMessage(_ context.Context, leadID, content string, direction models.MessageDirection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.items[leadID]
	if !ok {
		return persistence.ErrLeadNotFound
	}

	r.messages[leadID] = append(r.messages[leadID], &models.LeadMessage{
		ID:        uuid.New().String(),
		LeadID:    leadID,
		Content:   content,
		Direction: direction,
		CreatedAt: time.Now().UTC(),
	})

	return nil
}

// Messages returns the recorded message log for a lead. Test helper.
func (r *leadRepository) Messages(leadID string) []*models.LeadMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.messages[leadID]
}

// MessagesFor exposes a lead's recorded messages for assertions in tests.
func (p *Persistence) MessagesFor(leadID string) []*models.LeadMessage {
	return p.leads.Messages(leadID)
}

// campaignRepository

type campaignRepository struct {
	mu       sync.Mutex
	items    map[string]*models.Campaign
	audience map[string]*models.AudienceEntry
}

func (r *campaignRepository) GetByID(_ context.Context, id string) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, ok := r.items[id]
	if !ok {
		return nil, persistence.ErrCampaignNotFound
	}

	return campaign, nil
}

func (r *campaignRepository) Save(_ context.Context, campaign *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	if campaign.ID == "" {
		campaign.ID = uuid.New().String()
	}

	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = now
	}

	campaign.UpdatedAt = now
	r.items[campaign.ID] = campaign

	return nil
}

func (r *campaignRepository) CreateAudienceEntry(_ context.Context, entry *models.AudienceEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	entry.CreatedAt = now
	entry.UpdatedAt = now

	stored := *entry
	r.audience[entry.ID] = &stored

	return nil
}

func (r *campaignRepository) HasAudienceEntry(_ context.Context, campaignID, leadID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.audience {
		if entry.CampaignID == campaignID && entry.LeadID == leadID {
			return true, nil
		}
	}

	return false, nil
}

func (r *campaignRepository) UpdateAudienceEntry(_ context.Context, entry *models.AudienceEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.audience[entry.ID]
	if !ok {
		return persistence.ErrAudienceEntryNotFound
	}

	entry.UpdatedAt = time.Now().UTC()

	stored := *entry
	r.audience[entry.ID] = &stored

	return nil
}

func (r *campaignRepository) CountActiveAudience(_ context.Context, campaignID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0

	for _, entry := range r.audience {
		if entry.CampaignID == campaignID && !entry.Terminal() {
			count++
		}
	}

	return count, nil
}

func (r *campaignRepository) DueAudience(_ context.Context, now time.Time) ([]*models.AudienceEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]*models.AudienceEntry, 0)

	for _, entry := range r.audience {
		if entry.Terminal() || entry.NextRunAt.IsZero() {
			continue
		}

		if !entry.NextRunAt.After(now) {
			copied := *entry
			due = append(due, &copied)
		}
	}

	return due, nil
}

func (r *campaignRepository) ClaimDueAudience(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.audience[id]
	if !ok {
		return false, persistence.ErrAudienceEntryNotFound
	}

	if entry.Terminal() || entry.NextRunAt.IsZero() || entry.NextRunAt.After(now) {
		return false, nil
	}

	entry.Status = models.AudienceStatusActive
	entry.NextRunAt = time.Time{}
	entry.UpdatedAt = time.Now().UTC()

	return true, nil
}
