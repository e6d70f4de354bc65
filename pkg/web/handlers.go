// Package web provides the HTTP API: workflow and campaign management plus
// the inbound lead-event endpoints that feed the trigger matcher.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/leadflow/leadflow/pkg/campaign"
	"github.com/leadflow/leadflow/pkg/engine"
	"github.com/leadflow/leadflow/pkg/models"
	"github.com/leadflow/leadflow/pkg/persistence"
	"github.com/leadflow/leadflow/pkg/registry"
)

type APIHandlers struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	matcher     *engine.TriggerMatcher
	runner      *campaign.Runner
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	persistence persistence.Persistence,
	registry *registry.Registry,
	matcher *engine.TriggerMatcher,
	runner *campaign.Runner,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		persistence: persistence,
		registry:    registry,
		matcher:     matcher,
		runner:      runner,
		validator:   validator,
		logger:      logger.With("module", "api"),
	}
}

// Workflows

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.WorkflowRepository().List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.persistence.WorkflowRepository().GetByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := &models.Workflow{
		Name:   req.Name,
		Owner:  req.Owner,
		Status: models.WorkflowStatusDraft,
		Nodes:  req.Nodes,
		Edges:  req.Edges,
	}

	if err := h.registry.ValidateWorkflow(workflow); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.WorkflowRepository().Save(c.Context(), workflow); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) PublishWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.persistence.WorkflowRepository().GetByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	if workflow.Status == models.WorkflowStatusArchived {
		return conflict(c, "archived workflows cannot be published")
	}

	if err := h.registry.ValidateWorkflow(workflow); err != nil {
		return badRequest(c, err.Error())
	}

	workflow.Status = models.WorkflowStatusPublished

	if err := h.persistence.WorkflowRepository().Save(c.Context(), workflow); err != nil {
		return internalError(c, err)
	}

	// Published triggers become matchable immediately.
	if err := h.matcher.Refresh(c.Context()); err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to refresh trigger index", "error", err)
	}

	return c.JSON(workflow)
}

// Executions

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	executions, err := h.persistence.ExecutionRepository().ListByWorkflow(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	status := models.ExecutionStatus(c.Query("status"))

	switch status {
	case models.ExecutionStatusPending, models.ExecutionStatusWaiting,
		models.ExecutionStatusCompleted, models.ExecutionStatusFailed:
	default:
		return badRequest(c, "status must be one of pending, waiting, completed, failed")
	}

	executions, err := h.persistence.ExecutionRepository().ListByStatus(c.Context(), status)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.persistence.ExecutionRepository().GetByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(execution)
}

// Leads and lead events

func (h *APIHandlers) CreateLead(c fiber.Ctx) error {
	var req CreateLeadRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	lead := &models.Lead{
		Phone:  req.Phone,
		Name:   req.Name,
		Tags:   req.Tags,
		Status: req.Status,
	}

	if err := h.persistence.LeadRepository().Save(c.Context(), lead); err != nil {
		return internalError(c, err)
	}

	started, err := h.matcher.MatchLeadCreated(c.Context(), lead.ID)
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to match lead_created triggers",
			"lead_id", lead.ID, "error", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"lead":               lead,
		"executions_started": started,
	})
}

func (h *APIHandlers) TagAdded(c fiber.Ctx) error {
	var req TagAddedRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	lead, err := h.persistence.LeadRepository().GetByID(c.Context(), req.LeadID)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	if !hasTag(lead, req.Tag) {
		lead.Tags = append(lead.Tags, req.Tag)

		if err := h.persistence.LeadRepository().Save(c.Context(), lead); err != nil {
			return internalError(c, err)
		}
	}

	started, err := h.matcher.MatchTagAdded(c.Context(), req.LeadID, req.Tag)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"executions_started": started})
}

func hasTag(lead *models.Lead, tag string) bool {
	for _, existing := range lead.Tags {
		if existing == tag {
			return true
		}
	}

	return false
}

// Campaigns

func (h *APIHandlers) CreateCampaign(c fiber.Ctx) error {
	var req CreateCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created := &models.Campaign{
		Name:         req.Name,
		TargetFilter: req.TargetFilter,
		Status:       models.CampaignStatusDraft,
		Steps:        req.Steps,
	}

	if err := h.persistence.CampaignRepository().Save(c.Context(), created); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetCampaign(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Campaign ID is required")
	}

	found, err := h.persistence.CampaignRepository().GetByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(found)
}

func (h *APIHandlers) StartCampaign(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Campaign ID is required")
	}

	seeded, err := h.runner.Start(c.Context(), id)
	if err != nil {
		if persistence.IsCampaignNotFound(err) {
			return notFound(c, "campaign not found")
		}

		return conflict(c, err.Error())
	}

	return c.JSON(fiber.Map{"audience_size": seeded})
}

// Health

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}
