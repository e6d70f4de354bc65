package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/leadflow/pkg/campaign"
	"github.com/leadflow/leadflow/pkg/channel"
	"github.com/leadflow/leadflow/pkg/engine"
	"github.com/leadflow/leadflow/pkg/models"
	"github.com/leadflow/leadflow/pkg/persistence"
	"github.com/leadflow/leadflow/pkg/persistence/memory"
	"github.com/leadflow/leadflow/pkg/registry"
	"github.com/leadflow/leadflow/pkg/web"
)

type noopAdapter struct{}

func (noopAdapter) Send(_ context.Context, _, _ string) (*channel.SendResult, error) {
	return &channel.SendResult{MessageID: "msg-1"}, nil
}

func setupTestApp(t *testing.T) (*fiber.App, persistence.Persistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewPersistence()
	adapter := noopAdapter{}

	eng := engine.NewEngine(store, adapter, nil, logger, engine.WithStepPause(0))
	matcher := engine.NewTriggerMatcher(store, eng, nil, logger)
	runner := campaign.NewRunner(store, adapter, nil, logger, campaign.WithSendPause(0))

	handlers := web.NewAPIHandlers(
		store,
		registry.NewRegistry(logger),
		matcher,
		runner,
		validator.New(validator.WithRequiredStructEnabled()),
		logger,
	)

	app := fiber.New()

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Post("/:id/publish", handlers.PublishWorkflow)
	w.Get("/:id/executions", handlers.GetWorkflowExecutions)

	app.Get("/executions", handlers.GetExecutions)
	app.Get("/executions/:id", handlers.GetExecution)

	app.Post("/leads", handlers.CreateLead)
	app.Post("/events/tag-added", handlers.TagAdded)

	c := app.Group("/campaigns")
	c.Post("/", handlers.CreateCampaign)
	c.Get("/:id", handlers.GetCampaign)
	c.Post("/:id/start", handlers.StartCampaign)

	return app, store
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body bytes.Buffer

	if payload != nil {
		if raw, ok := payload.(string); ok {
			body.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&body).Encode(payload))
		}
	}

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, raw
}

func welcomeWorkflowRequest() web.CreateWorkflowRequest {
	return web.CreateWorkflowRequest{
		Name:  "Welcome flow",
		Owner: "growth",
		Nodes: []*models.Node{
			{
				ID:      "n-trigger",
				Kind:    models.NodeKindTrigger,
				Trigger: &models.TriggerData{TriggerType: models.TriggerTypeTagAdded, TriggerValue: "#new"},
			},
			{
				ID:      "n-welcome",
				Kind:    models.NodeKindMessage,
				Message: &models.MessageData{Content: "Hello {{name}}!"},
			},
		},
		Edges: []*models.Edge{
			{ID: "e-1", SourceNodeID: "n-trigger", TargetNodeID: "n-welcome"},
		},
	}
}

func TestCreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name:           "valid graph is saved as draft",
			requestBody:    welcomeWorkflowRequest(),
			expectedStatus: http.StatusCreated,
		},
		{
			name: "graph without a trigger node is rejected",
			requestBody: web.CreateWorkflowRequest{
				Name:  "Broken flow",
				Owner: "growth",
				Nodes: []*models.Node{
					{
						ID:      "n-welcome",
						Kind:    models.NodeKindMessage,
						Message: &models.MessageData{Content: "Hello!"},
					},
				},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing name is rejected",
			requestBody: web.CreateWorkflowRequest{
				Owner: "growth",
				Nodes: welcomeWorkflowRequest().Nodes,
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON is rejected",
			requestBody:    "not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp, body := doJSON(t, app, http.MethodPost, "/workflows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus != http.StatusCreated {
				return
			}

			var workflow models.Workflow

			require.NoError(t, json.Unmarshal(body, &workflow))
			assert.NotEmpty(t, workflow.ID)
			assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)
			assert.Len(t, workflow.Nodes, 2)
		})
	}
}

func TestTagAddedStartsExecutionForPublishedWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/workflows", welcomeWorkflowRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var workflow models.Workflow

	require.NoError(t, json.Unmarshal(body, &workflow))

	resp, _ = doJSON(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/publish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodPost, "/leads", web.CreateLeadRequest{
		Phone: "+5511999990000",
		Name:  "Ana",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Lead              models.Lead `json:"lead"`
		ExecutionsStarted int         `json:"executions_started"`
	}

	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.Lead.ID)
	// The only published workflow listens for tag_added, not lead_created.
	assert.Equal(t, 0, created.ExecutionsStarted)

	resp, body = doJSON(t, app, http.MethodPost, "/events/tag-added", web.TagAddedRequest{
		LeadID: created.Lead.ID,
		Tag:    " #New ",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tagged struct {
		ExecutionsStarted int `json:"executions_started"`
	}

	require.NoError(t, json.Unmarshal(body, &tagged))
	assert.Equal(t, 1, tagged.ExecutionsStarted)

	resp, body = doJSON(t, app, http.MethodGet, "/executions?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed struct {
		Executions []*models.Execution `json:"executions"`
	}

	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Executions, 1)
	assert.Equal(t, workflow.ID, listed.Executions[0].WorkflowID)
	assert.Equal(t, created.Lead.ID, listed.Executions[0].LeadID)

	resp, body = doJSON(t, app, http.MethodGet, "/workflows/"+workflow.ID+"/executions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Len(t, listed.Executions, 1)
}

func TestGetExecutionsRequiresKnownStatus(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/executions", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/executions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCampaignLifecycle(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/leads", web.CreateLeadRequest{
		Phone: "+5511988880000",
		Name:  "Bruno",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodPost, "/campaigns", web.CreateCampaignRequest{
		Name:         "August reactivation",
		TargetFilter: models.TargetFilterAll,
		Steps: []*models.CampaignStep{
			{Order: 1, Kind: models.StepKindWhatsApp, Content: "Hi {{name}}, we miss you"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Campaign

	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, models.CampaignStatusDraft, created.Status)

	resp, body = doJSON(t, app, http.MethodPost, "/campaigns/"+created.ID+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var started struct {
		AudienceSize int `json:"audience_size"`
	}

	require.NoError(t, json.Unmarshal(body, &started))
	assert.Equal(t, 1, started.AudienceSize)

	resp, body = doJSON(t, app, http.MethodGet, "/campaigns/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Campaign

	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, models.CampaignStatusRunning, fetched.Status)

	resp, _ = doJSON(t, app, http.MethodPost, "/campaigns/missing/start", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
