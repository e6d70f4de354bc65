package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/leadflow/leadflow/pkg/eventbus"
	"github.com/leadflow/leadflow/pkg/events"
	"github.com/leadflow/leadflow/pkg/models"
	"github.com/leadflow/leadflow/pkg/persistence"
)

type triggerKey struct {
	triggerType string
	value       string
}

// TriggerMatcher starts executions when lead events match published trigger
// nodes. Trigger nodes are indexed by (triggerType, normalized value) so a
// tag event is a map lookup, not a scan over every workflow.
type TriggerMatcher struct {
	persistence persistence.Persistence
	engine      *Engine
	publisher   eventbus.EventPublisher
	logger      *slog.Logger

	mu    sync.RWMutex
	index map[triggerKey][]string
}

func NewTriggerMatcher(
	persistence persistence.Persistence,
	engine *Engine,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *TriggerMatcher {
	return &TriggerMatcher{
		persistence: persistence,
		engine:      engine,
		publisher:   publisher,
		logger:      logger.With("module", "trigger_matcher"),
		index:       make(map[triggerKey][]string),
	}
}

// NormalizeTriggerValue trims and lowercases a trigger value. Matching is
// exact equality on the normalized form; the permissive substring semantics
// belong to condition nodes only.
func NormalizeTriggerValue(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// Refresh rebuilds the trigger index from the currently published workflows.
// Call it on startup and whenever a workflow is published or unpublished.
func (m *TriggerMatcher) Refresh(ctx context.Context) error {
	workflows, err := m.persistence.WorkflowRepository().Published(ctx)
	if err != nil {
		return fmt.Errorf("failed to load published workflows: %w", err)
	}

	index := make(map[triggerKey][]string)

	for _, workflow := range workflows {
		for _, node := range workflow.Nodes {
			if !node.IsTrigger() {
				continue
			}

			key := triggerKey{triggerType: node.Trigger.TriggerType}

			// lead_created triggers carry no value and match every new lead.
			if node.Trigger.TriggerType == models.TriggerTypeTagAdded {
				key.value = NormalizeTriggerValue(node.Trigger.TriggerValue)
			}

			index[key] = append(index[key], workflow.ID)
		}
	}

	m.mu.Lock()
	m.index = index
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "Trigger index refreshed",
		"workflows", len(workflows), "trigger_keys", len(index))

	return nil
}

// MatchTagAdded starts an execution for every published workflow whose
// tag_added trigger value equals the normalized incoming tag. Returns the
// number of executions started.
func (m *TriggerMatcher) MatchTagAdded(ctx context.Context, leadID, tag string) (int, error) {
	return m.match(ctx, triggerKey{
		triggerType: models.TriggerTypeTagAdded,
		value:       NormalizeTriggerValue(tag),
	}, leadID)
}

// MatchLeadCreated starts an execution for every published workflow with a
// lead_created trigger. These triggers carry no value and match every new
// lead.
func (m *TriggerMatcher) MatchLeadCreated(ctx context.Context, leadID string) (int, error) {
	return m.match(ctx, triggerKey{triggerType: models.TriggerTypeLeadCreated}, leadID)
}

func (m *TriggerMatcher) match(ctx context.Context, key triggerKey, leadID string) (int, error) {
	m.mu.RLock()
	workflowIDs := m.index[key]
	m.mu.RUnlock()

	started := 0

	for _, workflowID := range workflowIDs {
		execution, err := m.engine.Start(ctx, workflowID, leadID)
		if err != nil {
			m.logger.ErrorContext(ctx, "Failed to start execution",
				"workflow_id", workflowID, "lead_id", leadID, "error", err)

			continue
		}

		started++

		if m.publisher == nil {
			continue
		}

		err = m.publisher.Publish(ctx, execution.ID, events.ExecutionRequested{
			BaseEvent:   events.NewBaseEvent(events.ExecutionRequestedEvent),
			ExecutionID: execution.ID,
			WorkflowID:  workflowID,
			LeadID:      leadID,
		})
		if err != nil {
			m.logger.ErrorContext(ctx, "Failed to publish execution request",
				"execution_id", execution.ID, "error", err)
		}
	}

	return started, nil
}

// HandleEvent is the event bus entry point for lead activity events.
func (m *TriggerMatcher) HandleEvent(ctx context.Context, event any) error {
	switch typed := event.(type) {
	case *events.LeadTagAdded:
		_, err := m.MatchTagAdded(ctx, typed.LeadID, typed.Tag)

		return err
	case *events.LeadCreated:
		_, err := m.MatchLeadCreated(ctx, typed.LeadID)

		return err
	default:
		return fmt.Errorf("unexpected event type %T", event)
	}
}
