package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/leadflow/pkg/channel"
	"github.com/leadflow/leadflow/pkg/engine"
	"github.com/leadflow/leadflow/pkg/mocks"
	"github.com/leadflow/leadflow/pkg/models"
	"github.com/leadflow/leadflow/pkg/persistence/memory"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	failWith error
}

func (f *fakeAdapter) Send(_ context.Context, destination, text string) (*channel.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return nil, &channel.SendError{Destination: destination, Err: f.failWith}
	}

	f.sent = append(f.sent, text)

	return &channel.SendResult{MessageID: "msg-1"}, nil
}

func (f *fakeAdapter) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.sent...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func messageNode(id, content string) *models.Node {
	return &models.Node{ID: id, Kind: models.NodeKindMessage, Message: &models.MessageData{Content: content}}
}

func triggerNode(id, triggerType, value string) *models.Node {
	return &models.Node{
		ID:      id,
		Kind:    models.NodeKindTrigger,
		Trigger: &models.TriggerData{TriggerType: triggerType, TriggerValue: value},
	}
}

func delayNode(id, hours string) *models.Node {
	return &models.Node{ID: id, Kind: models.NodeKindDelay, Delay: &models.DelayData{WaitHours: hours}}
}

func conditionNode(id, conditionType, value string) *models.Node {
	return &models.Node{
		ID:        id,
		Kind:      models.NodeKindCondition,
		Condition: &models.ConditionData{ConditionType: conditionType, ConditionValue: value},
	}
}

func edge(id, source, target, handle string) *models.Edge {
	return &models.Edge{ID: id, SourceNodeID: source, TargetNodeID: target, SourceHandle: handle}
}

func saveWorkflow(t *testing.T, store *memory.Persistence, workflow *models.Workflow) {
	t.Helper()
	require.NoError(t, store.WorkflowRepository().Save(t.Context(), workflow))
}

func saveLead(t *testing.T, store *memory.Persistence, lead *models.Lead) {
	t.Helper()
	require.NoError(t, store.LeadRepository().Save(t.Context(), lead))
}

func TestEngineSuspendsOnDelayAndResumesAfterWake(t *testing.T) {
	store := memory.NewPersistence()
	adapter := &fakeAdapter{}

	now := time.Now().UTC()
	clock := func() time.Time { return now }

	eng := engine.NewEngine(store, adapter, nil, testLogger(),
		engine.WithStepPause(0), engine.WithClock(clock))

	saveWorkflow(t, store, &models.Workflow{
		ID:     "wf-1",
		Name:   "welcome flow",
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.Node{
			triggerNode("n-trigger", models.TriggerTypeTagAdded, "#new"),
			messageNode("n-hi", "Hi {{name}}"),
			delayNode("n-delay", "1"),
			messageNode("n-followup", "Follow up"),
		},
		Edges: []*models.Edge{
			edge("e1", "n-trigger", "n-hi", ""),
			edge("e2", "n-hi", "n-delay", ""),
			edge("e3", "n-delay", "n-followup", ""),
		},
	})
	saveLead(t, store, &models.Lead{ID: "lead-1", Phone: "+5511999", Name: "Alice"})

	execution, err := eng.Start(t.Context(), "wf-1", "lead-1")
	require.NoError(t, err)

	require.NoError(t, eng.Run(t.Context(), execution.ID))

	assert.Equal(t, []string{"Hi Alice"}, adapter.Sent())

	stored, err := store.ExecutionRepository().GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaiting, stored.Status)
	// The continuation points at the node after the delay, not the delay.
	assert.Equal(t, "n-followup", stored.CurrentNodeID)
	require.NotNil(t, stored.NextRunAt)
	assert.Equal(t, now.Add(time.Hour), *stored.NextRunAt)

	// Before the wake time the claim fails and nothing happens.
	require.NoError(t, eng.Resume(t.Context(), execution.ID))
	assert.Len(t, adapter.Sent(), 1)

	now = now.Add(2 * time.Hour)

	require.NoError(t, eng.Resume(t.Context(), execution.ID))
	assert.Equal(t, []string{"Hi Alice", "Follow up"}, adapter.Sent())

	stored, err = store.ExecutionRepository().GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Nil(t, stored.NextRunAt)
}

func TestEngineConditionFollowsBranchHandles(t *testing.T) {
	workflow := &models.Workflow{
		ID:     "wf-branch",
		Name:   "status branch",
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.Node{
			triggerNode("n-trigger", models.TriggerTypeTagAdded, "#x"),
			conditionNode("n-cond", models.ConditionTypeStatus, "VIP"),
			messageNode("n-vip", "Welcome VIP"),
			messageNode("n-regular", "Welcome"),
		},
		Edges: []*models.Edge{
			edge("e1", "n-trigger", "n-cond", ""),
			edge("e2", "n-cond", "n-vip", models.HandleYes),
			edge("e3", "n-cond", "n-regular", models.HandleNo),
		},
	}

	cases := []struct {
		name   string
		status string
		want   string
	}{
		{name: "yes branch", status: "VIP", want: "Welcome VIP"},
		{name: "no branch", status: "NEW", want: "Welcome"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.NewPersistence()
			adapter := &fakeAdapter{}
			eng := engine.NewEngine(store, adapter, nil, testLogger(), engine.WithStepPause(0))

			saveWorkflow(t, store, workflow)
			saveLead(t, store, &models.Lead{ID: "lead-1", Phone: "+1", Status: tc.status})

			execution, err := eng.Start(t.Context(), "wf-branch", "lead-1")
			require.NoError(t, err)
			require.NoError(t, eng.Run(t.Context(), execution.ID))

			assert.Equal(t, []string{tc.want}, adapter.Sent())
		})
	}
}

func TestEngineTagConditionMatchesSubstring(t *testing.T) {
	store := memory.NewPersistence()
	adapter := &fakeAdapter{}
	eng := engine.NewEngine(store, adapter, nil, testLogger(), engine.WithStepPause(0))

	saveWorkflow(t, store, &models.Workflow{
		ID:     "wf-tag",
		Name:   "tag branch",
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.Node{
			triggerNode("n-trigger", models.TriggerTypeTagAdded, "#x"),
			conditionNode("n-cond", models.ConditionTypeTag, "VIP"),
			messageNode("n-yes", "gold"),
		},
		Edges: []*models.Edge{
			edge("e1", "n-trigger", "n-cond", ""),
			edge("e2", "n-cond", "n-yes", models.HandleYes),
		},
	})
	saveLead(t, store, &models.Lead{ID: "lead-1", Phone: "+1", Tags: []string{"#VIP-Gold"}})

	execution, err := eng.Start(t.Context(), "wf-tag", "lead-1")
	require.NoError(t, err)
	require.NoError(t, eng.Run(t.Context(), execution.ID))

	assert.Equal(t, []string{"gold"}, adapter.Sent())
}

func TestEngineSendsRenderedMessageToLeadPhone(t *testing.T) {
	store := memory.NewPersistence()

	adapter := &mocks.MockChannelAdapter{}
	adapter.On("Send", mock.Anything, "+5511999", "Oi Alice").
		Return(&channel.SendResult{MessageID: "msg-1"}, nil)

	eng := engine.NewEngine(store, adapter, nil, testLogger(), engine.WithStepPause(0))

	saveWorkflow(t, store, &models.Workflow{
		ID:     "wf-render",
		Name:   "render flow",
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.Node{
			triggerNode("n-trigger", models.TriggerTypeTagAdded, "#x"),
			messageNode("n-msg", "Oi {{name}}"),
		},
		Edges: []*models.Edge{edge("e1", "n-trigger", "n-msg", "")},
	})
	saveLead(t, store, &models.Lead{ID: "lead-1", Phone: "+5511999", Name: "Alice"})

	execution, err := eng.Start(t.Context(), "wf-render", "lead-1")
	require.NoError(t, err)
	require.NoError(t, eng.Run(t.Context(), execution.ID))

	adapter.AssertExpectations(t)
}

func TestEngineSendFailureMarksExecutionFailed(t *testing.T) {
	store := memory.NewPersistence()
	adapter := &fakeAdapter{failWith: errors.New("gateway timeout")}
	eng := engine.NewEngine(store, adapter, nil, testLogger(), engine.WithStepPause(0))

	saveWorkflow(t, store, &models.Workflow{
		ID:     "wf-fail",
		Name:   "failing flow",
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.Node{
			triggerNode("n-trigger", models.TriggerTypeTagAdded, "#x"),
			messageNode("n-msg", "hello"),
		},
		Edges: []*models.Edge{edge("e1", "n-trigger", "n-msg", "")},
	})
	saveLead(t, store, &models.Lead{ID: "lead-1", Phone: "+1"})

	execution, err := eng.Start(t.Context(), "wf-fail", "lead-1")
	require.NoError(t, err)
	require.NoError(t, eng.Run(t.Context(), execution.ID))

	stored, err := store.ExecutionRepository().GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "gateway timeout")
}

func TestEngineOptedOutLeadFailsBeforeAnySend(t *testing.T) {
	store := memory.NewPersistence()
	adapter := &fakeAdapter{}
	eng := engine.NewEngine(store, adapter, nil, testLogger(), engine.WithStepPause(0))

	saveWorkflow(t, store, &models.Workflow{
		ID:     "wf-optout",
		Name:   "opt out flow",
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.Node{
			triggerNode("n-trigger", models.TriggerTypeTagAdded, "#x"),
			messageNode("n-msg", "hello"),
		},
		Edges: []*models.Edge{edge("e1", "n-trigger", "n-msg", "")},
	})
	saveLead(t, store, &models.Lead{ID: "lead-1", Phone: "+1", StoppedAutomation: true})

	execution, err := eng.Start(t.Context(), "wf-optout", "lead-1")
	require.NoError(t, err)
	require.NoError(t, eng.Run(t.Context(), execution.ID))

	stored, err := store.ExecutionRepository().GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Empty(t, adapter.Sent())
}

func TestEngineCyclicGraphHitsStepLimitAndStaysPending(t *testing.T) {
	store := memory.NewPersistence()
	adapter := &fakeAdapter{}
	eng := engine.NewEngine(store, adapter, nil, testLogger(),
		engine.WithStepPause(0), engine.WithMaxSteps(10))

	saveWorkflow(t, store, &models.Workflow{
		ID:     "wf-cycle",
		Name:   "cyclic flow",
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.Node{
			triggerNode("n-a", models.TriggerTypeTagAdded, "#x"),
			conditionNode("n-b", models.ConditionTypeStatus, "never"),
		},
		Edges: []*models.Edge{
			edge("e1", "n-a", "n-b", ""),
			edge("e2", "n-b", "n-a", models.HandleNo),
		},
	})
	saveLead(t, store, &models.Lead{ID: "lead-1", Phone: "+1"})

	execution, err := eng.Start(t.Context(), "wf-cycle", "lead-1")
	require.NoError(t, err)

	err = eng.Run(t.Context(), execution.ID)
	require.ErrorIs(t, err, engine.ErrLoopLimitExceeded)

	stored, err := store.ExecutionRepository().GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, stored.Status)
}

func TestEngineAmbiguousDefaultEdgesIsValidationError(t *testing.T) {
	store := memory.NewPersistence()
	adapter := &fakeAdapter{}
	eng := engine.NewEngine(store, adapter, nil, testLogger(), engine.WithStepPause(0))

	saveWorkflow(t, store, &models.Workflow{
		ID:     "wf-ambiguous",
		Name:   "ambiguous flow",
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.Node{
			triggerNode("n-trigger", models.TriggerTypeTagAdded, "#x"),
			messageNode("n-a", "a"),
			messageNode("n-b", "b"),
		},
		Edges: []*models.Edge{
			edge("e1", "n-trigger", "n-a", ""),
			edge("e2", "n-trigger", "n-b", ""),
		},
	})
	saveLead(t, store, &models.Lead{ID: "lead-1", Phone: "+1"})

	execution, err := eng.Start(t.Context(), "wf-ambiguous", "lead-1")
	require.NoError(t, err)

	err = eng.Run(t.Context(), execution.ID)
	require.ErrorIs(t, err, engine.ErrAmbiguousEdges)

	var validationErr *engine.ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "n-trigger", validationErr.NodeID)
}

func TestEngineDanglingCurrentNodeCompletesBenignly(t *testing.T) {
	store := memory.NewPersistence()
	adapter := &fakeAdapter{}
	eng := engine.NewEngine(store, adapter, nil, testLogger(), engine.WithStepPause(0))

	saveWorkflow(t, store, &models.Workflow{
		ID:     "wf-dangling",
		Name:   "dangling flow",
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.Node{
			triggerNode("n-trigger", models.TriggerTypeTagAdded, "#x"),
		},
		Edges: []*models.Edge{edge("e1", "n-trigger", "n-missing", "")},
	})
	saveLead(t, store, &models.Lead{ID: "lead-1", Phone: "+1"})

	execution, err := eng.Start(t.Context(), "wf-dangling", "lead-1")
	require.NoError(t, err)
	require.NoError(t, eng.Run(t.Context(), execution.ID))

	stored, err := store.ExecutionRepository().GetByID(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
}

func TestEngineStartRequiresTriggerNode(t *testing.T) {
	store := memory.NewPersistence()
	eng := engine.NewEngine(store, &fakeAdapter{}, nil, testLogger())

	saveWorkflow(t, store, &models.Workflow{
		ID:     "wf-no-trigger",
		Name:   "broken flow",
		Status: models.WorkflowStatusPublished,
		Nodes:  []*models.Node{messageNode("n-msg", "hello")},
	})

	_, err := eng.Start(t.Context(), "wf-no-trigger", "lead-1")
	require.ErrorIs(t, err, engine.ErrNoTriggerNode)
}

func TestEngineConcurrentResumeSendsExactlyOnce(t *testing.T) {
	store := memory.NewPersistence()
	adapter := &fakeAdapter{}

	now := time.Now().UTC()
	clock := func() time.Time { return now }

	eng := engine.NewEngine(store, adapter, nil, testLogger(),
		engine.WithStepPause(0), engine.WithClock(clock))

	saveWorkflow(t, store, &models.Workflow{
		ID:     "wf-race",
		Name:   "race flow",
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.Node{
			triggerNode("n-trigger", models.TriggerTypeTagAdded, "#x"),
			delayNode("n-delay", "1"),
			messageNode("n-msg", "once only"),
		},
		Edges: []*models.Edge{
			edge("e1", "n-trigger", "n-delay", ""),
			edge("e2", "n-delay", "n-msg", ""),
		},
	})
	saveLead(t, store, &models.Lead{ID: "lead-1", Phone: "+1"})

	execution, err := eng.Start(t.Context(), "wf-race", "lead-1")
	require.NoError(t, err)
	require.NoError(t, eng.Run(t.Context(), execution.ID))

	now = now.Add(2 * time.Hour)

	var wg sync.WaitGroup

	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, eng.Resume(context.Background(), execution.ID))
		}()
	}

	wg.Wait()

	assert.Equal(t, []string{"once only"}, adapter.Sent())
}
