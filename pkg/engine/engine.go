// Package engine drives workflow executions: it evaluates nodes, follows
// edges, suspends on delays and persists every transition.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadflow/leadflow/pkg/channel"
	"github.com/leadflow/leadflow/pkg/eventbus"
	"github.com/leadflow/leadflow/pkg/events"
	"github.com/leadflow/leadflow/pkg/models"
	"github.com/leadflow/leadflow/pkg/persistence"
)

// DefaultMaxSteps bounds synchronous node evaluations per Run invocation.
// It is a safety bound against cyclic graphs, not a business limit.
const DefaultMaxSteps = 50

// DefaultStepPause is the pause between consecutive sends within one run,
// a rate limit against channel anti-spam heuristics.
const DefaultStepPause = time.Second

// Engine is stateless between calls: every Run loads current state from
// persistence and writes each transition back before moving on, so a worker
// restart never loses progress.
type Engine struct {
	persistence persistence.Persistence
	evaluator   *Evaluator
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	maxSteps    int
	stepPause   time.Duration
	now         func() time.Time
}

type Option func(*Engine)

func WithMaxSteps(steps int) Option {
	return func(e *Engine) { e.maxSteps = steps }
}

func WithStepPause(pause time.Duration) Option {
	return func(e *Engine) { e.stepPause = pause }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(
	persistence persistence.Persistence,
	adapter channel.Adapter,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	engine := &Engine{
		persistence: persistence,
		evaluator:   NewEvaluator(adapter, persistence.LeadRepository(), logger),
		publisher:   publisher,
		logger:      logger.With("module", "engine"),
		maxSteps:    DefaultMaxSteps,
		stepPause:   DefaultStepPause,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Start creates a new execution for a workflow and lead, positioned at the
// trigger node. It does not run it; callers dispatch the returned execution
// through the job queue.
func (e *Engine) Start(ctx context.Context, workflowID, leadID string) (*models.Execution, error) {
	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	trigger := workflow.TriggerNode()
	if trigger == nil {
		return nil, &ValidationError{WorkflowID: workflowID, Err: ErrNoTriggerNode}
	}

	execution := &models.Execution{
		WorkflowID:    workflowID,
		LeadID:        leadID,
		CurrentNodeID: trigger.ID,
		Status:        models.ExecutionStatusPending,
	}

	err = e.persistence.ExecutionRepository().Create(ctx, execution)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Execution created",
		"execution_id", execution.ID,
		"workflow_id", workflowID,
		"lead_id", leadID)

	return execution, nil
}

// Run drives an execution from its current node to the next suspension
// point or terminal state. Waiting executions are skipped; they must be
// claimed through Resume first.
func (e *Engine) Run(ctx context.Context, executionID string) error {
	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Terminal() {
		return nil
	}

	if execution.Status == models.ExecutionStatusWaiting {
		e.logger.WarnContext(ctx, "Refusing to run unclaimed waiting execution",
			"execution_id", executionID)

		return nil
	}

	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		return err
	}

	return e.run(ctx, workflow, execution)
}

// Resume claims a due waiting execution and runs it. The claim is an atomic
// conditional update, so of N concurrent pollers exactly one proceeds.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	claimed, err := e.persistence.ExecutionRepository().ClaimWaiting(ctx, executionID, e.now())
	if err != nil {
		return err
	}

	if !claimed {
		return nil
	}

	return e.Run(ctx, executionID)
}

func (e *Engine) run(ctx context.Context, workflow *models.Workflow, execution *models.Execution) error {
	startedAt := e.now()

	for step := 0; step < e.maxSteps; step++ {
		lead, err := e.persistence.LeadRepository().GetByID(ctx, execution.LeadID)
		if err != nil {
			return err
		}

		if lead.StoppedAutomation {
			return e.fail(ctx, execution, "", "lead opted out of automation")
		}

		node := workflow.NodeByID(execution.CurrentNodeID)
		if node == nil {
			// Dangling reference, benign end of flow.
			return e.complete(ctx, execution, startedAt, step)
		}

		outcome, err := e.evaluator.Evaluate(ctx, node, lead)
		if err != nil {
			if channel.IsSendError(err) {
				return e.fail(ctx, execution, node.ID, err.Error())
			}

			return e.fail(ctx, execution, node.ID, fmt.Sprintf("node evaluation failed: %v", err))
		}

		nextNodeID, err := ResolveNext(workflow, node.ID, outcome.Port)
		if err != nil {
			return err
		}

		if outcome.Wait {
			if nextNodeID == "" {
				return e.complete(ctx, execution, startedAt, step)
			}

			return e.suspend(ctx, execution, nextNodeID, outcome.WaitHours)
		}

		if nextNodeID == "" {
			return e.complete(ctx, execution, startedAt, step+1)
		}

		execution.CurrentNodeID = nextNodeID

		err = e.persistence.ExecutionRepository().Update(ctx, execution)
		if err != nil {
			return err
		}

		err = e.pause(ctx)
		if err != nil {
			return err
		}
	}

	// Step bound hit: cyclic or malformed graph. The execution stays
	// pending for operator inspection instead of being dropped.
	e.logger.ErrorContext(ctx, "Execution hit step limit",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"max_steps", e.maxSteps)

	return fmt.Errorf("execution %s: %w", execution.ID, ErrLoopLimitExceeded)
}

// suspend persists the delay as a continuation record: the execution points
// at the node after the delay and carries the wake time.
func (e *Engine) suspend(ctx context.Context, execution *models.Execution, nextNodeID string, waitHours int) error {
	nextRunAt := e.now().Add(time.Duration(waitHours) * time.Hour)

	execution.Status = models.ExecutionStatusWaiting
	execution.CurrentNodeID = nextNodeID
	execution.NextRunAt = &nextRunAt

	err := e.persistence.ExecutionRepository().Update(ctx, execution)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Execution suspended",
		"execution_id", execution.ID,
		"next_run_at", nextRunAt,
		"resume_node_id", nextNodeID)

	return nil
}

func (e *Engine) complete(ctx context.Context, execution *models.Execution, startedAt time.Time, steps int) error {
	execution.Status = models.ExecutionStatusCompleted
	execution.NextRunAt = nil

	err := e.persistence.ExecutionRepository().Update(ctx, execution)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Execution completed",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"steps", steps)

	e.publish(ctx, execution.ID, events.ExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		DurationMs:  e.now().Sub(startedAt).Milliseconds(),
		StepsRun:    steps,
	})

	return nil
}

func (e *Engine) fail(ctx context.Context, execution *models.Execution, nodeID, reason string) error {
	execution.Status = models.ExecutionStatusFailed
	execution.NextRunAt = nil
	execution.FailureReason = reason

	err := e.persistence.ExecutionRepository().Update(ctx, execution)
	if err != nil {
		return err
	}

	e.logger.ErrorContext(ctx, "Execution failed",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"node_id", nodeID,
		"reason", reason)

	e.publish(ctx, execution.ID, events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent),
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		NodeID:      nodeID,
		Error:       reason,
	})

	return nil
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) pause(ctx context.Context) error {
	if e.stepPause <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.stepPause):
		return nil
	}
}
