package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/leadflow/leadflow/pkg/engine"
	"github.com/leadflow/leadflow/pkg/eventbus"
	"github.com/leadflow/leadflow/pkg/events"
	"github.com/leadflow/leadflow/pkg/models"
	"github.com/leadflow/leadflow/pkg/otelhelper"
	"github.com/leadflow/leadflow/pkg/persistence"
)

// WorkerManager subscribes to the event bus and runs executions on a bounded
// goroutine pool. Lead events are routed to the trigger matcher, which in
// turn emits execution requests back onto the bus.
type WorkerManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *engine.Engine
	matcher     *engine.TriggerMatcher
	eventBus    eventbus.EventBus
	pool        *ants.Pool
	tracer      trace.Tracer
}

func NewWorkerManager(
	id string,
	persistence persistence.Persistence,
	eng *engine.Engine,
	matcher *engine.TriggerMatcher,
	eventBus eventbus.EventBus,
	tracer trace.Tracer,
	poolSize int,
	logger *slog.Logger,
) (*WorkerManager, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &WorkerManager{
		id:          id,
		logger:      logger.With("module", "leadflow-worker"),
		persistence: persistence,
		engine:      eng,
		matcher:     matcher,
		eventBus:    eventBus,
		pool:        pool,
		tracer:      tracer,
	}, nil
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager", "worker_id", w.id)

	err := w.matcher.Refresh(ctx)
	if err != nil {
		return err
	}

	err = w.eventBus.Handle(events.ExecutionRequestedEvent, w.handleExecutionRequested)
	if err != nil {
		return err
	}

	err = w.eventBus.Handle(events.LeadTagAddedEvent, w.matcher.HandleEvent)
	if err != nil {
		return err
	}

	err = w.eventBus.Handle(events.LeadCreatedEvent, w.matcher.HandleEvent)
	if err != nil {
		return err
	}

	err = w.eventBus.Handle(events.LeadRepliedEvent, w.handleLeadReplied)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")
	w.pool.Release()

	return nil
}

func (w *WorkerManager) handleExecutionRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.ExecutionRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ExecutionRequested")

		return nil
	}

	logger := w.logger.With(
		"execution_id", requested.ExecutionID,
		"workflow_id", requested.WorkflowID,
		"lead_id", requested.LeadID,
	)
	logger.InfoContext(ctx, "Processing execution request")

	return w.pool.Submit(func() {
		runCtx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.execution run",
			attribute.String(otelhelper.ExecutionIDKey, requested.ExecutionID),
			attribute.String(otelhelper.WorkflowIDKey, requested.WorkflowID),
			attribute.String(otelhelper.LeadIDKey, requested.LeadID),
			attribute.String(otelhelper.WorkerIDKey, w.id),
		)
		defer span.End()

		err := w.engine.Run(runCtx, requested.ExecutionID)
		if err != nil {
			otelhelper.SetError(span, err)
			logger.ErrorContext(runCtx, "Execution run failed", "error", err)
		}
	})
}

func (w *WorkerManager) handleLeadReplied(ctx context.Context, event any) error {
	replied, ok := event.(*events.LeadReplied)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for LeadReplied")

		return nil
	}

	w.logger.InfoContext(ctx, "Recording inbound message", "lead_id", replied.LeadID)

	err := w.persistence.LeadRepository().AddMessage(ctx, replied.LeadID, replied.Content, models.MessageDirectionIn)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to record inbound message",
			"lead_id", replied.LeadID, "error", err)

		return err
	}

	return nil
}
