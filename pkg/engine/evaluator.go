package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadflow/leadflow/pkg/channel"
	"github.com/leadflow/leadflow/pkg/models"
	"github.com/leadflow/leadflow/pkg/persistence"
	"github.com/leadflow/leadflow/pkg/template"
)

// Outcome is the result of evaluating one node. Port selects the outgoing
// edge ("" for the default output, "yes"/"no" for condition branches). Wait
// signals that the execution must suspend for WaitHours before the next node.
type Outcome struct {
	Port      string
	Wait      bool
	WaitHours int
}

// Evaluator evaluates a single node against current lead state. Message
// nodes are the only kind with side effects: one outbound send and one
// conversation log entry per evaluation.
type Evaluator struct {
	channel channel.Adapter
	leads   persistence.LeadRepository
	logger  *slog.Logger
}

func NewEvaluator(adapter channel.Adapter, leads persistence.LeadRepository, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		channel: adapter,
		leads:   leads,
		logger:  logger.With("module", "evaluator"),
	}
}

func (ev *Evaluator) Evaluate(ctx context.Context, node *models.Node, lead *models.Lead) (*Outcome, error) {
	switch node.Kind {
	case models.NodeKindTrigger:
		// Entry point only, pass-through.
		return &Outcome{}, nil
	case models.NodeKindMessage:
		return ev.evaluateMessage(ctx, node, lead)
	case models.NodeKindDelay:
		return &Outcome{Wait: true, WaitHours: node.Delay.ParseWaitHours()}, nil
	case models.NodeKindCondition:
		return ev.evaluateCondition(node, lead), nil
	default:
		return nil, fmt.Errorf("unknown node kind %q for node %s", node.Kind, node.ID)
	}
}

func (ev *Evaluator) evaluateMessage(ctx context.Context, node *models.Node, lead *models.Lead) (*Outcome, error) {
	text := template.RenderForLead(node.Message.Content, lead)

	result, err := ev.channel.Send(ctx, lead.Phone, text)
	if err != nil {
		return nil, err
	}

	ev.logger.InfoContext(ctx, "Message sent",
		"node_id", node.ID,
		"lead_id", lead.ID,
		"message_id", result.MessageID)

	err = ev.leads.AddMessage(ctx, lead.ID, text, models.MessageDirectionOut)
	if err != nil {
		return nil, fmt.Errorf("failed to record outbound message: %w", err)
	}

	return &Outcome{}, nil
}

// evaluateCondition branches on lead state. Tag conditions match when any of
// the lead's tags contains the configured value as a substring; status
// conditions require exact equality. Unknown condition types fall through to
// the "no" branch.
func (ev *Evaluator) evaluateCondition(node *models.Node, lead *models.Lead) *Outcome {
	matched := false

	switch node.Condition.ConditionType {
	case models.ConditionTypeTag:
		for _, tag := range lead.Tags {
			if strings.Contains(tag, node.Condition.ConditionValue) {
				matched = true

				break
			}
		}
	case models.ConditionTypeStatus:
		matched = lead.Status == node.Condition.ConditionValue
	}

	if matched {
		return &Outcome{Port: models.HandleYes}
	}

	return &Outcome{Port: models.HandleNo}
}
