// Package registry validates workflow graphs before they are saved or
// published: node payloads against per-kind JSON Schemas, plus structural
// graph rules.
package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/leadflow/leadflow/pkg/models"
)

// nodeSchemas holds one JSON Schema per node kind, applied to the node's
// data payload.
var nodeSchemas = map[models.NodeKind]map[string]any{
	models.NodeKindTrigger: {
		"type": "object",
		"properties": map[string]any{
			"trigger_type": map[string]any{
				"type": "string",
				"enum": []any{models.TriggerTypeTagAdded, models.TriggerTypeLeadCreated},
			},
			"trigger_value": map[string]any{"type": "string"},
		},
		"required": []any{"trigger_type"},
	},
	models.NodeKindMessage: {
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{"type": "string", "minLength": 1},
		},
		"required": []any{"content"},
	},
	models.NodeKindDelay: {
		"type": "object",
		"properties": map[string]any{
			"wait_hours": map[string]any{"type": "string"},
		},
	},
	models.NodeKindCondition: {
		"type": "object",
		"properties": map[string]any{
			"condition_type": map[string]any{
				"type": "string",
				"enum": []any{models.ConditionTypeTag, models.ConditionTypeStatus},
			},
			"condition_value": map[string]any{"type": "string"},
		},
		"required": []any{"condition_type"},
	},
}

type Registry struct {
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger.With("module", "registry")}
}

// ValidateNode checks a node's payload against the schema for its kind.
func (r *Registry) ValidateNode(node *models.Node) error {
	schema, ok := nodeSchemas[node.Kind]
	if !ok {
		return fmt.Errorf("node %s: unknown node kind %q", node.ID, node.Kind)
	}

	data, err := nodePayload(node)
	if err != nil {
		return err
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("node %s: schema validation failed: %w", node.ID, err)
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("node %s: %s", node.ID, strings.Join(descriptions, "; "))
	}

	return nil
}

// ValidateWorkflow checks every node payload and the structural rules the
// engine depends on: exactly one trigger node, edges referencing existing
// nodes, unique node IDs and at most one unlabeled outgoing edge per node.
func (r *Registry) ValidateWorkflow(workflow *models.Workflow) error {
	triggers := 0
	nodeIDs := make(map[string]bool, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		if nodeIDs[node.ID] {
			return fmt.Errorf("duplicate node ID %q", node.ID)
		}

		nodeIDs[node.ID] = true

		if node.IsTrigger() {
			triggers++
		}

		err := r.ValidateNode(node)
		if err != nil {
			return err
		}
	}

	if triggers != 1 {
		return fmt.Errorf("workflow must have exactly one trigger node, found %d", triggers)
	}

	defaultEdges := make(map[string]int)

	for _, edge := range workflow.Edges {
		if !nodeIDs[edge.SourceNodeID] {
			return fmt.Errorf("edge %s references unknown source node %q", edge.ID, edge.SourceNodeID)
		}

		if !nodeIDs[edge.TargetNodeID] {
			return fmt.Errorf("edge %s references unknown target node %q", edge.ID, edge.TargetNodeID)
		}

		if edge.SourceHandle == "" {
			defaultEdges[edge.SourceNodeID]++
			if defaultEdges[edge.SourceNodeID] > 1 {
				return fmt.Errorf("node %s has multiple unlabeled outgoing edges", edge.SourceNodeID)
			}
		}
	}

	return nil
}

func nodePayload(node *models.Node) (map[string]any, error) {
	switch {
	case node.Kind == models.NodeKindTrigger && node.Trigger == nil,
		node.Kind == models.NodeKindMessage && node.Message == nil,
		node.Kind == models.NodeKindDelay && node.Delay == nil,
		node.Kind == models.NodeKindCondition && node.Condition == nil:
		return nil, fmt.Errorf("node %s: missing %s data", node.ID, node.Kind)
	}

	switch node.Kind {
	case models.NodeKindTrigger:
		return map[string]any{
			"trigger_type":  node.Trigger.TriggerType,
			"trigger_value": node.Trigger.TriggerValue,
		}, nil
	case models.NodeKindMessage:
		return map[string]any{"content": node.Message.Content}, nil
	case models.NodeKindDelay:
		return map[string]any{"wait_hours": node.Delay.WaitHours}, nil
	case models.NodeKindCondition:
		return map[string]any{
			"condition_type":  node.Condition.ConditionType,
			"condition_value": node.Condition.ConditionValue,
		}, nil
	default:
		return nil, fmt.Errorf("node %s: unknown node kind %q", node.ID, node.Kind)
	}
}
