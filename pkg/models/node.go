// Package models defines the core domain models for node-based lead automation.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// NodeKind is the closed set of node types a workflow graph may contain.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindMessage   NodeKind = "message"
	NodeKindDelay     NodeKind = "delay"
	NodeKindCondition NodeKind = "condition"
)

// Trigger types understood by the trigger matcher.
const (
	TriggerTypeTagAdded    = "tag_added"
	TriggerTypeLeadCreated = "lead_created"
)

// Condition types understood by the evaluator.
const (
	ConditionTypeTag    = "tag"
	ConditionTypeStatus = "status"
)

// TriggerData configures a trigger node. TriggerValue is empty for trigger
// types that match any payload (lead_created).
type TriggerData struct {
	TriggerType  string `json:"trigger_type"  validate:"required"`
	TriggerValue string `json:"trigger_value"`
}

// MessageData configures a message node. Content may carry {{placeholder}}
// references resolved against the lead at send time.
type MessageData struct {
	Content string `json:"content" validate:"required"`
}

// DelayData configures a delay node. WaitHours is kept as a string because
// graph editors submit it as free text; ParseWaitHours applies the default.
type DelayData struct {
	WaitHours string `json:"wait_hours"`
}

// DefaultWaitHours is used when a delay node carries a missing or
// unparseable wait duration.
const DefaultWaitHours = 1

// ParseWaitHours returns the configured wait in hours, falling back to
// DefaultWaitHours for missing or invalid values.
func (d DelayData) ParseWaitHours() int {
	hours, err := strconv.Atoi(d.WaitHours)
	if err != nil || hours <= 0 {
		return DefaultWaitHours
	}

	return hours
}

// ConditionData configures a condition node.
type ConditionData struct {
	ConditionType  string `json:"condition_type"  validate:"required"`
	ConditionValue string `json:"condition_value"`
}

// Node is one vertex of a workflow graph. Exactly one of the typed payloads
// is set, selected by Kind; the JSON form is a tagged union keyed on "type".
type Node struct {
	ID   string   `json:"id"   validate:"required"`
	Kind NodeKind `json:"type" validate:"required"`

	Trigger   *TriggerData   `json:"trigger,omitempty"`
	Message   *MessageData   `json:"message,omitempty"`
	Delay     *DelayData     `json:"delay,omitempty"`
	Condition *ConditionData `json:"condition,omitempty"`
}

func (n *Node) IsTrigger() bool {
	return n.Kind == NodeKindTrigger
}

// nodeEnvelope is the wire form: a flat data object next to the kind tag.
type nodeEnvelope struct {
	ID   string          `json:"id"`
	Kind NodeKind        `json:"type"`
	Data json.RawMessage `json:"data"`
}

// UnmarshalJSON decodes the tagged union form `{"id":..,"type":..,"data":{..}}`
// into the matching typed payload. Unknown kinds are a decode error.
func (n *Node) UnmarshalJSON(raw []byte) error {
	var env nodeEnvelope

	err := json.Unmarshal(raw, &env)
	if err != nil {
		return err
	}

	n.ID = env.ID
	n.Kind = env.Kind

	data := env.Data
	if len(data) == 0 {
		data = []byte("{}")
	}

	switch env.Kind {
	case NodeKindTrigger:
		n.Trigger = &TriggerData{}

		return json.Unmarshal(data, n.Trigger)
	case NodeKindMessage:
		n.Message = &MessageData{}

		return json.Unmarshal(data, n.Message)
	case NodeKindDelay:
		n.Delay = &DelayData{}

		return json.Unmarshal(data, n.Delay)
	case NodeKindCondition:
		n.Condition = &ConditionData{}

		return json.Unmarshal(data, n.Condition)
	default:
		return fmt.Errorf("unknown node kind %q for node %s", env.Kind, env.ID)
	}
}

// MarshalJSON emits the tagged union form consumed by UnmarshalJSON.
func (n Node) MarshalJSON() ([]byte, error) {
	var payload any

	switch n.Kind {
	case NodeKindTrigger:
		payload = n.Trigger
	case NodeKindMessage:
		payload = n.Message
	case NodeKindDelay:
		payload = n.Delay
	case NodeKindCondition:
		payload = n.Condition
	default:
		return nil, fmt.Errorf("unknown node kind %q for node %s", n.Kind, n.ID)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(nodeEnvelope{ID: n.ID, Kind: n.Kind, Data: data})
}
