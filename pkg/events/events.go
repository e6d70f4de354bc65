// Package events defines event types exchanged between the dispatcher, the
// scheduler and the workers.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "leadflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Lead activity events published by the CRM layer.
	LeadTagAddedEvent EventType = "lead.tag.added"
	LeadCreatedEvent  EventType = "lead.created"
	LeadRepliedEvent  EventType = "lead.replied"

	// Execution lifecycle events.
	ExecutionRequestedEvent EventType = "execution.requested"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"

	// Campaign lifecycle events.
	CampaignStartedEvent  EventType = "campaign.started"
	CampaignFinishedEvent EventType = "campaign.finished"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

// LeadTagAdded signals that a tag was attached to a lead. The dispatcher
// matches it against published workflow trigger nodes.
type LeadTagAdded struct {
	BaseEvent

	LeadID string `json:"lead_id"`
	Tag    string `json:"tag"`
}

func (e LeadTagAdded) GetType() EventType {
	return LeadTagAddedEvent
}

// LeadCreated signals a new lead entering the CRM.
type LeadCreated struct {
	BaseEvent

	LeadID string `json:"lead_id"`
	Source string `json:"source,omitempty"`
}

func (e LeadCreated) GetType() EventType {
	return LeadCreatedEvent
}

// LeadReplied signals an inbound message from a lead.
type LeadReplied struct {
	BaseEvent

	LeadID  string `json:"lead_id"`
	Content string `json:"content"`
}

func (e LeadReplied) GetType() EventType {
	return LeadRepliedEvent
}

// ExecutionRequested asks a worker to run an execution instance. It carries
// only identifiers; workers load current state from persistence.
type ExecutionRequested struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	LeadID      string `json:"lead_id"`
}

func (e ExecutionRequested) GetType() EventType {
	return ExecutionRequestedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	DurationMs  int64  `json:"duration_ms"`
	StepsRun    int    `json:"steps_run"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	NodeID      string `json:"node_id"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// CampaignStarted signals that a campaign's audience was seeded and its
// first cycle is due.
type CampaignStarted struct {
	BaseEvent

	CampaignID   string `json:"campaign_id"`
	AudienceSize int    `json:"audience_size"`
}

func (e CampaignStarted) GetType() EventType {
	return CampaignStartedEvent
}

type CampaignFinished struct {
	BaseEvent

	CampaignID string `json:"campaign_id"`
}

func (e CampaignFinished) GetType() EventType {
	return CampaignFinishedEvent
}
