package models

import (
	"strconv"
	"strings"
	"time"
)

// CampaignStatus represents the lifecycle state of a drip campaign.
type CampaignStatus string

const (
	CampaignStatusDraft   CampaignStatus = "draft"
	CampaignStatusRunning CampaignStatus = "running"
	CampaignStatusDone    CampaignStatus = "done"
)

// StepKind is the closed set of campaign step types.
type StepKind string

const (
	StepKindWhatsApp StepKind = "whatsapp"
	StepKindDelay    StepKind = "delay"
)

// CampaignStep is one entry of a campaign's ordered step list. Steps are
// immutable once the campaign starts. Order is 1-based.
type CampaignStep struct {
	Order   int      `json:"order"   validate:"required,min=1"`
	Kind    StepKind `json:"kind"    validate:"required"`
	Content string   `json:"content"`
}

// ParseDelayHours reads the delay duration from a delay step's content,
// falling back to DefaultWaitHours for missing or invalid values.
func (s CampaignStep) ParseDelayHours() int {
	hours, err := strconv.Atoi(strings.TrimSpace(s.Content))
	if err != nil || hours <= 0 {
		return DefaultWaitHours
	}

	return hours
}

// Campaign is a linear drip sequence sent to a filtered audience. The step
// list is the graph engine's simpler sibling: no branching, no suspension
// record beyond the per-lead audience row.
type Campaign struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"          validate:"required,min=3"`
	TargetFilter string          `json:"target_filter" validate:"required"`
	Status       CampaignStatus  `json:"status"`
	Steps        []*CampaignStep `json:"steps"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Target filter prefixes. "ALL" selects every lead; "TAG:x" and "STATUS:y"
// narrow by tag and status respectively.
const (
	TargetFilterAll          = "ALL"
	TargetFilterTagPrefix    = "TAG:"
	TargetFilterStatusPrefix = "STATUS:"
)

// AudienceStatus defines the states of a campaign audience entry.
type AudienceStatus string

const (
	AudienceStatusPending   AudienceStatus = "pending"
	AudienceStatusActive    AudienceStatus = "active"
	AudienceStatusWaiting   AudienceStatus = "waiting"
	AudienceStatusCompleted AudienceStatus = "completed"
	AudienceStatusFailed    AudienceStatus = "failed"
)

// AudienceEntry is the per-lead progress record for a campaign: one row per
// lead per campaign, created when the campaign starts and mutated only by
// the step runner. CurrentStep past the step list length is equivalent to
// completed.
type AudienceEntry struct {
	ID            string         `json:"id"`
	CampaignID    string         `json:"campaign_id"`
	LeadID        string         `json:"lead_id"`
	CurrentStep   int            `json:"current_step"`
	Status        AudienceStatus `json:"status"`
	NextRunAt     time.Time      `json:"next_run_at"`
	FailureReason string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Terminal reports whether the audience entry reached a final state.
func (a *AudienceEntry) Terminal() bool {
	return a.Status == AudienceStatusCompleted || a.Status == AudienceStatusFailed
}
