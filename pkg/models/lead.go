package models

import "time"

// Lead is the subset of the CRM lead record the automation engine reads
// and writes. The full lead lifecycle is owned by the CRM layer.
type Lead struct {
	ID                string    `json:"id"                 validate:"required"`
	Phone             string    `json:"phone"              validate:"required"`
	Name              string    `json:"name"`
	Tags              []string  `json:"tags"`
	Status            string    `json:"status"`
	StoppedAutomation bool      `json:"stopped_automation"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// MessageDirection distinguishes inbound and outbound lead messages.
type MessageDirection string

const (
	MessageDirectionIn  MessageDirection = "in"
	MessageDirectionOut MessageDirection = "out"
)

// LeadMessage is one message recorded on a lead's conversation log.
type LeadMessage struct {
	ID        string           `json:"id"`
	LeadID    string           `json:"lead_id"`
	Content   string           `json:"content"`
	Direction MessageDirection `json:"direction"`
	CreatedAt time.Time        `json:"created_at"`
}
