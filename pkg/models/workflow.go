package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"     // Editable, not executable
	WorkflowStatusPublished WorkflowStatus = "published" // Executable by the engine
	WorkflowStatusArchived  WorkflowStatus = "archived"  // Historical, not executable
)

// Workflow is a node-and-edge graph describing a multi-step automation.
// Once an execution references a workflow its graph is treated as immutable;
// edits go through a new draft.
type Workflow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"   validate:"required,min=3"`
	Status    WorkflowStatus `json:"status" validate:"required"`
	Nodes     []*Node        `json:"nodes"`
	Edges     []*Edge        `json:"edges"`
	Owner     string         `json:"owner"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TriggerNode returns the workflow's entry node, or nil when the graph has
// no trigger node (a malformed graph).
func (w *Workflow) TriggerNode() *Node {
	for _, node := range w.Nodes {
		if node.IsTrigger() {
			return node
		}
	}

	return nil
}

// NodeByID returns the node with the given ID, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}
