package models

// Branch handles a condition node's outgoing edges may carry. Edges without
// a handle are the unlabeled default output.
const (
	HandleYes = "yes"
	HandleNo  = "no"
)

// Edge connects two nodes in a workflow graph. SourceHandle distinguishes
// branch outputs from the default output. Slice order within a workflow is
// edge creation order and is the deterministic tie-break when a node has
// multiple unlabeled outgoing edges.
type Edge struct {
	ID           string `json:"id"             validate:"required"`
	SourceNodeID string `json:"source_node_id" validate:"required"`
	TargetNodeID string `json:"target_node_id" validate:"required"`
	SourceHandle string `json:"source_handle,omitempty"`
}
