package engine

import (
	"github.com/leadflow/leadflow/pkg/models"
)

// ResolveNext finds the node to execute after nodeID given an evaluation
// outcome port. A non-empty port selects the edge with the matching source
// handle; no matching edge means the branch ends there. An empty port
// follows the single unlabeled edge; more than one unlabeled edge is a
// configuration error rather than a storage-order lottery.
//
// Returns "" when the execution should complete.
func ResolveNext(workflow *models.Workflow, nodeID, port string) (string, error) {
	if port != "" {
		for _, edge := range workflow.Edges {
			if edge.SourceNodeID == nodeID && edge.SourceHandle == port {
				return edge.TargetNodeID, nil
			}
		}

		return "", nil
	}

	next := ""

	for _, edge := range workflow.Edges {
		if edge.SourceNodeID != nodeID || edge.SourceHandle != "" {
			continue
		}

		if next != "" {
			return "", &ValidationError{
				WorkflowID: workflow.ID,
				NodeID:     nodeID,
				Err:        ErrAmbiguousEdges,
			}
		}

		next = edge.TargetNodeID
	}

	return next, nil
}
