package engine

import (
	"errors"
	"fmt"
)

// ErrNoTriggerNode marks a workflow graph without an entry point. Such a
// graph can never start an execution.
var ErrNoTriggerNode = errors.New("workflow has no trigger node")

// ErrAmbiguousEdges marks a node with more than one unlabeled outgoing edge.
// This is a graph configuration error, not a runtime race.
var ErrAmbiguousEdges = errors.New("node has multiple unlabeled outgoing edges")

// ErrLoopLimitExceeded marks a run that hit the step bound without
// suspending or completing, which indicates a cyclic or malformed graph.
var ErrLoopLimitExceeded = errors.New("execution step limit exceeded")

// ValidationError wraps graph configuration problems with the workflow and
// node they were found on.
type ValidationError struct {
	WorkflowID string
	NodeID     string
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %s invalid at node %s: %v", e.WorkflowID, e.NodeID, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
