package models

import "time"

// ExecutionStatus is the lifecycle status of a conversation's execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionCompleted ExecutionStatus = "completed"
)

// ExecutionState is the per-conversation pointer into a compiled workflow. It
// belongs to the conversation aggregate, not to the workflow.
type ExecutionState struct {
	WorkflowID    string          `json:"workflowId"`
	CurrentNodeID string          `json:"currentNodeId"`
	Variables     map[string]any  `json:"variables"`
	Status        ExecutionStatus `json:"status"`
	StartedAt     time.Time       `json:"startedAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Clone returns a copy whose variables map can be mutated independently.
func (s *ExecutionState) Clone() *ExecutionState {
	if s == nil {
		return nil
	}

	c := *s
	c.Variables = make(map[string]any, len(s.Variables))

	for k, v := range s.Variables {
		c.Variables[k] = v
	}

	return &c
}
