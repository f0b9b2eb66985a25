// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionStateNotFound indicates a conversation has no execution in progress.
	ErrExecutionStateNotFound = errors.New("execution state not found")

	// ErrConversationLocked indicates another process holds the conversation lock.
	ErrConversationLocked = errors.New("conversation locked")

	// ErrInvalidDocument indicates a stored document could not be decoded.
	ErrInvalidDocument = errors.New("invalid workflow document")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	CreatorID  string
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	target := e.WorkflowID
	if e.CreatorID != "" {
		target = fmt.Sprintf("%s/%s", e.CreatorID, e.WorkflowID)
	}

	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, target, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, creatorID, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		CreatorID:  creatorID,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// ExecutionStateError wraps execution state errors with the conversation id.
type ExecutionStateError struct {
	Op             string
	ConversationID string
	Err            error
}

func (e *ExecutionStateError) Error() string {
	return fmt.Sprintf("%s operation failed for conversation %s: %v", e.Op, e.ConversationID, e.Err)
}

func (e *ExecutionStateError) Unwrap() error {
	return e.Err
}

func (e *ExecutionStateError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionStateNotFound checks if an error indicates no execution state exists.
func IsExecutionStateNotFound(err error) bool {
	return errors.Is(err, ErrExecutionStateNotFound)
}

// IsConversationLocked checks if an error indicates the conversation is locked.
func IsConversationLocked(err error) bool {
	return errors.Is(err, ErrConversationLocked)
}

// IsInvalidDocument checks if an error indicates a stored document could not be decoded.
func IsInvalidDocument(err error) bool {
	return errors.Is(err, ErrInvalidDocument)
}
