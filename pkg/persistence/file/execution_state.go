package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

// ExecutionStateRepository stores one JSON file per conversation under {root}/executions.
type ExecutionStateRepository struct {
	root string
}

// NewExecutionStateRepository creates a new execution state repository.
func NewExecutionStateRepository(root string) *ExecutionStateRepository {
	return &ExecutionStateRepository{root: root}
}

func (r *ExecutionStateRepository) path(conversationID string) (string, error) {
	if err := validateSegment("conversation ID", conversationID); err != nil {
		return "", err
	}

	return filepath.Join(r.root, "executions", conversationID+".json"), nil
}

func (r *ExecutionStateRepository) Get(_ context.Context, conversationID string) (*models.ExecutionState, error) {
	filePath, err := r.path(conversationID)
	if err != nil {
		return nil, &persistence.ExecutionStateError{Op: "Get", ConversationID: conversationID, Err: err}
	}

	body, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		if os.IsNotExist(err) {
			err = persistence.ErrExecutionStateNotFound
		}

		return nil, &persistence.ExecutionStateError{Op: "Get", ConversationID: conversationID, Err: err}
	}

	var state models.ExecutionState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, &persistence.ExecutionStateError{Op: "Get", ConversationID: conversationID, Err: fmt.Errorf("failed to unmarshal: %w", err)}
	}

	return &state, nil
}

func (r *ExecutionStateRepository) Save(_ context.Context, conversationID string, state *models.ExecutionState) error {
	filePath, err := r.path(conversationID)
	if err != nil {
		return &persistence.ExecutionStateError{Op: "Save", ConversationID: conversationID, Err: err}
	}

	data, err := json.Marshal(state)
	if err != nil {
		return &persistence.ExecutionStateError{Op: "Save", ConversationID: conversationID, Err: err}
	}

	if err := writeAtomic(filePath, data); err != nil {
		return &persistence.ExecutionStateError{Op: "Save", ConversationID: conversationID, Err: err}
	}

	return nil
}

func (r *ExecutionStateRepository) Delete(_ context.Context, conversationID string) error {
	filePath, err := r.path(conversationID)
	if err != nil {
		return &persistence.ExecutionStateError{Op: "Delete", ConversationID: conversationID, Err: err}
	}

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return &persistence.ExecutionStateError{Op: "Delete", ConversationID: conversationID, Err: err}
	}

	return nil
}
