// Package persistence provides the storage ports used by the compiler
// consumers, the auto-heal job and the conversation runner.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

// Persistence bundles a workflow store with its lifecycle.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListOptions filters raw document scans.
type ListOptions struct {
	OnlyActive bool
	// Limit caps the number of documents; zero means no limit.
	Limit int
}

// WorkflowRepository stores workflows per creator (tenant). Documents are read
// back raw by the auto-heal job since they may predate the current schema.
type WorkflowRepository interface {
	// ListCreators returns creator ids in ascending order.
	ListCreators(ctx context.Context, limit int) ([]string, error)
	// ListDocuments returns a creator's stored documents ordered by id.
	ListDocuments(ctx context.Context, creatorID string, opts ListOptions) ([]models.RawDocument, error)

	// GetDocument returns one stored document raw, whatever schema wrote it.
	GetDocument(ctx context.Context, creatorID, workflowID string) (models.RawDocument, error)

	GetByID(ctx context.Context, creatorID, workflowID string) (*models.Workflow, error)
	// ListByCreator returns the creator's workflows that decode into the
	// current typed model. Documents waiting to be healed are skipped.
	ListByCreator(ctx context.Context, creatorID string) ([]*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, creatorID, workflowID string) error

	NewBatch() Batch
}

// DocumentWriter stores a raw document verbatim. Stores implement it so
// imports and tests can seed documents written by older schema versions.
type DocumentWriter interface {
	PutDocument(ctx context.Context, creatorID, workflowID string, doc map[string]any) error
}

// Batch buffers workflow writes and commits them together.
type Batch interface {
	Put(workflow *models.Workflow)
	Len() int
	Commit(ctx context.Context) error
}

// ExecutionStateRepository stores the per-conversation execution pointer.
type ExecutionStateRepository interface {
	Get(ctx context.Context, conversationID string) (*models.ExecutionState, error)
	Save(ctx context.Context, conversationID string, state *models.ExecutionState) error
	Delete(ctx context.Context, conversationID string) error
}

// ConversationLocker serializes message handling per conversation.
type ConversationLocker interface {
	// Lock returns ErrConversationLocked when the lock is held elsewhere.
	Lock(ctx context.Context, conversationID string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// DecodeDocument parses a stored JSON document. Malformed bodies yield
// ErrInvalidDocument.
func DecodeDocument(body []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return doc, nil
}

// DecodeWorkflow parses a stored JSON document into the typed model. Documents
// written by an older schema may not fit it and yield ErrInvalidDocument.
func DecodeWorkflow(body []byte) (*models.Workflow, error) {
	var workflow models.Workflow
	if err := json.Unmarshal(body, &workflow); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return &workflow, nil
}

// IsActiveDocument reports the isActive flag of a raw document.
func IsActiveDocument(doc map[string]any) bool {
	active, _ := doc["isActive"].(bool)

	return active
}

// CommitFunc writes a set of workflows as a unit.
type CommitFunc func(ctx context.Context, workflows []*models.Workflow) error

// BufferedBatch is a Batch that hands its buffer to a CommitFunc. A successful
// Commit empties the buffer so the batch can be reused.
type BufferedBatch struct {
	commit CommitFunc
	items  []*models.Workflow
}

// NewBufferedBatch creates a batch backed by commit.
func NewBufferedBatch(commit CommitFunc) *BufferedBatch {
	return &BufferedBatch{commit: commit}
}

func (b *BufferedBatch) Put(workflow *models.Workflow) {
	b.items = append(b.items, workflow)
}

func (b *BufferedBatch) Len() int {
	return len(b.items)
}

func (b *BufferedBatch) Commit(ctx context.Context) error {
	if len(b.items) == 0 {
		return nil
	}

	if err := b.commit(ctx, b.items); err != nil {
		return err
	}

	b.items = nil

	return nil
}
