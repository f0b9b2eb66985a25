// Package memory provides an in-process persistence implementation used by
// tests and local development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

// Persistence implements persistence.Persistence with maps guarded by a mutex.
type Persistence struct {
	workflows *WorkflowRepository
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{workflows: NewWorkflowRepository()}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflows
}

// Workflows returns the concrete repository, which also accepts raw documents.
func (p *Persistence) Workflows() *WorkflowRepository {
	return p.workflows
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// WorkflowRepository keeps every document as encoded JSON so reads never
// share memory with callers.
type WorkflowRepository struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

// NewWorkflowRepository creates an empty repository.
func NewWorkflowRepository() *WorkflowRepository {
	return &WorkflowRepository{docs: map[string]map[string][]byte{}}
}

// PutDocument stores a raw document as-is, the way an older writer would have.
func (r *WorkflowRepository) PutDocument(_ context.Context, creatorID, workflowID string, doc map[string]any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", workflowID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.put(creatorID, workflowID, body)

	return nil
}

func (r *WorkflowRepository) put(creatorID, workflowID string, body []byte) {
	if r.docs[creatorID] == nil {
		r.docs[creatorID] = map[string][]byte{}
	}

	r.docs[creatorID][workflowID] = body
}

func (r *WorkflowRepository) ListCreators(_ context.Context, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	creators := make([]string, 0, len(r.docs))
	for creatorID, docs := range r.docs {
		if len(docs) > 0 {
			creators = append(creators, creatorID)
		}
	}

	sort.Strings(creators)

	if limit > 0 && len(creators) > limit {
		creators = creators[:limit]
	}

	return creators, nil
}

func (r *WorkflowRepository) ListDocuments(_ context.Context, creatorID string, opts persistence.ListOptions) ([]models.RawDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.sortedIDs(creatorID)
	out := make([]models.RawDocument, 0, len(ids))

	for _, id := range ids {
		doc, err := persistence.DecodeDocument(r.docs[creatorID][id])

		switch {
		case err != nil:
			out = append(out, models.RawDocument{
				CreatorID: creatorID,
				ID:        id,
				Err:       persistence.NewWorkflowError("ListDocuments", creatorID, id, err),
			})
		case opts.OnlyActive && !persistence.IsActiveDocument(doc):
			continue
		default:
			out = append(out, models.RawDocument{CreatorID: creatorID, ID: id, Data: doc})
		}

		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}

	return out, nil
}

func (r *WorkflowRepository) sortedIDs(creatorID string) []string {
	ids := make([]string, 0, len(r.docs[creatorID]))
	for id := range r.docs[creatorID] {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func (r *WorkflowRepository) GetDocument(_ context.Context, creatorID, workflowID string) (models.RawDocument, error) {
	r.mu.RLock()
	body, ok := r.docs[creatorID][workflowID]
	r.mu.RUnlock()

	if !ok {
		return models.RawDocument{}, persistence.NewWorkflowError("GetDocument", creatorID, workflowID, persistence.ErrWorkflowNotFound)
	}

	doc, err := persistence.DecodeDocument(body)
	if err != nil {
		return models.RawDocument{}, persistence.NewWorkflowError("GetDocument", creatorID, workflowID, err)
	}

	return models.RawDocument{CreatorID: creatorID, ID: workflowID, Data: doc}, nil
}

func (r *WorkflowRepository) GetByID(_ context.Context, creatorID, workflowID string) (*models.Workflow, error) {
	r.mu.RLock()
	body, ok := r.docs[creatorID][workflowID]
	r.mu.RUnlock()

	if !ok {
		return nil, persistence.NewWorkflowError("GetByID", creatorID, workflowID, persistence.ErrWorkflowNotFound)
	}

	workflow, err := persistence.DecodeWorkflow(body)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", creatorID, workflowID, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) ListByCreator(_ context.Context, creatorID string) ([]*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Workflow

	for _, id := range r.sortedIDs(creatorID) {
		workflow, err := persistence.DecodeWorkflow(r.docs[creatorID][id])
		if err != nil {
			continue
		}

		out = append(out, workflow)
	}

	return out, nil
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	body, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.CreatorID, workflow.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.put(workflow.CreatorID, workflow.ID, body)

	return nil
}

func (r *WorkflowRepository) Delete(_ context.Context, creatorID, workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[creatorID][workflowID]; !ok {
		return persistence.NewWorkflowError("Delete", creatorID, workflowID, persistence.ErrWorkflowNotFound)
	}

	delete(r.docs[creatorID], workflowID)

	return nil
}

func (r *WorkflowRepository) NewBatch() persistence.Batch {
	return persistence.NewBufferedBatch(r.commit)
}

func (r *WorkflowRepository) commit(_ context.Context, workflows []*models.Workflow) error {
	bodies := make([][]byte, len(workflows))

	for i, workflow := range workflows {
		body, err := json.Marshal(workflow)
		if err != nil {
			return persistence.NewWorkflowError("Commit", workflow.CreatorID, workflow.ID, err)
		}

		bodies[i] = body
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, workflow := range workflows {
		r.put(workflow.CreatorID, workflow.ID, bodies[i])
	}

	return nil
}
