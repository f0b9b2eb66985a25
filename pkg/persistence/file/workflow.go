package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

// WorkflowRepository stores one JSON file per workflow under
// {root}/creators/{creatorId}/workflows/{id}.json.
type WorkflowRepository struct {
	root string
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

func (wr *WorkflowRepository) creatorsDir() string {
	return filepath.Join(wr.root, "creators")
}

func (wr *WorkflowRepository) workflowsDir(creatorID string) string {
	return filepath.Join(wr.creatorsDir(), creatorID, "workflows")
}

func (wr *WorkflowRepository) workflowPath(creatorID, workflowID string) (string, error) {
	if err := validateSegment("creator ID", creatorID); err != nil {
		return "", err
	}

	if err := validateSegment("workflow ID", workflowID); err != nil {
		return "", err
	}

	return filepath.Join(wr.workflowsDir(creatorID), workflowID+".json"), nil
}

// ListCreators returns creator directories that hold at least one workflow.
func (wr *WorkflowRepository) ListCreators(_ context.Context, limit int) ([]string, error) {
	entries, err := os.ReadDir(wr.creatorsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("failed to list creators: %w", err)
	}

	creators := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		ids, err := wr.workflowIDs(entry.Name())
		if err != nil {
			return nil, err
		}

		if len(ids) > 0 {
			creators = append(creators, entry.Name())
		}
	}

	sort.Strings(creators)

	if limit > 0 && len(creators) > limit {
		creators = creators[:limit]
	}

	return creators, nil
}

// workflowIDs returns the sorted workflow ids of a creator.
func (wr *WorkflowRepository) workflowIDs(creatorID string) ([]string, error) {
	root := os.DirFS(wr.workflowsDir(creatorID))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	ids := make([]string, 0, len(jsonFiles))
	for _, file := range jsonFiles {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	sort.Strings(ids)

	return ids, nil
}

func (wr *WorkflowRepository) read(creatorID, workflowID string) ([]byte, error) {
	filePath, err := wr.workflowPath(creatorID, workflowID)
	if err != nil {
		return nil, err
	}

	body, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to fetch workflow: %w", err)
	}

	return body, nil
}

func (wr *WorkflowRepository) readDocument(creatorID, workflowID string) (map[string]any, error) {
	body, err := wr.read(creatorID, workflowID)
	if err != nil {
		return nil, err
	}

	return persistence.DecodeDocument(body)
}

// ListDocuments returns the raw stored documents of a creator ordered by id.
// An unreadable file is reported on its own document instead of failing the
// listing.
func (wr *WorkflowRepository) ListDocuments(_ context.Context, creatorID string, opts persistence.ListOptions) ([]models.RawDocument, error) {
	if err := validateSegment("creator ID", creatorID); err != nil {
		return nil, err
	}

	ids, err := wr.workflowIDs(creatorID)
	if err != nil {
		return nil, err
	}

	docs := make([]models.RawDocument, 0, len(ids))

	for _, id := range ids {
		doc, err := wr.readDocument(creatorID, id)

		switch {
		case persistence.IsWorkflowNotFound(err):
			continue
		case err != nil:
			docs = append(docs, models.RawDocument{
				CreatorID: creatorID,
				ID:        id,
				Err:       persistence.NewWorkflowError("ListDocuments", creatorID, id, err),
			})
		case opts.OnlyActive && !persistence.IsActiveDocument(doc):
			continue
		default:
			docs = append(docs, models.RawDocument{CreatorID: creatorID, ID: id, Data: doc})
		}

		if opts.Limit > 0 && len(docs) == opts.Limit {
			break
		}
	}

	return docs, nil
}

// GetDocument reads one stored document without decoding it into the model.
func (wr *WorkflowRepository) GetDocument(_ context.Context, creatorID, workflowID string) (models.RawDocument, error) {
	doc, err := wr.readDocument(creatorID, workflowID)
	if err != nil {
		return models.RawDocument{}, persistence.NewWorkflowError("GetDocument", creatorID, workflowID, err)
	}

	return models.RawDocument{CreatorID: creatorID, ID: workflowID, Data: doc}, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, creatorID, workflowID string) (*models.Workflow, error) {
	body, err := wr.read(creatorID, workflowID)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", creatorID, workflowID, err)
	}

	workflow, err := persistence.DecodeWorkflow(body)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", creatorID, workflowID, err)
	}

	return workflow, nil
}

// ListByCreator returns every workflow of a creator that decodes into the current model.
func (wr *WorkflowRepository) ListByCreator(ctx context.Context, creatorID string) ([]*models.Workflow, error) {
	if err := validateSegment("creator ID", creatorID); err != nil {
		return nil, err
	}

	ids, err := wr.workflowIDs(creatorID)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := wr.GetByID(ctx, creatorID, id)
		if err != nil {
			continue
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

// Save saves a workflow to the file system.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.CreatorID, workflow.ID, err)
	}

	if err := wr.write(workflow.CreatorID, workflow.ID, data); err != nil {
		return persistence.NewWorkflowError("Save", workflow.CreatorID, workflow.ID, err)
	}

	return nil
}

// PutDocument writes a raw document without going through the typed model.
func (wr *WorkflowRepository) PutDocument(_ context.Context, creatorID, workflowID string, doc map[string]any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return persistence.NewWorkflowError("PutDocument", creatorID, workflowID, err)
	}

	if err := wr.write(creatorID, workflowID, data); err != nil {
		return persistence.NewWorkflowError("PutDocument", creatorID, workflowID, err)
	}

	return nil
}

func (wr *WorkflowRepository) write(creatorID, workflowID string, data []byte) error {
	filePath, err := wr.workflowPath(creatorID, workflowID)
	if err != nil {
		return err
	}

	return writeAtomic(filePath, data)
}

// Delete removes a workflow by its ID.
func (wr *WorkflowRepository) Delete(_ context.Context, creatorID, workflowID string) error {
	filePath, err := wr.workflowPath(creatorID, workflowID)
	if err != nil {
		return persistence.NewWorkflowError("Delete", creatorID, workflowID, err)
	}

	err = os.Remove(filePath)
	if err != nil && os.IsNotExist(err) {
		return persistence.NewWorkflowError("Delete", creatorID, workflowID, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return persistence.NewWorkflowError("Delete", creatorID, workflowID, err)
	}

	return nil
}

// NewBatch buffers saves. Files are written one by one on commit, each atomically.
func (wr *WorkflowRepository) NewBatch() persistence.Batch {
	return persistence.NewBufferedBatch(func(ctx context.Context, workflows []*models.Workflow) error {
		for _, workflow := range workflows {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := wr.Save(ctx, workflow); err != nil {
				return err
			}
		}

		return nil
	})
}
