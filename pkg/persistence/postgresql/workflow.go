package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

const upsertWorkflowSQL = `
	INSERT INTO workflows (
		creator_id
	  , id
	  , document
	  , is_active
	  , schema_version
	  , revision
	  , created_at
	  , updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (creator_id, id) DO UPDATE SET
		document = EXCLUDED.document
	  , is_active = EXCLUDED.is_active
	  , schema_version = EXCLUDED.schema_version
	  , revision = EXCLUDED.revision
	  , updated_at = EXCLUDED.updated_at
`

// WorkflowRepository stores each workflow as a JSONB document plus the
// columns the list and heal queries filter on.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type row struct {
	creatorID     string
	id            string
	document      string
	isActive      bool
	schemaVersion int
	revision      int
	createdAt     time.Time
	updatedAt     time.Time
}

func workflowRow(workflow *models.Workflow) (row, error) {
	body, err := json.Marshal(workflow)
	if err != nil {
		return row{}, fmt.Errorf("failed to marshal workflow: %w", err)
	}

	now := time.Now().UTC()

	r := row{
		creatorID:     workflow.CreatorID,
		id:            workflow.ID,
		document:      string(body),
		isActive:      workflow.IsActive,
		schemaVersion: workflow.SchemaVersion,
		revision:      workflow.Revision,
		createdAt:     workflow.CreatedAt,
		updatedAt:     workflow.UpdatedAt,
	}

	if r.createdAt.IsZero() {
		r.createdAt = now
	}

	if r.updatedAt.IsZero() {
		r.updatedAt = now
	}

	return r, nil
}

func (r *WorkflowRepository) upsert(ctx context.Context, db execer, wr row) error {
	_, err := db.ExecContext(ctx, upsertWorkflowSQL,
		wr.creatorID, wr.id, wr.document, wr.isActive, wr.schemaVersion, wr.revision, wr.createdAt, wr.updatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert workflow: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

// ListCreators returns the distinct creator ids that own workflows.
func (r *WorkflowRepository) ListCreators(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT DISTINCT creator_id FROM workflows ORDER BY creator_id`
	args := []any{}

	if limit > 0 {
		query += ` LIMIT $1`

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query creators: %w", err)
	}
	defer r.closeRows(ctx, rows)

	creators := make([]string, 0)

	for rows.Next() {
		var creatorID string
		if err := rows.Scan(&creatorID); err != nil {
			return nil, fmt.Errorf("failed to scan creator: %w", err)
		}

		creators = append(creators, creatorID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate creators: %w", err)
	}

	return creators, nil
}

// ListDocuments returns the raw documents of a creator ordered by id.
func (r *WorkflowRepository) ListDocuments(ctx context.Context, creatorID string, opts persistence.ListOptions) ([]models.RawDocument, error) {
	query := `SELECT id, document FROM workflows WHERE creator_id = $1`
	args := []any{creatorID}

	if opts.OnlyActive {
		query += ` AND is_active`
	}

	query += ` ORDER BY id`

	if opts.Limit > 0 {
		query += ` LIMIT $2`

		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows of %s: %w", creatorID, err)
	}
	defer r.closeRows(ctx, rows)

	docs := make([]models.RawDocument, 0)

	for rows.Next() {
		var (
			id   string
			body []byte
		)

		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		doc, err := persistence.DecodeDocument(body)
		if err != nil {
			docs = append(docs, models.RawDocument{
				CreatorID: creatorID,
				ID:        id,
				Err:       persistence.NewWorkflowError("ListDocuments", creatorID, id, err),
			})

			continue
		}

		docs = append(docs, models.RawDocument{CreatorID: creatorID, ID: id, Data: doc})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflows: %w", err)
	}

	return docs, nil
}

func (r *WorkflowRepository) document(ctx context.Context, op, creatorID, workflowID string) ([]byte, error) {
	var body []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM workflows WHERE creator_id = $1 AND id = $2`,
		creatorID, workflowID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewWorkflowError(op, creatorID, workflowID, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewWorkflowError(op, creatorID, workflowID, err)
	}

	return body, nil
}

// GetDocument returns one stored document raw.
func (r *WorkflowRepository) GetDocument(ctx context.Context, creatorID, workflowID string) (models.RawDocument, error) {
	body, err := r.document(ctx, "GetDocument", creatorID, workflowID)
	if err != nil {
		return models.RawDocument{}, err
	}

	doc, err := persistence.DecodeDocument(body)
	if err != nil {
		return models.RawDocument{}, persistence.NewWorkflowError("GetDocument", creatorID, workflowID, err)
	}

	return models.RawDocument{CreatorID: creatorID, ID: workflowID, Data: doc}, nil
}

// GetByID retrieves a workflow by its creator and ID.
func (r *WorkflowRepository) GetByID(ctx context.Context, creatorID, workflowID string) (*models.Workflow, error) {
	body, err := r.document(ctx, "GetByID", creatorID, workflowID)
	if err != nil {
		return nil, err
	}

	workflow, err := persistence.DecodeWorkflow(body)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", creatorID, workflowID, err)
	}

	return workflow, nil
}

// ListByCreator returns the creator's workflows that decode into the current model.
func (r *WorkflowRepository) ListByCreator(ctx context.Context, creatorID string) ([]*models.Workflow, error) {
	docs, err := r.ListDocuments(ctx, creatorID, persistence.ListOptions{})
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(docs))

	for _, doc := range docs {
		if doc.Err != nil {
			r.logger.DebugContext(ctx, "skipping unreadable workflow", "creator_id", creatorID, "workflow_id", doc.ID, "error", doc.Err)

			continue
		}

		body, err := json.Marshal(doc.Data)
		if err != nil {
			continue
		}

		workflow, err := persistence.DecodeWorkflow(body)
		if err != nil {
			r.logger.DebugContext(ctx, "skipping undecodable workflow", "creator_id", creatorID, "workflow_id", doc.ID, "error", err)

			continue
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

// Save inserts or replaces a workflow.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	wr, err := workflowRow(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.CreatorID, workflow.ID, err)
	}

	if err := r.upsert(ctx, r.db, wr); err != nil {
		return persistence.NewWorkflowError("Save", workflow.CreatorID, workflow.ID, err)
	}

	return nil
}

// PutDocument stores a raw document, deriving the indexed columns from it.
func (r *WorkflowRepository) PutDocument(ctx context.Context, creatorID, workflowID string, doc map[string]any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return persistence.NewWorkflowError("PutDocument", creatorID, workflowID, err)
	}

	now := time.Now().UTC()
	version, _ := doc["schemaVersion"].(float64)
	revision, _ := doc["revision"].(float64)

	wr := row{
		creatorID:     creatorID,
		id:            workflowID,
		document:      string(body),
		isActive:      persistence.IsActiveDocument(doc),
		schemaVersion: int(version),
		revision:      int(revision),
		createdAt:     now,
		updatedAt:     now,
	}

	if err := r.upsert(ctx, r.db, wr); err != nil {
		return persistence.NewWorkflowError("PutDocument", creatorID, workflowID, err)
	}

	return nil
}

// Delete removes a workflow.
func (r *WorkflowRepository) Delete(ctx context.Context, creatorID, workflowID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE creator_id = $1 AND id = $2`, creatorID, workflowID)
	if err != nil {
		return persistence.NewWorkflowError("Delete", creatorID, workflowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", creatorID, workflowID, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", creatorID, workflowID, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// NewBatch returns a batch committed in a single transaction.
func (r *WorkflowRepository) NewBatch() persistence.Batch {
	return persistence.NewBufferedBatch(r.commit)
}

func (r *WorkflowRepository) commit(ctx context.Context, workflows []*models.Workflow) error {
	rows := make([]row, 0, len(workflows))

	for _, workflow := range workflows {
		wr, err := workflowRow(workflow)
		if err != nil {
			return persistence.NewWorkflowError("Commit", workflow.CreatorID, workflow.ID, err)
		}

		rows = append(rows, wr)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, wr := range rows {
		if err := r.upsert(ctx, tx, wr); err != nil {
			_ = tx.Rollback()

			return persistence.NewWorkflowError("Commit", wr.creatorID, wr.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch of %d workflows: %w", len(rows), err)
	}

	return nil
}
