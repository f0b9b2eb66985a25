package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/convoflow/pkg/compiler"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/presets"
)

// Write actions reported by workflow.compiled events.
const (
	ActionCreated     = "created"
	ActionUpdated     = "updated"
	ActionActivated   = "activated"
	ActionDeactivated = "deactivated"
)

// Workflow is the tenant write path. Every stored workflow goes through the
// compiler, and at most one workflow per creator is active.
type Workflow struct {
	persistence persistence.Persistence
	repo        persistence.WorkflowRepository
	catalog     *presets.Catalog
	publisher   eventbus.EventPublisher
	validate    *validator.Validate
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// Option configures the workflow service.
type Option func(*Workflow)

// WithCatalog enables CreateFromPreset and Presets.
func WithCatalog(catalog *presets.Catalog) Option {
	return func(w *Workflow) { w.catalog = catalog }
}

// WithPublisher publishes workflow.compiled after every stored write.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(w *Workflow) { w.publisher = publisher }
}

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(w *Workflow) { w.tracer = tracer }
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(p persistence.Persistence, logger *slog.Logger, opts ...Option) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}

	w := &Workflow{
		persistence: p,
		repo:        p.WorkflowRepository(),
		validate:    newValidator(),
		logger:      logger,
		tracer:      otel.Tracer("convoflow/services"),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Presets lists the preset catalog.
func (w *Workflow) Presets() []models.Preset {
	if w.catalog == nil {
		return []models.Preset{}
	}

	return w.catalog.List()
}

// Compile runs the compiler without storing anything. Validation findings
// are returned in the result, not as an error.
func (w *Workflow) Compile(ctx context.Context, creatorID string, raw map[string]any) (*compiler.Result, error) {
	_, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.compile", attribute.String(otelhelper.CreatorIDKey, creatorID))
	defer span.End()

	doc, err := w.prepare(creatorID, "", raw)
	if err != nil {
		return nil, err
	}

	result := w.compile(doc, compiler.Options{Now: w.now})
	otelhelper.RecordFindings(span, result.Errors, result.Warnings)

	return result, nil
}

// Create compiles raw and stores it as a new workflow with revision 1.
func (w *Workflow) Create(ctx context.Context, creatorID string, raw map[string]any) (*compiler.Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.create", attribute.String(otelhelper.CreatorIDKey, creatorID))
	defer span.End()

	doc, err := w.prepare(creatorID, "", raw)
	if err != nil {
		return nil, err
	}

	workflowID, _ := doc["id"].(string)

	_, err = w.repo.GetDocument(ctx, creatorID, workflowID)

	switch {
	case err == nil:
		return nil, &ServiceError{Op: "Create", Code: "WORKFLOW_EXISTS", Message: fmt.Sprintf("workflow %s already exists", workflowID), Err: ErrWorkflowExists}
	case !persistence.IsWorkflowNotFound(err):
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	result := w.compile(doc, compiler.Options{Now: w.now})
	if !result.OK() {
		return result, w.reject("Create", result)
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowIDKey, workflowID))

	if err := w.store(ctx, ActionCreated, result); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return result, nil
}

// CreateFromPreset instantiates a catalog preset for a creator. Top-level
// fields of overrides (name, isActive, ...) replace the preset's.
func (w *Workflow) CreateFromPreset(ctx context.Context, creatorID, presetID string, overrides map[string]any) (*compiler.Result, error) {
	if w.catalog == nil {
		return nil, fmt.Errorf("%w: %s", ErrPresetNotFound, presetID)
	}

	preset, err := w.catalog.Get(presetID)
	if err != nil {
		return nil, err
	}

	doc, err := preset.Document()
	if err != nil {
		return nil, fmt.Errorf("failed to read preset %s: %w", presetID, err)
	}

	for key, value := range overrides {
		doc[key] = value
	}

	doc["presetId"] = presetID

	return w.Create(ctx, creatorID, doc)
}

// Update recompiles raw over an existing workflow. The revision continues
// from the stored one, createdAt is kept and omitted activation flags keep
// their stored values.
func (w *Workflow) Update(ctx context.Context, creatorID, workflowID string, raw map[string]any) (*compiler.Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.update",
		attribute.String(otelhelper.CreatorIDKey, creatorID),
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
	)
	defer span.End()

	doc, err := w.prepare(creatorID, workflowID, raw)
	if err != nil {
		return nil, err
	}

	existing, err := w.load(ctx, creatorID, workflowID)
	if err != nil {
		return nil, err
	}

	for _, flag := range []string{"isActive", "isDefault"} {
		if _, ok := raw[flag]; !ok {
			doc[flag] = existing.flag(flag)
		}
	}

	result := w.compile(doc, existing.options(w.now))
	if !result.OK() {
		return result, w.reject("Update", result)
	}

	if err := w.store(ctx, ActionUpdated, result); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return result, nil
}

// Activate makes workflowID the creator's only active workflow.
func (w *Workflow) Activate(ctx context.Context, creatorID, workflowID string) (*models.Workflow, error) {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.activate",
		attribute.String(otelhelper.CreatorIDKey, creatorID),
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
	)
	defer span.End()

	if strings.TrimSpace(creatorID) == "" {
		return nil, ErrEmptyCreatorID
	}

	existing, err := w.load(ctx, creatorID, workflowID)
	if err != nil {
		return nil, err
	}

	result, err := w.recompile(existing, true)
	if err != nil {
		return nil, err
	}

	if err := w.store(ctx, ActionActivated, result); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to activate workflow: %w", err)
	}

	return result.Workflow, nil
}

// Delete removes a workflow.
func (w *Workflow) Delete(ctx context.Context, creatorID, workflowID string) error {
	if err := w.repo.Delete(ctx, creatorID, workflowID); err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return err
		}

		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow deleted", "creator_id", creatorID, "workflow_id", workflowID)

	return nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, creatorID, workflowID string) (*models.Workflow, error) {
	workflow, err := w.repo.GetByID(ctx, creatorID, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// ListByCreator returns a creator's workflows ordered by id.
func (w *Workflow) ListByCreator(ctx context.Context, creatorID string) ([]*models.Workflow, error) {
	if strings.TrimSpace(creatorID) == "" {
		return nil, ErrEmptyCreatorID
	}

	workflows, err := w.repo.ListByCreator(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	if workflows == nil {
		workflows = []*models.Workflow{}
	}

	return workflows, nil
}

// prepare copies raw and pins its identity. An empty workflowID keeps the
// document's id or generates one.
func (w *Workflow) prepare(creatorID, workflowID string, raw map[string]any) (map[string]any, error) {
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return nil, ErrEmptyCreatorID
	}

	if raw == nil {
		return nil, NewValidationError("prepare", "INVALID_REQUEST", "workflow document is required", ErrInvalidRequest)
	}

	doc := compiler.CloneDocument(raw)
	doc["creatorId"] = creatorID

	switch {
	case workflowID != "":
		doc["id"] = workflowID
	default:
		if id, _ := doc["id"].(string); strings.TrimSpace(id) == "" {
			doc["id"] = uuid.NewString()
		}
	}

	return doc, nil
}

// compile runs the compiler plus the model's struct rules, which only tenant
// writes enforce.
func (w *Workflow) compile(doc map[string]any, opts compiler.Options) *compiler.Result {
	result := compiler.Compile(doc, opts)
	if !result.OK() {
		return result
	}

	err := w.validate.Struct(result.Workflow)

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, fe := range validationErrors {
			result.Errors = append(result.Errors, fmt.Sprintf("workflow: %s failed %s validation", fe.Field(), fe.Tag()))
		}
	}

	return result
}

// storedDocument is an existing workflow read raw, so documents written by an
// older schema can be updated and activated before auto-heal reaches them.
type storedDocument struct {
	doc       map[string]any
	revision  int
	createdAt time.Time
}

func newStoredDocument(raw models.RawDocument, now time.Time) *storedDocument {
	doc := compiler.CloneDocument(raw.Data)
	doc["id"] = raw.ID
	doc["creatorId"] = raw.CreatorID

	stored := &storedDocument{doc: doc, createdAt: compiler.CoerceTime(doc["createdAt"], now)}

	if revision, ok := compiler.CoerceInt(doc["revision"]); ok && revision > 0 {
		stored.revision = revision
	}

	return stored
}

func (s *storedDocument) flag(name string) bool {
	value, _ := s.doc[name].(bool)

	return value
}

func (s *storedDocument) options(now func() time.Time) compiler.Options {
	return compiler.Options{
		PreviousRevision:  s.revision,
		PreserveCreatedAt: &s.createdAt,
		Now:               now,
	}
}

func (w *Workflow) load(ctx context.Context, creatorID, workflowID string) (*storedDocument, error) {
	raw, err := w.repo.GetDocument(ctx, creatorID, workflowID)
	if err != nil {
		return nil, err
	}

	return newStoredDocument(raw, w.now()), nil
}

func (w *Workflow) recompile(existing *storedDocument, active bool) (*compiler.Result, error) {
	doc := compiler.CloneDocument(existing.doc)
	doc["isActive"] = active

	result := w.compile(doc, existing.options(w.now))
	if !result.OK() {
		return result, w.reject("Recompile", result)
	}

	return result, nil
}

func (w *Workflow) reject(op string, result *compiler.Result) error {
	wf := result.Workflow

	w.logger.Warn("workflow rejected",
		"op", op,
		"creator_id", wf.CreatorID,
		"workflow_id", wf.ID,
		"errors", result.Errors,
		"warnings", result.Warnings,
	)

	return &ValidationError{Op: op, Errors: result.Errors, Warnings: result.Warnings}
}

type write struct {
	action string
	result *compiler.Result
}

// store writes the compiled workflow in one batch with the deactivation of
// the creator's other active workflows.
func (w *Workflow) store(ctx context.Context, action string, result *compiler.Result) error {
	wf := result.Workflow

	if len(result.Warnings) > 0 {
		w.logger.InfoContext(ctx, "workflow compiled with warnings",
			"creator_id", wf.CreatorID,
			"workflow_id", wf.ID,
			"warnings", result.Warnings,
		)
	}

	batch := w.repo.NewBatch()
	batch.Put(wf)

	writes := []write{{action: action, result: result}}

	if wf.IsActive {
		others, err := w.repo.ListDocuments(ctx, wf.CreatorID, persistence.ListOptions{OnlyActive: true})
		if err != nil {
			return err
		}

		for _, other := range others {
			if other.ID == wf.ID || other.Err != nil {
				continue
			}

			deactivated, err := w.recompile(newStoredDocument(other, w.now()), false)
			if err != nil {
				// the runner never selects a document that does not compile
				w.logger.WarnContext(ctx, "active workflow left as is, it does not compile",
					"creator_id", other.CreatorID,
					"workflow_id", other.ID,
					"error", err,
				)

				continue
			}

			batch.Put(deactivated.Workflow)
			writes = append(writes, write{action: ActionDeactivated, result: deactivated})
		}
	}

	if err := batch.Commit(ctx); err != nil {
		return err
	}

	for _, item := range writes {
		stored := item.result.Workflow

		w.logger.InfoContext(ctx, "workflow stored",
			"action", item.action,
			"creator_id", stored.CreatorID,
			"workflow_id", stored.ID,
			"revision", stored.Revision,
		)
		w.publish(ctx, item.action, item.result)
	}

	return nil
}

func (w *Workflow) publish(ctx context.Context, action string, result *compiler.Result) {
	if w.publisher == nil {
		return
	}

	wf := result.Workflow

	err := w.publisher.Publish(ctx, wf.CreatorID, events.WorkflowCompiled{
		BaseEvent:     events.NewBaseEvent(events.WorkflowCompiledEvent, wf.CreatorID, wf.ID),
		Action:        action,
		Revision:      wf.Revision,
		SchemaVersion: wf.SchemaVersion,
		Warnings:      result.Warnings,
	})
	if err != nil {
		w.logger.WarnContext(ctx, "failed to publish event", "event_type", events.WorkflowCompiledEvent, "error", err)
	}
}
