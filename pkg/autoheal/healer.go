package autoheal

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/persistence"
)

// Defaults applied to zero Options fields. The batch size stays below the
// hard per-batch write limit of document stores such as Firestore (500).
const (
	DefaultMaxCreators  = 500
	DefaultMaxWorkflows = 5000
	DefaultBatchSize    = 450
)

// Options parameterize one auto-heal run.
type Options struct {
	DryRun     bool   `json:"dryRun"     yaml:"dryRun"`
	OnlyActive bool   `json:"onlyActive" yaml:"onlyActive"`
	CreatorID  string `json:"creatorId"  yaml:"creatorId"`
	// MaxCreators caps the tenants scanned; ignored when CreatorID is set.
	MaxCreators int `json:"maxCreators" yaml:"maxCreators"`
	// MaxWorkflows caps the documents scanned across the whole run.
	MaxWorkflows int `json:"maxWorkflows" yaml:"maxWorkflows"`
	BatchSize    int `json:"batchSize"    yaml:"batchSize"`
}

func (o Options) withDefaults() Options {
	if o.MaxCreators <= 0 {
		o.MaxCreators = DefaultMaxCreators
	}

	if o.MaxWorkflows <= 0 {
		o.MaxWorkflows = DefaultMaxWorkflows
	}

	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}

	return o
}

// WorkflowFailure records a document the healer could not heal.
type WorkflowFailure struct {
	CreatorID  string   `json:"creatorId"`
	WorkflowID string   `json:"workflowId,omitempty"`
	Errors     []string `json:"errors"`
}

// Summary reports what a run did, or would do for a dry run.
type Summary struct {
	ScannedCreators  int               `json:"scannedCreators"`
	ScannedWorkflows int               `json:"scannedWorkflows"`
	UpdatedWorkflows int               `json:"updatedWorkflows"`
	SkippedWorkflows int               `json:"skippedWorkflows"`
	InvalidWorkflows int               `json:"invalidWorkflows"`
	WarningsCount    int               `json:"warningsCount"`
	Errors           []WorkflowFailure `json:"errors"`
	DryRun           bool              `json:"dryRun"`
	Batches          int               `json:"batches"`
}

// Healer scans stored workflows and rewrites the ones that need recompiling.
type Healer struct {
	repo      persistence.WorkflowRepository
	upgrades  *UpgradeRegistry
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a Healer.
type Option func(*Healer)

// WithPublisher publishes healed and rejected events.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(h *Healer) { h.publisher = publisher }
}

// WithUpgrades replaces the built-in preset upgrades.
func WithUpgrades(upgrades *UpgradeRegistry) Option {
	return func(h *Healer) { h.upgrades = upgrades }
}

// WithClock sets the time source used to stamp healed workflows.
func WithClock(now func() time.Time) Option {
	return func(h *Healer) { h.now = now }
}

// WithTracer sets the tracer used for run spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Healer) { h.tracer = tracer }
}

// NewHealer creates a healer over repo.
func NewHealer(repo persistence.WorkflowRepository, logger *slog.Logger, opts ...Option) *Healer {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Healer{
		repo:     repo,
		upgrades: DefaultUpgrades(),
		logger:   logger,
		tracer:   otel.Tracer("convoflow/autoheal"),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

type healed struct {
	workflow *models.Workflow
	decision Decision
}

// run holds the mutable state of one Run call.
type run struct {
	*Healer

	opts    Options
	summary *Summary
	batch   persistence.Batch
	pending []healed
}

// Run scans the configured tenants. Broken documents and per-tenant listing
// failures are recorded in the summary; only a failure to list tenants or
// context cancellation returns an error. Buffered writes are committed
// before returning in both cases.
func (h *Healer) Run(ctx context.Context, opts Options) (*Summary, error) {
	opts = opts.withDefaults()

	ctx, span := otelhelper.StartSpan(ctx, h.tracer, "autoheal.run",
		attribute.Bool(otelhelper.DryRunKey, opts.DryRun),
		attribute.String(otelhelper.CreatorIDKey, opts.CreatorID),
	)
	defer span.End()

	r := &run{Healer: h, opts: opts, summary: &Summary{DryRun: opts.DryRun, Errors: []WorkflowFailure{}}}
	if !opts.DryRun {
		r.batch = h.repo.NewBatch()
	}

	creators := []string{opts.CreatorID}

	if opts.CreatorID == "" {
		var err error

		creators, err = h.repo.ListCreators(ctx, opts.MaxCreators)
		if err != nil {
			otelhelper.SetError(span, err)

			return r.summary, err
		}
	}

	h.logger.InfoContext(ctx, "auto-heal started", "creators", len(creators), "dry_run", opts.DryRun, "only_active", opts.OnlyActive)

	err := r.scan(ctx, creators)

	// Cancellation still commits what is buffered.
	r.commit(context.WithoutCancel(ctx))

	if err != nil {
		otelhelper.SetError(span, err)
		h.logger.WarnContext(ctx, "auto-heal interrupted", "error", err, "summary", r.summary)

		return r.summary, err
	}

	h.logger.InfoContext(ctx, "auto-heal finished",
		"scanned_creators", r.summary.ScannedCreators,
		"scanned_workflows", r.summary.ScannedWorkflows,
		"updated_workflows", r.summary.UpdatedWorkflows,
		"skipped_workflows", r.summary.SkippedWorkflows,
		"invalid_workflows", r.summary.InvalidWorkflows,
		"warnings", r.summary.WarningsCount,
		"batches", r.summary.Batches,
		"dry_run", opts.DryRun,
	)

	return r.summary, nil
}

func (r *run) scan(ctx context.Context, creators []string) error {
	for _, creatorID := range creators {
		if err := ctx.Err(); err != nil {
			return err
		}

		remaining := r.opts.MaxWorkflows - r.summary.ScannedWorkflows
		if remaining <= 0 {
			r.logger.InfoContext(ctx, "auto-heal workflow limit reached", "max_workflows", r.opts.MaxWorkflows)

			return nil
		}

		r.summary.ScannedCreators++

		docs, err := r.repo.ListDocuments(ctx, creatorID, persistence.ListOptions{OnlyActive: r.opts.OnlyActive, Limit: remaining})
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to list workflows", "creator_id", creatorID, "error", err)
			r.summary.Errors = append(r.summary.Errors, WorkflowFailure{CreatorID: creatorID, Errors: []string{err.Error()}})

			continue
		}

		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				return err
			}

			r.heal(ctx, doc)
		}
	}

	return nil
}

func (r *run) heal(ctx context.Context, doc models.RawDocument) {
	r.summary.ScannedWorkflows++

	decision := Plan(doc, r.upgrades, r.now())
	logger := r.logger.With("creator_id", doc.CreatorID, "workflow_id", doc.ID)

	switch decision.Action {
	case ActionSkip:
		r.summary.SkippedWorkflows++

	case ActionInvalid:
		r.summary.InvalidWorkflows++
		r.summary.Errors = append(r.summary.Errors, WorkflowFailure{
			CreatorID:  doc.CreatorID,
			WorkflowID: doc.ID,
			Errors:     decision.Result.Errors,
		})

		logger.WarnContext(ctx, "workflow cannot be healed", "errors", decision.Result.Errors, "reasons", decision.Check.Reasons)

		if !r.opts.DryRun {
			r.publish(ctx, events.WorkflowHealRejected{
				BaseEvent: events.NewBaseEvent(events.WorkflowHealRejectedEvent, doc.CreatorID, doc.ID),
				Reasons:   decision.Check.Reasons,
				Errors:    decision.Result.Errors,
			})
		}

	case ActionUpdate:
		r.summary.UpdatedWorkflows++
		r.summary.WarningsCount += len(decision.Result.Warnings)

		if len(decision.Result.Warnings) > 0 {
			logger.InfoContext(ctx, "workflow healed with warnings", "warnings", decision.Result.Warnings)
		}

		logger.DebugContext(ctx, "workflow needs healing", "reasons", decision.Check.Reasons, "upgrades", decision.Upgrades)

		if r.opts.DryRun {
			return
		}

		r.batch.Put(decision.Result.Workflow)
		r.pending = append(r.pending, healed{workflow: decision.Result.Workflow, decision: decision})

		if r.batch.Len() >= r.opts.BatchSize {
			r.commit(ctx)
		}
	}
}

// commit flushes the batch. A failed commit is recorded against every
// workflow it held and the scan moves on with a fresh batch.
func (r *run) commit(ctx context.Context) {
	if r.batch == nil || r.batch.Len() == 0 {
		return
	}

	if err := r.batch.Commit(ctx); err != nil {
		r.logger.ErrorContext(ctx, "failed to commit healed workflows", "count", len(r.pending), "error", err)

		for _, item := range r.pending {
			r.summary.UpdatedWorkflows--
			r.summary.Errors = append(r.summary.Errors, WorkflowFailure{
				CreatorID:  item.workflow.CreatorID,
				WorkflowID: item.workflow.ID,
				Errors:     []string{err.Error()},
			})
		}

		r.pending = nil
		r.batch = r.repo.NewBatch()

		return
	}

	r.summary.Batches++
	r.logger.InfoContext(ctx, "committed healed workflows", "count", len(r.pending), "batch", r.summary.Batches)

	for _, item := range r.pending {
		r.publish(ctx, events.WorkflowHealed{
			BaseEvent:        events.NewBaseEvent(events.WorkflowHealedEvent, item.workflow.CreatorID, item.workflow.ID),
			PreviousRevision: item.decision.PreviousRevision,
			Revision:         item.workflow.Revision,
			Reasons:          item.decision.Check.Reasons,
			Upgrades:         item.decision.Upgrades,
			Warnings:         item.decision.Result.Warnings,
		})
	}

	r.pending = nil
}

func (r *run) publish(ctx context.Context, event eventbus.Event) {
	if r.publisher == nil {
		return
	}

	var key string

	switch e := event.(type) {
	case events.WorkflowHealed:
		key = e.CreatorID
	case events.WorkflowHealRejected:
		key = e.CreatorID
	}

	if err := r.publisher.Publish(ctx, key, event); err != nil {
		r.logger.WarnContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
