// Package conversation drives the execution state machine for inbound
// messages: it owns the per-conversation lock and execution state and hands
// the resulting side effects to the messaging transport.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/interpreter"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/dukex/convoflow/pkg/persistence"
)

// DefaultLockTTL bounds how long one inbound message may hold its conversation.
const DefaultLockTTL = 30 * time.Second

// Inbound is one signal for a conversation. Kind defaults to a message.
type Inbound struct {
	ConversationID string                `json:"conversationId" validate:"required"`
	CreatorID      string                `json:"creatorId"      validate:"required"`
	Text           string                `json:"text"`
	ProductIDs     []string              `json:"productIds,omitempty"`
	Kind           interpreter.EventKind `json:"kind,omitempty"`
	At             time.Time             `json:"at"`
}

// Outcome reports what handling an inbound signal did. WorkflowID is empty
// when no workflow applied.
type Outcome struct {
	WorkflowID string                  `json:"workflowId,omitempty"`
	Started    bool                    `json:"started"`
	Result     *interpreter.StepResult `json:"result,omitempty"`
}

// Sink delivers side effects to the messaging transport. The context carries
// the conversation's logger, see log.FromContext.
type Sink interface {
	Deliver(ctx context.Context, conversationID string, effect interpreter.SideEffect) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, conversationID string, effect interpreter.SideEffect) error

func (f SinkFunc) Deliver(ctx context.Context, conversationID string, effect interpreter.SideEffect) error {
	return f(ctx, conversationID, effect)
}

// Runner handles inbound signals one conversation at a time.
type Runner struct {
	workflows   persistence.WorkflowRepository
	states      persistence.ExecutionStateRepository
	locker      persistence.ConversationLocker
	interpreter *interpreter.Interpreter
	sink        Sink
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	lockTTL     time.Duration
	now         func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLocker serializes handling per conversation.
func WithLocker(locker persistence.ConversationLocker) Option {
	return func(r *Runner) { r.locker = locker }
}

// WithSink delivers effects as they are produced.
func WithSink(sink Sink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithPublisher publishes conversation events.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(r *Runner) { r.publisher = publisher }
}

func WithLockTTL(ttl time.Duration) Option {
	return func(r *Runner) { r.lockTTL = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner. Without a locker, callers must serialize
// messages of the same conversation themselves.
func NewRunner(
	workflows persistence.WorkflowRepository,
	states persistence.ExecutionStateRepository,
	interp *interpreter.Interpreter,
	logger *slog.Logger,
	opts ...Option,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		workflows:   workflows,
		states:      states,
		interpreter: interp,
		logger:      logger,
		tracer:      otel.Tracer("convoflow/conversation"),
		lockTTL:     DefaultLockTTL,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Handle processes one inbound signal. The execution state is persisted
// before effects are delivered, so a failed delivery never replays a step.
func (r *Runner) Handle(ctx context.Context, in Inbound) (*Outcome, error) {
	if in.ConversationID == "" || in.CreatorID == "" {
		return nil, errors.New("conversation id and creator id are required")
	}

	if in.Kind == "" {
		in.Kind = interpreter.EventMessage
	}

	if in.At.IsZero() {
		in.At = r.now().UTC()
	}

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "conversation.handle",
		attribute.String(otelhelper.ConversationIDKey, in.ConversationID),
		attribute.String(otelhelper.CreatorIDKey, in.CreatorID),
	)
	defer span.End()

	logger := r.logger.With("conversation_id", in.ConversationID, "creator_id", in.CreatorID)
	ctx = log.WithLogger(ctx, logger)

	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, in.ConversationID, r.lockTTL)
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, fmt.Errorf("lock conversation %s: %w", in.ConversationID, err)
		}

		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				logger.WarnContext(ctx, "failed to release conversation lock", "error", err)
			}
		}()
	}

	outcome, err := r.handle(ctx, in)
	if err != nil {
		otelhelper.SetError(span, err)

		return outcome, err
	}

	if outcome.WorkflowID != "" {
		span.SetAttributes(attribute.String(otelhelper.WorkflowIDKey, outcome.WorkflowID))
	}

	return outcome, r.dispatch(ctx, logger, in, outcome)
}

func (r *Runner) handle(ctx context.Context, in Inbound) (*Outcome, error) {
	logger := log.FromContext(ctx)

	state, err := r.states.Get(ctx, in.ConversationID)

	switch {
	case persistence.IsExecutionStateNotFound(err):
		state = nil
	case err != nil:
		return nil, fmt.Errorf("load execution state: %w", err)
	}

	var wf, next *models.Workflow

	if state != nil {
		wf, next, err = r.resumeWorkflow(ctx, in, state)
		if err != nil {
			return nil, err
		}

		if wf == nil {
			if err := r.states.Delete(ctx, in.ConversationID); err != nil {
				return nil, fmt.Errorf("clear execution state: %w", err)
			}

			state = nil
		}
	}

	outcome := &Outcome{}

	if state == nil {
		if in.Kind == interpreter.EventTimeout {
			logger.DebugContext(ctx, "timeout without execution ignored")

			return outcome, nil
		}

		wf = next
		if wf == nil {
			wf, err = r.selectWorkflow(ctx, in)
			if err != nil {
				return nil, err
			}
		}

		if wf == nil {
			logger.DebugContext(ctx, "no workflow matched inbound message")

			return outcome, nil
		}

		outcome.Started = true
	}

	outcome.WorkflowID = wf.ID

	result := r.interpreter.Step(ctx, wf, state, interpreter.Event{Kind: in.Kind, Text: in.Text, At: in.At})
	outcome.Result = result

	if result.Completed {
		logger.InfoContext(ctx, "execution completed", "workflow_id", wf.ID, "reason", result.Reason)

		if err := r.states.Delete(ctx, in.ConversationID); err != nil {
			return outcome, fmt.Errorf("clear execution state: %w", err)
		}

		return outcome, nil
	}

	if err := r.states.Save(ctx, in.ConversationID, result.State); err != nil {
		return outcome, fmt.Errorf("save execution state: %w", err)
	}

	logger.DebugContext(ctx, "execution suspended", "workflow_id", wf.ID, "node_id", result.State.CurrentNodeID)

	return outcome, nil
}

// resumeWorkflow loads the workflow a suspended execution belongs to. It
// returns a nil workflow when the execution must be abandoned because the
// workflow is gone, no longer compiled or deactivated. When a message matches
// the KEYWORD or PRODUCT_MENTION trigger of another active workflow, the
// execution is abandoned as well and that workflow is returned as next.
func (r *Runner) resumeWorkflow(ctx context.Context, in Inbound, state *models.ExecutionState) (current, next *models.Workflow, err error) {
	logger := log.FromContext(ctx).With("workflow_id", state.WorkflowID)

	wf, err := r.workflows.GetByID(ctx, in.CreatorID, state.WorkflowID)

	switch {
	case persistence.IsWorkflowNotFound(err):
		logger.WarnContext(ctx, "workflow of execution no longer exists")

		return nil, nil, nil
	case persistence.IsInvalidDocument(err):
		logger.WarnContext(ctx, "workflow of execution cannot be decoded", "error", err)

		return nil, nil, nil
	case err != nil:
		return nil, nil, fmt.Errorf("load workflow %s: %w", state.WorkflowID, err)
	case !wf.Compiled():
		logger.WarnContext(ctx, "workflow of execution is not compiled", "schema_version", wf.SchemaVersion)

		return nil, nil, nil
	case !wf.IsActive && !wf.IsDefault:
		logger.InfoContext(ctx, "workflow of execution was deactivated")

		return nil, nil, nil
	}

	if in.Kind != interpreter.EventMessage {
		return wf, nil, nil
	}

	workflows, err := r.workflows.ListByCreator(ctx, in.CreatorID)
	if err != nil {
		return nil, nil, fmt.Errorf("list workflows: %w", err)
	}

	if superseding := interpreter.SupersedingWorkflow(workflows, wf.ID, r.match(in)); superseding != nil {
		logger.InfoContext(ctx, "execution superseded by trigger", "next_workflow_id", superseding.ID)

		return nil, superseding, nil
	}

	return wf, nil, nil
}

func (r *Runner) selectWorkflow(ctx context.Context, in Inbound) (*models.Workflow, error) {
	workflows, err := r.workflows.ListByCreator(ctx, in.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	return interpreter.SelectWorkflow(workflows, r.match(in)), nil
}

func (r *Runner) match(in Inbound) interpreter.Inbound {
	return interpreter.Inbound{Text: in.Text, ProductIDs: in.ProductIDs}
}

// dispatch delivers the effects in order and publishes conversation events.
// Delivery stops at the first failure.
func (r *Runner) dispatch(ctx context.Context, logger *slog.Logger, in Inbound, outcome *Outcome) error {
	if outcome.Result == nil {
		return nil
	}

	for _, effect := range outcome.Result.Effects {
		if effect.Kind == interpreter.EffectHandoff && effect.Handoff != nil {
			r.publish(ctx, logger, in.CreatorID, events.ConversationHandoffRequested{
				BaseEvent:      events.NewBaseEvent(events.ConversationHandoffRequestedEvent, in.CreatorID, outcome.WorkflowID),
				ConversationID: in.ConversationID,
				NodeID:         effect.Handoff.NodeID,
				Reason:         effect.Handoff.Reason,
				NotifyTeam:     effect.Handoff.NotifyTeam,
				AssignTo:       effect.Handoff.AssignTo,
			})
		}

		if r.sink == nil {
			continue
		}

		if err := r.sink.Deliver(ctx, in.ConversationID, effect); err != nil {
			logger.ErrorContext(ctx, "failed to deliver side effect", "kind", effect.Kind, "node_id", effect.NodeID, "error", err)

			return fmt.Errorf("deliver %s effect of node %s: %w", effect.Kind, effect.NodeID, err)
		}
	}

	if outcome.Result.Completed {
		r.publish(ctx, logger, in.CreatorID, events.ConversationCompleted{
			BaseEvent:      events.NewBaseEvent(events.ConversationCompletedEvent, in.CreatorID, outcome.WorkflowID),
			ConversationID: in.ConversationID,
			Reason:         outcome.Result.Reason,
		})
	}

	return nil
}

func (r *Runner) publish(ctx context.Context, logger *slog.Logger, key string, event eventbus.Event) {
	if r.publisher == nil {
		return
	}

	if err := r.publisher.Publish(ctx, key, event); err != nil {
		logger.WarnContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
