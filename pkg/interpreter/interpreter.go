// Package interpreter executes compiled workflows against a conversation's
// execution state, one inbound event at a time.
package interpreter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/convoflow/pkg/expr"
	"github.com/dukex/convoflow/pkg/models"
)

// DefaultMaxTransitions bounds the non-suspending transitions of one step so
// a cyclic graph terminates.
const DefaultMaxTransitions = 64

// Interpreter is the execution state machine. It trusts the compiled graph
// invariants and never re-validates.
type Interpreter struct {
	logger         *slog.Logger
	classifier     Classifier
	MaxTransitions int
}

// New creates an interpreter. classifier may be nil, in which case llm
// conditions complete the execution and intent routers rely on keywords.
func New(logger *slog.Logger, classifier Classifier) *Interpreter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Interpreter{
		logger:         logger,
		classifier:     classifier,
		MaxTransitions: DefaultMaxTransitions,
	}
}

type step struct {
	*Interpreter

	ctx    context.Context
	wf     *models.Workflow
	state  *models.ExecutionState
	event  Event
	result *StepResult
	logger *slog.Logger
}

// Step advances the execution by one inbound event. It never panics and
// never returns an error: anomalies end the execution gracefully.
func (i *Interpreter) Step(ctx context.Context, wf *models.Workflow, state *models.ExecutionState, ev Event) *StepResult {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	logger := i.logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &step{
		Interpreter: i,
		ctx:         ctx,
		wf:          wf,
		event:       ev,
		result:      &StepResult{Effects: []SideEffect{}},
		logger:      logger,
	}

	if wf == nil {
		logger.Warn("no workflow to execute")

		return s.complete(ReasonWorkflowMissing)
	}

	s.logger = logger.With("workflow_id", wf.ID)

	if state == nil || state.CurrentNodeID == "" {
		s.state = &models.ExecutionState{
			WorkflowID:    wf.ID,
			CurrentNodeID: wf.StartNodeID,
			Variables:     map[string]any{},
			Status:        models.ExecutionRunning,
			StartedAt:     ev.At,
		}

		return s.run(wf.StartNodeID)
	}

	s.state = state.Clone()
	if s.state.Variables == nil {
		s.state.Variables = map[string]any{}
	}

	if s.state.WorkflowID != wf.ID {
		s.logger.Warn("execution state belongs to another workflow", "state_workflow_id", s.state.WorkflowID)

		return s.complete(ReasonWorkflowChanged)
	}

	node := wf.Node(s.state.CurrentNodeID)
	if node == nil {
		s.logger.Warn("current node no longer exists", "node_id", s.state.CurrentNodeID)

		return s.complete(ReasonNodeNotFound)
	}

	if s.state.Status != models.ExecutionWaiting || !node.Type.IsSuspending() {
		if ev.Kind == EventTimeout {
			return s.suspendUnchanged()
		}

		return s.run(node.ID)
	}

	switch ev.Kind {
	case EventMessage:
		return s.resume(node)
	case EventTimeout:
		wait, ok := node.Data.(models.WaitResponseData)
		if !ok {
			return s.suspendUnchanged()
		}

		if wait.TimeoutNodeID == "" {
			return s.complete(ReasonTimeout)
		}

		return s.run(wait.TimeoutNodeID)
	default:
		return s.suspendUnchanged()
	}
}

func (s *step) suspendUnchanged() *StepResult {
	s.result.State = s.state

	return s.result
}

func (s *step) emit(effect SideEffect) {
	s.result.Effects = append(s.result.Effects, effect)
}

func (s *step) complete(reason string) *StepResult {
	s.result.State = nil
	s.result.Completed = true
	s.result.Reason = reason

	return s.result
}

func (s *step) suspend(nodeID string) *StepResult {
	s.state.CurrentNodeID = nodeID
	s.state.Status = models.ExecutionWaiting
	s.state.UpdatedAt = s.event.At
	s.result.State = s.state

	return s.result
}

// resume consumes the inbound answer at a suspended node.
func (s *step) resume(node *models.Node) *StepResult {
	switch data := node.Data.(type) {
	case models.CollectInfoData:
		value, ok := ValidateInput(data.Validation, s.event.Text)
		if !ok {
			s.emit(SideEffect{Kind: EffectSendMessage, NodeID: node.ID, Message: invalidInputMessage(data.Validation)})
			s.emit(SideEffect{Kind: EffectSendMessage, NodeID: node.ID, Message: Interpolate(data.Prompt, s.state.Variables)})

			return s.suspend(node.ID)
		}

		s.state.Variables[data.StoreIn] = value
	case models.WaitResponseData:
		s.state.Variables[data.VariableName] = s.event.Text
	}

	s.state.Status = models.ExecutionRunning

	next, ok := s.single(node.ID)
	if !ok {
		return s.complete(ReasonDeadEnd)
	}

	return s.run(next)
}

func (s *step) single(nodeID string) (string, bool) {
	edges := s.wf.Outgoing(nodeID)
	if len(edges) == 0 {
		return "", false
	}

	return edges[0].Target, true
}

func (s *step) branch(nodeID, handle string) (string, bool) {
	for _, edge := range s.wf.Outgoing(nodeID) {
		if edge.SourceHandle == handle {
			return edge.Target, true
		}
	}

	return "", false
}

// run executes nodes starting at nodeID until the execution suspends or
// completes.
func (s *step) run(nodeID string) *StepResult {
	limit := s.MaxTransitions
	if limit <= 0 {
		limit = DefaultMaxTransitions
	}

	for transitions := 0; ; transitions++ {
		if transitions > limit {
			s.logger.Warn("transition limit reached", "node_id", nodeID, "limit", limit)

			return s.complete(ReasonTransitionLimit)
		}

		node := s.wf.Node(nodeID)
		if node == nil {
			s.logger.Warn("node not found", "node_id", nodeID)

			return s.complete(ReasonNodeNotFound)
		}

		s.state.CurrentNodeID = node.ID
		s.state.Status = models.ExecutionRunning
		s.state.UpdatedAt = s.event.At

		next, done := s.enter(node)
		if done != nil {
			return done
		}

		nodeID = next
	}
}

// enter performs a node's behavior. It returns either the next node id or a
// final result.
func (s *step) enter(node *models.Node) (string, *StepResult) {
	vars := s.state.Variables

	switch data := node.Data.(type) {
	case models.StartData:
	case models.MessageData:
		s.emit(SideEffect{
			Kind:     EffectSendMessage,
			NodeID:   node.ID,
			Message:  Interpolate(data.Message, vars),
			MediaURL: data.MediaURL,
			Delay:    data.Delay,
		})
	case models.OfferProductData:
		s.emit(SideEffect{Kind: EffectSendMessage, NodeID: node.ID, Message: Interpolate(data.MessageTemplate, vars)})
		s.emit(SideEffect{
			Kind:         EffectOfferProduct,
			NodeID:       node.ID,
			ProductIDs:   data.ProductSelection.ProductIDs,
			ProductMode:  data.ProductSelection.Mode,
			ProductLimit: data.ProductSelection.Limit,
			OfferType:    data.OfferType,
		})

		if data.HandoffType == models.OfferHandoffImmediate {
			s.emit(SideEffect{Kind: EffectHandoff, NodeID: node.ID, Handoff: &HandoffSignal{NodeID: node.ID, Reason: "product_offer"}})

			return "", s.complete(ReasonHandoff)
		}
	case models.CollectInfoData:
		s.emit(SideEffect{Kind: EffectSendMessage, NodeID: node.ID, Message: Interpolate(data.Prompt, vars)})

		return "", s.suspend(node.ID)
	case models.WaitResponseData:
		return "", s.suspend(node.ID)
	case models.ConditionData:
		outcome, reason := s.evaluateCondition(node.ID, data)
		if reason != "" {
			return "", s.complete(reason)
		}

		next, ok := s.branch(node.ID, outcome)
		if !ok {
			s.logger.Warn("no branch for outcome", "node_id", node.ID, "outcome", outcome)

			return "", s.complete(ReasonNoBranch)
		}

		return next, nil
	case models.IntentRouterData:
		outcome, reason := s.routeIntent(node.ID, data)
		if reason != "" {
			return "", s.complete(reason)
		}

		next, ok := s.branch(node.ID, outcome)
		if !ok {
			s.logger.Warn("no branch for intent", "node_id", node.ID, "intent", outcome)

			return "", s.complete(ReasonNoBranch)
		}

		return next, nil
	case models.AssignTagData:
		s.emit(SideEffect{Kind: EffectTagChange, NodeID: node.ID, Tags: data.Tags, TagAction: data.Action})
	case models.EndData:
		if data.Message != "" {
			s.emit(SideEffect{Kind: EffectSendMessage, NodeID: node.ID, Message: Interpolate(data.Message, vars)})
		}

		return "", s.complete(ReasonEnd)
	case models.HandoffData:
		s.emit(SideEffect{Kind: EffectHandoff, NodeID: node.ID, Handoff: &HandoffSignal{
			NodeID:     node.ID,
			Reason:     data.Reason,
			NotifyTeam: data.NotifyTeam,
			AssignTo:   data.AssignTo,
		}})

		return "", s.complete(ReasonHandoff)
	default:
		s.logger.Warn("node carries no executable data", "node_id", node.ID, "type", node.Type)

		return "", s.complete(ReasonNodeNotFound)
	}

	next, ok := s.single(node.ID)
	if !ok {
		return "", s.complete(ReasonDeadEnd)
	}

	return next, nil
}

func (s *step) evaluateCondition(nodeID string, data models.ConditionData) (string, string) {
	var raw string

	switch data.ConditionType {
	case models.ConditionTypeExpression:
		prog, err := expr.Compile(data.Expression)
		if err != nil {
			s.logger.Error("condition expression does not compile", "node_id", nodeID, "error", err)

			return "", ReasonConditionError
		}

		raw = expr.Stringify(prog.Eval(s.state.Variables))
	default:
		if s.classifier == nil {
			s.logger.Error("llm condition without classifier", "node_id", nodeID)

			return "", ReasonClassifierError
		}

		out, err := s.classifier.EvaluateCondition(s.ctx, ConditionRequest{
			NodeID:    nodeID,
			Prompt:    Interpolate(data.LLMPrompt, s.state.Variables),
			Outcomes:  data.Outcomes,
			Text:      s.event.Text,
			Variables: s.state.Variables,
		})
		if err != nil {
			s.logger.Error("condition classification failed", "node_id", nodeID, "error", err)

			return "", ReasonClassifierError
		}

		raw = out
	}

	for _, outcome := range data.Outcomes {
		if strings.EqualFold(outcome, strings.TrimSpace(raw)) {
			return outcome, ""
		}
	}

	s.logger.Warn("condition produced an undeclared outcome", "node_id", nodeID, "outcome", raw)

	return "", ReasonNoBranch
}

func (s *step) routeIntent(nodeID string, data models.IntentRouterData) (string, string) {
	if name, ok := MatchIntent(data.Intents, s.event.Text); ok {
		return name, ""
	}

	if data.UseLLM && s.classifier != nil && strings.TrimSpace(s.event.Text) != "" {
		name, err := s.classifier.ClassifyIntent(s.ctx, IntentRequest{
			NodeID:    nodeID,
			Text:      s.event.Text,
			Intents:   data.Intents,
			Variables: s.state.Variables,
		})
		if err != nil {
			s.logger.Error("intent classification failed", "node_id", nodeID, "error", err)

			return "", ReasonClassifierError
		}

		for _, intent := range data.Intents {
			if strings.EqualFold(intent.Name, strings.TrimSpace(name)) {
				return intent.Name, ""
			}
		}
	}

	if data.DefaultOutcome == "" {
		return "", ReasonNoBranch
	}

	return data.DefaultOutcome, ""
}
