package interpreter

import (
	"context"
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

// EventKind is the kind of signal that drives a step.
type EventKind string

const (
	// EventStart begins a new execution at the start node.
	EventStart EventKind = "start"
	// EventMessage carries an inbound user message.
	EventMessage EventKind = "message"
	// EventTimeout is sent by the caller once a WAIT_RESPONSE window elapsed.
	EventTimeout EventKind = "timeout"
)

// Event is the input of a single step.
type Event struct {
	Kind EventKind `json:"kind"`
	Text string    `json:"text,omitempty"`
	At   time.Time `json:"at"`
}

// EffectKind names a side effect requested from the messaging loop.
type EffectKind string

const (
	EffectSendMessage  EffectKind = "send_message"
	EffectTagChange    EffectKind = "tag_change"
	EffectHandoff      EffectKind = "handoff"
	EffectOfferProduct EffectKind = "offer_product"
)

// HandoffSignal asks the human-takeover collaborator to take the conversation.
type HandoffSignal struct {
	NodeID     string `json:"nodeId"`
	Reason     string `json:"reason,omitempty"`
	NotifyTeam bool   `json:"notifyTeam"`
	AssignTo   string `json:"assignTo,omitempty"`
}

// SideEffect is an action the caller performs on the external collaborators.
type SideEffect struct {
	Kind   EffectKind `json:"kind"`
	NodeID string     `json:"nodeId"`

	Message  string `json:"message,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty"`
	Delay    int    `json:"delay,omitempty"`

	Tags      []string `json:"tags,omitempty"`
	TagAction string   `json:"tagAction,omitempty"`

	Handoff *HandoffSignal `json:"handoff,omitempty"`

	ProductIDs   []string `json:"productIds,omitempty"`
	ProductMode  string   `json:"productMode,omitempty"`
	ProductLimit int      `json:"productLimit,omitempty"`
	OfferType    string   `json:"offerType,omitempty"`
}

// Completion reasons.
const (
	ReasonEnd             = "end"
	ReasonHandoff         = "handoff"
	ReasonTimeout         = "timeout"
	ReasonDeadEnd         = "dead_end"
	ReasonNodeNotFound    = "node_not_found"
	ReasonNoBranch        = "no_branch"
	ReasonConditionError  = "condition_error"
	ReasonClassifierError = "classifier_error"
	ReasonTransitionLimit = "transition_limit"
	ReasonWorkflowMissing = "workflow_missing"
	ReasonWorkflowChanged = "workflow_changed"
)

// StepResult is the outcome of a step. State is nil once the execution
// completed and must then be cleared by the caller.
type StepResult struct {
	State     *models.ExecutionState `json:"state,omitempty"`
	Effects   []SideEffect           `json:"effects"`
	Completed bool                   `json:"completed"`
	Reason    string                 `json:"reason,omitempty"`
}

// ConditionRequest is sent to the classifier for llm conditions.
type ConditionRequest struct {
	NodeID    string
	Prompt    string
	Outcomes  []string
	Text      string
	Variables map[string]any
}

// IntentRequest is sent to the classifier when keyword matching found nothing.
type IntentRequest struct {
	NodeID    string
	Text      string
	Intents   []models.Intent
	Variables map[string]any
}

// Classifier is the language-model collaborator used by llm conditions and
// intent routers. ClassifyIntent returns an empty name when nothing matches.
type Classifier interface {
	EvaluateCondition(ctx context.Context, req ConditionRequest) (string, error)
	ClassifyIntent(ctx context.Context, req IntentRequest) (string, error)
}
