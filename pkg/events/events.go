// Package events defines the domain events published by the workflow
// compiler consumers, the auto-heal job and the conversation runner.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every convoflow domain event.
const Topic = "convoflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow lifecycle events.
	WorkflowCompiledEvent     EventType = "workflow.compiled"
	WorkflowHealedEvent       EventType = "workflow.healed"
	WorkflowHealRejectedEvent EventType = "workflow.heal_rejected"

	// Conversation events.
	ConversationHandoffRequestedEvent EventType = "conversation.handoff_requested"
	ConversationCompletedEvent        EventType = "conversation.completed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	CreatorID  string         `json:"creator_id"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps a fresh id and the current time.
func NewBaseEvent(eventType EventType, creatorID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		CreatorID:  creatorID,
		WorkflowID: workflowID,
	}
}

// WorkflowCompiled is published after a tenant write stored a compiled workflow.
type WorkflowCompiled struct {
	BaseEvent

	Action        string   `json:"action"`
	Revision      int      `json:"revision"`
	SchemaVersion int      `json:"schema_version"`
	Warnings      []string `json:"warnings,omitempty"`
}

func (e WorkflowCompiled) GetType() EventType {
	return WorkflowCompiledEvent
}

// WorkflowHealed is published for every workflow the auto-heal job rewrote.
type WorkflowHealed struct {
	BaseEvent

	PreviousRevision int      `json:"previous_revision"`
	Revision         int      `json:"revision"`
	Reasons          []string `json:"reasons"`
	Upgrades         []string `json:"upgrades,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

func (e WorkflowHealed) GetType() EventType {
	return WorkflowHealedEvent
}

// WorkflowHealRejected is published when a stored workflow could not be healed
// because it does not compile.
type WorkflowHealRejected struct {
	BaseEvent

	Reasons []string `json:"reasons"`
	Errors  []string `json:"errors"`
}

func (e WorkflowHealRejected) GetType() EventType {
	return WorkflowHealRejectedEvent
}

// ConversationHandoffRequested asks the human-takeover collaborator to take a conversation.
type ConversationHandoffRequested struct {
	BaseEvent

	ConversationID string `json:"conversation_id"`
	NodeID         string `json:"node_id"`
	Reason         string `json:"reason,omitempty"`
	NotifyTeam     bool   `json:"notify_team"`
	AssignTo       string `json:"assign_to,omitempty"`
}

func (e ConversationHandoffRequested) GetType() EventType {
	return ConversationHandoffRequestedEvent
}

// ConversationCompleted is published when a conversation's execution ends.
type ConversationCompleted struct {
	BaseEvent

	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason"`
}

func (e ConversationCompleted) GetType() EventType {
	return ConversationCompletedEvent
}
