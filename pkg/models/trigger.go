package models

// TriggerType selects how a workflow activates for an inbound conversation.
type TriggerType string

const (
	TriggerAlways         TriggerType = "ALWAYS"
	TriggerKeyword        TriggerType = "KEYWORD"
	TriggerProductMention TriggerType = "PRODUCT_MENTION"
)

// Known reports whether t is a supported trigger type.
func (t TriggerType) Known() bool {
	return t == TriggerAlways || t == TriggerKeyword || t == TriggerProductMention
}

// Trigger activates a workflow when it matches the inbound message context.
// ALWAYS is the universal fallback.
type Trigger struct {
	Type       TriggerType `json:"type"`
	Conditions []string    `json:"conditions,omitempty"`
	ProductIDs []string    `json:"productIds,omitempty"`
}
