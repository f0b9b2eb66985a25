package compiler

import (
	"fmt"

	"github.com/dukex/convoflow/pkg/models"
)

// FieldAlias maps a legacy field name onto its canonical name. Since records
// the schema version that introduced the canonical name.
type FieldAlias struct {
	Legacy    string
	Canonical string
	Since     int
}

// NodeFieldAliases is the per-node-type field migration table, applied once by
// the normalizer before any field is read. Adding an alias is one entry here.
var NodeFieldAliases = map[models.NodeType][]FieldAlias{
	models.NodeTypeEnd: {
		{Legacy: "endMessage", Canonical: "message", Since: 2},
	},
	models.NodeTypeMessage: {
		{Legacy: "messageTemplate", Canonical: "message", Since: 2},
		{Legacy: "text", Canonical: "message", Since: 2},
		{Legacy: "mediaURL", Canonical: "mediaUrl", Since: 2},
		{Legacy: "media", Canonical: "mediaUrl", Since: 2},
		{Legacy: "delaySeconds", Canonical: "delay", Since: 3},
	},
	models.NodeTypeOfferProduct: {
		{Legacy: "message", Canonical: "messageTemplate", Since: 2},
		{Legacy: "template", Canonical: "messageTemplate", Since: 2},
		{Legacy: "products", Canonical: "productSelection", Since: 3},
	},
	models.NodeTypeCollectInfo: {
		{Legacy: "fieldName", Canonical: "storeIn", Since: 2},
		{Legacy: "variable", Canonical: "storeIn", Since: 2},
		{Legacy: "question", Canonical: "prompt", Since: 2},
		{Legacy: "message", Canonical: "prompt", Since: 2},
	},
	models.NodeTypeCondition: {
		{Legacy: "condition", Canonical: "expression", Since: 2},
		{Legacy: "prompt", Canonical: "llmPrompt", Since: 2},
		{Legacy: "branches", Canonical: "outcomes", Since: 2},
	},
	models.NodeTypeIntentRouter: {
		{Legacy: "fallback", Canonical: "defaultOutcome", Since: 2},
		{Legacy: "defaultIntent", Canonical: "defaultOutcome", Since: 2},
	},
	models.NodeTypeWaitResponse: {
		{Legacy: "storeIn", Canonical: "variableName", Since: 2},
		{Legacy: "variable", Canonical: "variableName", Since: 2},
		{Legacy: "fieldName", Canonical: "variableName", Since: 2},
		{Legacy: "timeoutNode", Canonical: "timeoutNodeId", Since: 3},
	},
	models.NodeTypeAssignTag: {
		{Legacy: "tag", Canonical: "tags", Since: 2},
		{Legacy: "operation", Canonical: "action", Since: 3},
	},
	models.NodeTypeHandoff: {
		{Legacy: "team", Canonical: "assignTo", Since: 2},
		{Legacy: "notify", Canonical: "notifyTeam", Since: 2},
	},
}

// NodeTypeAliases maps retired node type names onto current ones.
var NodeTypeAliases = map[string]models.NodeType{
	"TEXT":          models.NodeTypeMessage,
	"SEND_MESSAGE":  models.NodeTypeMessage,
	"QUESTION":      models.NodeTypeCollectInfo,
	"ASK":           models.NodeTypeCollectInfo,
	"PRODUCT_OFFER": models.NodeTypeOfferProduct,
	"BRANCH":        models.NodeTypeCondition,
	"ROUTER":        models.NodeTypeIntentRouter,
	"WAIT":          models.NodeTypeWaitResponse,
	"TAG":           models.NodeTypeAssignTag,
	"HUMAN_HANDOFF": models.NodeTypeHandoff,
	"TRANSFER":      models.NodeTypeHandoff,
	"FINISH":        models.NodeTypeEnd,
}

// TriggerFieldAliases is the field migration table for triggers.
var TriggerFieldAliases = map[models.TriggerType][]FieldAlias{
	models.TriggerKeyword: {
		{Legacy: "keywords", Canonical: "conditions", Since: 2},
	},
	models.TriggerProductMention: {
		{Legacy: "products", Canonical: "productIds", Since: 2},
	},
}

// EdgeFieldAliases is the field migration table for edges.
var EdgeFieldAliases = []FieldAlias{
	{Legacy: "condition", Canonical: "sourceHandle", Since: 2},
	{Legacy: "handle", Canonical: "sourceHandle", Since: 2},
	{Legacy: "from", Canonical: "source", Since: 2},
	{Legacy: "to", Canonical: "target", Since: 2},
}

// WorkflowFieldAliases is the field migration table for top-level workflow fields.
var WorkflowFieldAliases = []FieldAlias{
	{Legacy: "startNode", Canonical: "startNodeId", Since: 2},
	{Legacy: "entryNodeId", Canonical: "startNodeId", Since: 2},
}

// ResolveNodeType maps a raw type tag to a node type. alias is true when a
// retired name was translated; ok is false for unknown tags.
func ResolveNodeType(raw any) (t models.NodeType, alias bool, ok bool) {
	token := canonicalToken(raw)
	if models.NodeType(token).Known() {
		return models.NodeType(token), false, true
	}

	if mapped, found := NodeTypeAliases[token]; found {
		return mapped, true, true
	}

	return "", false, false
}

// LegacyNodeFields lists the aliases whose legacy field is present in a node's data.
func LegacyNodeFields(t models.NodeType, data map[string]any) []FieldAlias {
	return presentLegacy(NodeFieldAliases[t], data)
}

// LegacyTriggerFields lists the aliases whose legacy field is present in a trigger.
func LegacyTriggerFields(t models.TriggerType, trigger map[string]any) []FieldAlias {
	return presentLegacy(TriggerFieldAliases[t], trigger)
}

// LegacyEdgeFields lists the aliases whose legacy field is present in an edge.
func LegacyEdgeFields(edge map[string]any) []FieldAlias {
	return presentLegacy(EdgeFieldAliases, edge)
}

// LegacyWorkflowFields lists the aliases whose legacy field is present at the
// top level of a workflow document.
func LegacyWorkflowFields(raw map[string]any) []FieldAlias {
	return presentLegacy(WorkflowFieldAliases, raw)
}

func presentLegacy(aliases []FieldAlias, fields map[string]any) []FieldAlias {
	var found []FieldAlias

	for _, alias := range aliases {
		if _, ok := fields[alias.Legacy]; ok {
			found = append(found, alias)
		}
	}

	return found
}

// String describes the rename, e.g. `legacy field "question" renamed to "prompt" in schema 2`.
func (a FieldAlias) String() string {
	return fmt.Sprintf("legacy field %q renamed to %q in schema %d", a.Legacy, a.Canonical, a.Since)
}

// applyAliases rewrites legacy keys of fields into a new map keyed by canonical
// names. The canonical value wins when both are present.
func applyAliases(aliases []FieldAlias, fields map[string]any, warn func(format string, args ...any)) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}

	for _, alias := range aliases {
		legacy, hasLegacy := out[alias.Legacy]
		if !hasLegacy {
			continue
		}

		delete(out, alias.Legacy)

		if current, hasCanonical := out[alias.Canonical]; hasCanonical && !isEmptyValue(current) {
			warn("legacy field %q ignored, %q is already set", alias.Legacy, alias.Canonical)

			continue
		}

		out[alias.Canonical] = legacy
		warn("legacy field %q mapped to %q", alias.Legacy, alias.Canonical)
	}

	return out
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
