package autoheal

import (
	"strings"

	"github.com/dukex/convoflow/pkg/compiler"
	"github.com/dukex/convoflow/pkg/models"
)

// PresetUpgrade rewrites one node of workflows created from a preset whose
// earlier catalog version shipped unsafe behavior.
type PresetUpgrade struct {
	ID          string
	PresetID    string
	NodeID      string
	Description string

	// Match reports whether the node data still has the old behavior.
	Match func(data map[string]any) bool
	// Rewrite updates the node data in place.
	Rewrite func(data map[string]any)
}

// Applies reports whether raw was created from the preset and its node still matches.
func (u PresetUpgrade) Applies(raw map[string]any) bool {
	if presetID, _ := raw["presetId"].(string); presetID != u.PresetID {
		return false
	}

	data := nodeData(raw, u.NodeID)

	return data != nil && u.Match(data)
}

// Apply returns a rewritten deep copy of raw, or raw itself when the upgrade
// does not apply.
func (u PresetUpgrade) Apply(raw map[string]any) map[string]any {
	if !u.Applies(raw) {
		return raw
	}

	out := compiler.CloneDocument(raw)
	u.Rewrite(nodeData(out, u.NodeID))

	return out
}

// nodeData finds the data fields of a node in either the map or the array
// storage shape. Nodes without a data object carry their fields inline.
func nodeData(raw map[string]any, nodeID string) map[string]any {
	var node map[string]any

	switch nodes := raw["nodes"].(type) {
	case map[string]any:
		node, _ = nodes[nodeID].(map[string]any)
	case []any:
		for _, item := range nodes {
			candidate, ok := item.(map[string]any)
			if ok && candidate["id"] == nodeID {
				node = candidate

				break
			}
		}
	}

	if node == nil {
		return nil
	}

	if data, ok := node["data"].(map[string]any); ok {
		return data
	}

	return node
}

// UpgradeRegistry is the ordered set of preset upgrades the healer applies.
type UpgradeRegistry struct {
	upgrades []PresetUpgrade
}

// NewUpgradeRegistry registers upgrades in application order.
func NewUpgradeRegistry(upgrades ...PresetUpgrade) *UpgradeRegistry {
	return &UpgradeRegistry{upgrades: upgrades}
}

// DefaultUpgrades returns the built-in upgrades.
func DefaultUpgrades() *UpgradeRegistry {
	return NewUpgradeRegistry(SalesAssistantHandoffV2)
}

// List returns the registered upgrades.
func (r *UpgradeRegistry) List() []PresetUpgrade {
	if r == nil {
		return nil
	}

	return append([]PresetUpgrade(nil), r.upgrades...)
}

// Applicable returns the upgrades that apply to raw.
func (r *UpgradeRegistry) Applicable(raw map[string]any) []PresetUpgrade {
	if r == nil {
		return nil
	}

	var out []PresetUpgrade

	for _, upgrade := range r.upgrades {
		if upgrade.Applies(raw) {
			out = append(out, upgrade)
		}
	}

	return out
}

// SalesAssistantHandoffV2 moves the sales assistant greeting from an
// immediate handoff, which ended every conversation before the customer could
// answer, to handoff on request.
var SalesAssistantHandoffV2 = PresetUpgrade{
	ID:          "sales-assistant-handoff-v2",
	PresetID:    "sales_assistant",
	NodeID:      "greet_and_offer",
	Description: "greet_and_offer hands off on request instead of immediately",
	Match: func(data map[string]any) bool {
		handoff, _ := data["handoffType"].(string)

		return strings.EqualFold(strings.TrimSpace(handoff), models.OfferHandoffImmediate)
	},
	Rewrite: func(data map[string]any) {
		data["handoffType"] = models.OfferHandoffOnRequest
	},
}
