// Package autoheal re-validates and upgrades stored workflows across every
// tenant so that documents written by older schemas keep executing safely.
package autoheal

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/dukex/convoflow/pkg/compiler"
	"github.com/dukex/convoflow/pkg/models"
)

// Check is the outcome of the cheap pre-check run before compiling a stored document.
type Check struct {
	Needed  bool     `json:"needed"`
	Reasons []string `json:"reasons,omitempty"`
}

func (c *Check) add(format string, args ...any) {
	c.Needed = true
	c.Reasons = append(c.Reasons, fmt.Sprintf(format, args...))
}

// NeedsCompile reports whether raw must be recompiled: it lacks version
// metadata, still carries a legacy shape, or a preset upgrade applies to it.
func NeedsCompile(raw map[string]any, upgrades *UpgradeRegistry) Check {
	var c Check

	switch version, ok := intValue(raw["schemaVersion"]); {
	case !ok:
		c.add("missing schemaVersion")
	case version < models.CurrentSchemaVersion:
		c.add("schemaVersion %d is older than %d", version, models.CurrentSchemaVersion)
	}

	if revision, ok := intValue(raw["revision"]); !ok || revision < 1 {
		c.add("missing revision")
	}

	if compiler.CoerceTime(raw["compiledAt"], time.Time{}).IsZero() {
		c.add("missing compiledAt")
	}

	for _, alias := range compiler.LegacyWorkflowFields(raw) {
		c.add("workflow: %s", alias)
	}

	checkTriggers(&c, raw["triggers"])
	checkNodes(&c, raw["nodes"])
	checkEdges(&c, raw["edges"])

	for _, upgrade := range upgrades.Applicable(raw) {
		c.add("preset upgrade %s applies", upgrade.ID)
	}

	return c
}

func checkTriggers(c *Check, v any) {
	var triggers []any

	switch t := v.(type) {
	case []any:
		triggers = t
	case map[string]any:
		c.add("triggers stored as a single object")

		return
	default:
		return
	}

	for i, item := range triggers {
		trigger, ok := item.(map[string]any)
		if !ok {
			c.add("trigger %d: not an object", i)

			continue
		}

		raw, _ := trigger["type"].(string)

		triggerType := models.TriggerType(raw)
		if !triggerType.Known() {
			c.add("trigger %d: type %q is not canonical", i, raw)

			continue
		}

		for _, alias := range compiler.LegacyTriggerFields(triggerType, trigger) {
			c.add("trigger %d: %s", i, alias)
		}
	}
}

func checkNodes(c *Check, v any) {
	nodes, ok := v.(map[string]any)
	if !ok {
		if _, isList := v.([]any); isList {
			c.add("nodes stored as an array")
		}

		return
	}

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		node, ok := nodes[id].(map[string]any)
		if !ok {
			c.add("node %q: not an object", id)

			continue
		}

		raw, _ := node["type"].(string)

		nodeType := models.NodeType(raw)
		if !nodeType.Known() {
			c.add("node %q: type %q is not canonical", id, raw)

			continue
		}

		data, hasData := node["data"].(map[string]any)
		if !hasData {
			c.add("node %q: fields stored inline", id)

			continue
		}

		for _, alias := range compiler.LegacyNodeFields(nodeType, data) {
			c.add("node %q: %s", id, alias)
		}
	}
}

func checkEdges(c *Check, v any) {
	edges, ok := v.([]any)
	if !ok {
		if _, isMap := v.(map[string]any); isMap {
			c.add("edges stored as an object")
		}

		return
	}

	for i, item := range edges {
		edge, ok := item.(map[string]any)
		if !ok {
			c.add("edge %d: not an object", i)

			continue
		}

		if id, _ := edge["id"].(string); id == "" {
			c.add("edge %d: missing id", i)
		}

		for _, alias := range compiler.LegacyEdgeFields(edge) {
			c.add("edge %d: %s", i, alias)
		}
	}
}

// intValue reads an integral number from a decoded document.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}

		return int(n), true
	case json.Number:
		i, err := n.Int64()

		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)

		return i, err == nil
	default:
		return 0, false
	}
}
