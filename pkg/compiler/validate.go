package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/convoflow/pkg/expr"
	"github.com/dukex/convoflow/pkg/models"
)

// Report carries blocking errors and non-blocking warnings. Any error means
// the graph must not be persisted or activated.
type Report struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func newReport() Report {
	return Report{Errors: []string{}, Warnings: []string{}}
}

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Merge appends other's findings to r.
func (r *Report) Merge(other Report) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Validate walks a normalized graph and reports structural, branch
// consistency, cardinality and advisory findings. Nodes are visited in sorted
// id order and edges in input order, so output is deterministic.
func Validate(n *Normalized) Report {
	r := newReport()

	validateStructure(n, &r)
	validateBranches(n, &r)
	validateCardinality(n, &r)
	validateAdvisory(n, &r)

	return r
}

func validateStructure(n *Normalized, r *Report) {
	switch {
	case n.StartNodeID == "":
		r.errorf("workflow: startNodeId is missing")
	case n.Nodes[n.StartNodeID] == nil:
		r.errorf("workflow: startNodeId %q does not exist", n.StartNodeID)
	}

	for _, id := range n.DuplicateNodeIDs {
		r.errorf("node %q: duplicate node id", id)
	}

	for _, edge := range n.Edges {
		if edge.Source == "" {
			r.errorf("edge %q: source is missing", edge.ID)
		} else if n.Nodes[edge.Source] == nil {
			r.errorf("edge %q: source %q does not exist", edge.ID, edge.Source)
		}

		if edge.Target == "" {
			r.errorf("edge %q: target is missing", edge.ID)
		} else if n.Nodes[edge.Target] == nil {
			r.errorf("edge %q: target %q does not exist", edge.ID, edge.Target)
		}
	}

	for _, id := range n.NodeIDs() {
		wait, ok := n.Nodes[id].Data.(models.WaitResponseData)
		if ok && wait.TimeoutNodeID != "" && n.Nodes[wait.TimeoutNodeID] == nil {
			r.errorf("node %q: timeoutNodeId %q does not exist", id, wait.TimeoutNodeID)
		}
	}
}

func outgoing(n *Normalized, nodeID string) []models.Edge {
	var out []models.Edge

	for _, edge := range n.Edges {
		if edge.Source == nodeID {
			out = append(out, edge)
		}
	}

	return out
}

func validateBranches(n *Normalized, r *Report) {
	for _, id := range n.NodeIDs() {
		node := n.Nodes[id]

		var (
			allowed []string
			kind    string
		)

		switch data := node.Data.(type) {
		case models.ConditionData:
			kind = "an outcome"
			allowed = data.Outcomes
		case models.IntentRouterData:
			kind = "an intent or the default outcome"

			for _, intent := range data.Intents {
				allowed = append(allowed, intent.Name)
			}

			if data.DefaultOutcome == "" {
				r.warnf("node %q: INTENT_ROUTER has no defaultOutcome", id)
			} else {
				allowed = append(allowed, data.DefaultOutcome)
			}
		default:
			continue
		}

		seen := map[string]bool{}

		for _, name := range allowed {
			if seen[name] {
				r.warnf("node %q: %q is declared more than once", id, name)
			}

			seen[name] = true
		}

		handled := map[string]bool{}

		for _, edge := range outgoing(n, id) {
			if edge.SourceHandle == "" {
				r.warnf("edge %q: leaves %s node %q without a sourceHandle and is never taken", edge.ID, node.Type, id)

				continue
			}

			if !seen[edge.SourceHandle] {
				r.errorf("edge %q: sourceHandle %q is not %s of %s node %q", edge.ID, edge.SourceHandle, kind, node.Type, id)

				continue
			}

			handled[edge.SourceHandle] = true
		}

		for _, name := range uniqueStrings(allowed) {
			if !handled[name] {
				r.warnf("node %q: %q has no outgoing edge", id, name)
			}
		}
	}
}

// A linear node with more than one outgoing edge is ambiguous. With none the
// execution ends after the node.
func validateCardinality(n *Normalized, r *Report) {
	for _, id := range n.NodeIDs() {
		node := n.Nodes[id]
		count := len(outgoing(n, id))

		switch {
		case node.Type.IsLinear() && count > 1:
			r.errorf("node %q: %s must have exactly one outgoing edge, found %d", id, node.Type, count)
		case node.Type.IsLinear() && count == 0:
			r.warnf("node %q: %s has no outgoing edge, execution ends after this node", id, node.Type)
		case node.Type.IsTerminal() && count > 0:
			r.warnf("node %q: outgoing edges of %s are ignored", id, node.Type)
		}
	}
}

// ValidateRequiredFields reports nodes missing a field their type needs.
func ValidateRequiredFields(n *Normalized) Report {
	r := newReport()

	for _, id := range n.NodeIDs() {
		switch data := n.Nodes[id].Data.(type) {
		case models.MessageData:
			requireField(&r, id, models.NodeTypeMessage, "message", data.Message)
		case models.OfferProductData:
			requireField(&r, id, models.NodeTypeOfferProduct, "messageTemplate", data.MessageTemplate)
		case models.CollectInfoData:
			requireField(&r, id, models.NodeTypeCollectInfo, "prompt", data.Prompt)
			requireField(&r, id, models.NodeTypeCollectInfo, "storeIn", data.StoreIn)
		case models.WaitResponseData:
			requireField(&r, id, models.NodeTypeWaitResponse, "variableName", data.VariableName)
		}
	}

	return r
}

func requireField(r *Report, id string, t models.NodeType, field, value string) {
	if strings.TrimSpace(value) == "" {
		r.errorf("node %q: %s requires a non-empty %s", id, t, field)
	}
}

func validateAdvisory(n *Normalized, r *Report) {
	for i, trigger := range n.Triggers {
		if trigger.Type == models.TriggerKeyword && len(trigger.Conditions) == 0 {
			r.warnf("trigger %d: KEYWORD trigger has no conditions and never matches", i)
		}

		if trigger.Type == models.TriggerProductMention && len(trigger.ProductIDs) == 0 {
			r.warnf("trigger %d: PRODUCT_MENTION trigger has no productIds and never matches", i)
		}
	}

	reachable := reachableFrom(n)

	for _, id := range n.NodeIDs() {
		if len(reachable) > 0 && !reachable[id] {
			r.warnf("node %q: unreachable from start node", id)
		}

		switch data := n.Nodes[id].Data.(type) {
		case models.AssignTagData:
			if len(data.Tags) == 0 {
				r.warnf("node %q: ASSIGN_TAG has no tags", id)
			}
		case models.ConditionData:
			validateCondition(r, id, data)
		case models.CollectInfoData:
			validateRule(r, id, data.Validation)
		}
	}
}

func validateCondition(r *Report, id string, data models.ConditionData) {
	switch data.ConditionType {
	case models.ConditionTypeExpression:
		if data.Expression == "" {
			r.errorf("node %q: expression condition has an empty expression", id)

			return
		}

		if _, err := expr.Compile(data.Expression); err != nil {
			r.errorf("node %q: invalid expression %q: %v", id, data.Expression, err)
		}
	case models.ConditionTypeLLM:
		if data.LLMPrompt == "" {
			r.warnf("node %q: llm condition has no llmPrompt", id)
		}
	}
}

func validateRule(r *Report, id string, rule *models.ValidationRule) {
	if rule == nil {
		return
	}

	switch rule.Type {
	case models.ValidationRegex:
		if rule.Pattern == "" {
			r.errorf("node %q: regex validation has no pattern", id)
		} else if _, err := regexp.Compile(rule.Pattern); err != nil {
			r.errorf("node %q: invalid validation pattern %q: %v", id, rule.Pattern, err)
		}
	case models.ValidationSchema:
		if rule.Schema == nil {
			r.errorf("node %q: schema validation has no schema", id)
		} else if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(rule.Schema)); err != nil {
			r.errorf("node %q: invalid validation schema: %v", id, err)
		}
	}
}

func reachableFrom(n *Normalized) map[string]bool {
	if n.Nodes[n.StartNodeID] == nil {
		return nil
	}

	seen := map[string]bool{n.StartNodeID: true}
	queue := []string{n.StartNodeID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		var next []string

		for _, edge := range outgoing(n, id) {
			next = append(next, edge.Target)
		}

		if wait, ok := n.Nodes[id].Data.(models.WaitResponseData); ok && wait.TimeoutNodeID != "" {
			next = append(next, wait.TimeoutNodeID)
		}

		for _, target := range next {
			if n.Nodes[target] != nil && !seen[target] {
				seen[target] = true
				queue = append(queue, target)
			}
		}
	}

	return seen
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))

	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	return out
}
