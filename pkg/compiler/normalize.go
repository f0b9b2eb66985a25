package compiler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
)

// Normalized is the canonical typed form of an arbitrary workflow document.
type Normalized struct {
	Triggers    []models.Trigger
	Nodes       map[string]*models.Node
	Edges       []models.Edge
	StartNodeID string

	// DuplicateNodeIDs lists ids repeated in a node array. Only the first
	// occurrence is kept in Nodes.
	DuplicateNodeIDs []string
	Warnings         []string
}

// NodeIDs returns the node ids in sorted order.
func (n *Normalized) NodeIDs() []string {
	ids := make([]string, 0, len(n.Nodes))
	for id := range n.Nodes {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

type normalizer struct {
	out *Normalized
}

func (z *normalizer) warnf(scope string) func(format string, args ...any) {
	return func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		if scope != "" {
			msg = scope + ": " + msg
		}

		z.out.Warnings = append(z.out.Warnings, msg)
	}
}

// Normalize converts an untyped document into canonical triggers, nodes and
// edges. It never fails: problems are reported as warnings and left for the
// validator to judge.
func Normalize(raw map[string]any) *Normalized {
	z := &normalizer{out: &Normalized{
		Triggers:         []models.Trigger{},
		Nodes:            map[string]*models.Node{},
		Edges:            []models.Edge{},
		DuplicateNodeIDs: []string{},
		Warnings:         []string{},
	}}

	if raw == nil {
		raw = map[string]any{}
	}

	top := applyAliases(WorkflowFieldAliases, raw, z.warnf("workflow"))

	z.triggers(top["triggers"])
	z.nodes(top["nodes"])
	z.edges(top["edges"])
	z.startNode(top["startNodeId"])

	return z.out
}

func (z *normalizer) triggers(v any) {
	var items []any

	switch t := v.(type) {
	case nil:
	case map[string]any:
		items = []any{t}
	default:
		items = asSlice(v)
		if items == nil {
			z.warnf("workflow")("triggers has unsupported shape %T, ignored", v)
		}
	}

	for i, item := range items {
		scope := "trigger " + strconv.Itoa(i)

		var fields map[string]any

		switch t := item.(type) {
		case map[string]any:
			fields = t
		case string:
			fields = map[string]any{"type": t}
		default:
			z.warnf(scope)("unsupported trigger shape %T, ignored", item)

			continue
		}

		rawType := asString(fields["type"])
		tt := models.TriggerType(canonicalToken(rawType))

		if !tt.Known() {
			z.warnf(scope)("unknown trigger type %q, using %s", rawType, models.TriggerAlways)
			tt = models.TriggerAlways
		}

		fields = applyAliases(TriggerFieldAliases[tt], fields, z.warnf(scope))
		trigger := models.Trigger{Type: tt}

		switch tt {
		case models.TriggerKeyword:
			trigger.Conditions = asStringSlice(fields["conditions"])
		case models.TriggerProductMention:
			trigger.ProductIDs = asStringSlice(fields["productIds"])
		}

		z.out.Triggers = append(z.out.Triggers, trigger)
	}

	if len(z.out.Triggers) == 0 {
		z.warnf("workflow")("no triggers, defaulting to %s", models.TriggerAlways)
		z.out.Triggers = append(z.out.Triggers, models.Trigger{Type: models.TriggerAlways})
	}
}

func (z *normalizer) nodes(v any) {
	switch t := v.(type) {
	case nil:
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, key := range keys {
			id := strings.TrimSpace(key)
			scope := fmt.Sprintf("node %q", id)

			fields := asMap(t[key])
			if fields == nil {
				z.warnf(scope)("unsupported node shape %T, ignored", t[key])

				continue
			}

			if declared := asString(fields["id"]); declared != "" && declared != id {
				z.warnf(scope)("declared id %q differs from its key, using the key", declared)
			}

			if id == "" {
				z.warnf("workflow")("node with empty key ignored")

				continue
			}

			z.out.Nodes[id] = z.node(id, fields)
		}
	default:
		items := asSlice(v)
		if items == nil {
			z.warnf("workflow")("nodes has unsupported shape %T, ignored", v)

			return
		}

		for i, item := range items {
			fields := asMap(item)
			if fields == nil {
				z.warnf("node " + strconv.Itoa(i))("unsupported node shape %T, ignored", item)

				continue
			}

			id := asString(fields["id"])
			if id == "" {
				id = "node_" + strconv.Itoa(i)
				z.warnf("node "+strconv.Itoa(i))("missing id, assigned %q", id)
			}

			if _, exists := z.out.Nodes[id]; exists {
				z.out.DuplicateNodeIDs = append(z.out.DuplicateNodeIDs, id)

				continue
			}

			z.out.Nodes[id] = z.node(id, fields)
		}
	}
}

func (z *normalizer) node(id string, fields map[string]any) *models.Node {
	scope := fmt.Sprintf("node %q", id)
	warn := z.warnf(scope)

	rawType := asString(fields["type"])

	nodeType, alias, ok := ResolveNodeType(rawType)

	switch {
	case !ok:
		warn("unknown node type %q, using %s", rawType, models.NodeTypeMessage)
		nodeType = models.NodeTypeMessage
	case alias:
		warn("node type %q mapped to %s", rawType, nodeType)
	}

	data := asMap(fields["data"])
	if data == nil {
		// Early documents stored the payload inline next to id and type.
		data = map[string]any{}

		for k, val := range fields {
			switch k {
			case "id", "type", "position", "data":
			default:
				data[k] = val
			}
		}
	}

	data = applyAliases(NodeFieldAliases[nodeType], data, warn)

	return &models.Node{
		ID:       id,
		Type:     nodeType,
		Position: position(fields["position"]),
		Data:     z.nodeData(nodeType, data, warn),
	}
}

func position(v any) *models.Position {
	m := asMap(v)
	if m == nil {
		return nil
	}

	return &models.Position{X: asFloat(m["x"]), Y: asFloat(m["y"])}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		i, _ := asInt(v)

		return float64(i)
	}
}

func nonNegative(v any) int {
	n, _ := asInt(v)
	if n < 0 {
		return 0
	}

	return n
}

func (z *normalizer) nodeData(t models.NodeType, d map[string]any, warn func(string, ...any)) models.NodeData {
	switch t {
	case models.NodeTypeStart:
		return models.StartData{Label: asString(d["label"])}
	case models.NodeTypeEnd:
		return models.EndData{Message: asString(d["message"])}
	case models.NodeTypeMessage:
		return models.MessageData{
			Message:  asString(d["message"]),
			Delay:    nonNegative(d["delay"]),
			MediaURL: asString(d["mediaUrl"]),
		}
	case models.NodeTypeOfferProduct:
		handoff := strings.ToLower(asString(d["handoffType"]))

		switch handoff {
		case models.OfferHandoffNone, models.OfferHandoffOnRequest, models.OfferHandoffImmediate:
		case "":
			handoff = models.OfferHandoffOnRequest
		default:
			warn("unknown handoffType %q, using %s", handoff, models.OfferHandoffOnRequest)
			handoff = models.OfferHandoffOnRequest
		}

		return models.OfferProductData{
			ProductSelection: productSelection(d["productSelection"], warn),
			OfferType:        asString(d["offerType"]),
			MessageTemplate:  asString(d["messageTemplate"]),
			HandoffType:      handoff,
		}
	case models.NodeTypeCollectInfo:
		return models.CollectInfoData{
			Prompt:     asString(d["prompt"]),
			StoreIn:    asString(d["storeIn"]),
			Validation: validationRule(d["validation"], warn),
		}
	case models.NodeTypeCondition:
		expression := asString(d["expression"])

		conditionType := strings.ToLower(asString(d["conditionType"]))

		switch conditionType {
		case models.ConditionTypeLLM, models.ConditionTypeExpression:
		default:
			fallback := models.ConditionTypeLLM
			if expression != "" {
				fallback = models.ConditionTypeExpression
			}

			if conditionType != "" {
				warn("unknown conditionType %q, using %s", conditionType, fallback)
			}

			conditionType = fallback
		}

		outcomes := asStringSlice(d["outcomes"])
		if len(outcomes) == 0 {
			outcomes = []string{"true", "false"}
		}

		return models.ConditionData{
			ConditionType: conditionType,
			Expression:    expression,
			LLMPrompt:     asString(d["llmPrompt"]),
			Outcomes:      outcomes,
		}
	case models.NodeTypeIntentRouter:
		return models.IntentRouterData{
			Intents:        intents(d["intents"], warn),
			DefaultOutcome: asString(d["defaultOutcome"]),
			UseLLM:         asBool(d["useLlm"]),
		}
	case models.NodeTypeWaitResponse:
		return models.WaitResponseData{
			VariableName:  asString(d["variableName"]),
			Timeout:       nonNegative(d["timeout"]),
			TimeoutNodeID: asString(d["timeoutNodeId"]),
		}
	case models.NodeTypeAssignTag:
		action := strings.ToLower(asString(d["action"]))

		switch action {
		case models.TagActionAdd, models.TagActionRemove:
		case "":
			action = models.TagActionAdd
		default:
			warn("unknown tag action %q, using %s", action, models.TagActionAdd)
			action = models.TagActionAdd
		}

		return models.AssignTagData{Tags: asStringSlice(d["tags"]), Action: action}
	case models.NodeTypeHandoff:
		return models.HandoffData{
			Reason:     asString(d["reason"]),
			NotifyTeam: asBool(d["notifyTeam"]),
			AssignTo:   asString(d["assignTo"]),
		}
	default:
		return models.MessageData{}
	}
}

func productSelection(v any, warn func(string, ...any)) models.ProductSelection {
	sel := models.ProductSelection{Mode: models.ProductSelectionSpecific, ProductIDs: []string{}}

	m := asMap(v)
	if m == nil {
		// A bare list of product ids.
		sel.ProductIDs = asStringSlice(v)

		return sel
	}

	mode := strings.ToLower(asString(m["mode"]))

	switch mode {
	case models.ProductSelectionSpecific, models.ProductSelectionDynamic:
		sel.Mode = mode
	case "":
	default:
		warn("unknown productSelection mode %q, using %s", mode, models.ProductSelectionSpecific)
	}

	sel.ProductIDs = asStringSlice(m["productIds"])
	sel.Limit = nonNegative(m["limit"])

	return sel
}

func validationRule(v any, warn func(string, ...any)) *models.ValidationRule {
	if s := asString(v); s != "" {
		v = map[string]any{"type": s}
	}

	m := asMap(v)
	if m == nil {
		return nil
	}

	rule := &models.ValidationRule{
		Type:         strings.ToLower(asString(m["type"])),
		Pattern:      asString(m["pattern"]),
		Schema:       asMap(m["schema"]),
		ErrorMessage: asString(m["errorMessage"]),
	}

	switch rule.Type {
	case models.ValidationText, models.ValidationEmail, models.ValidationPhone,
		models.ValidationNumber, models.ValidationRegex, models.ValidationSchema:
	case "":
		switch {
		case rule.Pattern != "":
			rule.Type = models.ValidationRegex
		case rule.Schema != nil:
			rule.Type = models.ValidationSchema
		default:
			rule.Type = models.ValidationText
		}
	default:
		warn("unknown validation type %q, using %s", rule.Type, models.ValidationText)
		rule.Type = models.ValidationText
	}

	if rule.Schema != nil {
		rule.Schema = CloneDocument(rule.Schema)
	}

	return rule
}

func intents(v any, warn func(string, ...any)) []models.Intent {
	out := []models.Intent{}

	for i, item := range asSlice(v) {
		var intent models.Intent

		switch t := item.(type) {
		case string:
			intent = models.Intent{Name: strings.TrimSpace(t), Keywords: []string{}}
		case map[string]any:
			intent = models.Intent{
				Name:        asString(t["name"]),
				Description: asString(t["description"]),
				Keywords:    asStringSlice(t["keywords"]),
			}
		}

		if intent.Name == "" {
			warn("intent %d has no name, ignored", i)

			continue
		}

		out = append(out, intent)
	}

	return out
}

func (z *normalizer) edges(v any) {
	var items []any

	switch t := v.(type) {
	case nil:
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, key := range keys {
			fields := asMap(t[key])
			if fields == nil {
				continue
			}

			if asString(fields["id"]) == "" {
				fields = CloneDocument(fields)
				fields["id"] = key
			}

			items = append(items, fields)
		}
	default:
		items = asSlice(v)
		if items == nil {
			z.warnf("workflow")("edges has unsupported shape %T, ignored", v)

			return
		}
	}

	parsed := make([]models.Edge, 0, len(items))

	for i, item := range items {
		scope := "edge " + strconv.Itoa(i)

		fields := asMap(item)
		if fields == nil {
			z.warnf(scope)("unsupported edge shape %T, ignored", item)

			continue
		}

		if id := asString(fields["id"]); id != "" {
			scope = fmt.Sprintf("edge %q", id)
		}

		fields = applyAliases(EdgeFieldAliases, fields, z.warnf(scope))

		parsed = append(parsed, models.Edge{
			ID:           asString(fields["id"]),
			Source:       asString(fields["source"]),
			Target:       asString(fields["target"]),
			SourceHandle: asString(fields["sourceHandle"]),
			Label:        asString(fields["label"]),
		})
	}

	used := make(map[string]bool, len(parsed))

	for _, edge := range parsed {
		if edge.ID != "" {
			if used[edge.ID] {
				z.warnf(fmt.Sprintf("edge %q", edge.ID))("duplicate edge id")
			}

			used[edge.ID] = true
		}
	}

	for i := range parsed {
		if parsed[i].ID != "" {
			continue
		}

		id := EdgeID(parsed[i].Source, parsed[i].Target, parsed[i].SourceHandle)

		candidate := id
		for n := 2; used[candidate]; n++ {
			candidate = id + "#" + strconv.Itoa(n)
		}

		used[candidate] = true
		parsed[i].ID = candidate
	}

	z.out.Edges = parsed
}

// EdgeID is the deterministic id given to an edge stored without one.
func EdgeID(source, target, sourceHandle string) string {
	id := source + "->" + target
	if sourceHandle != "" {
		id += ":" + sourceHandle
	}

	return id
}

func (z *normalizer) startNode(v any) {
	z.out.StartNodeID = asString(v)
	if z.out.StartNodeID != "" {
		return
	}

	for _, id := range z.out.NodeIDs() {
		if z.out.Nodes[id].Type == models.NodeTypeStart {
			z.out.StartNodeID = id
			z.warnf("workflow")("startNodeId missing, using START node %q", id)

			return
		}
	}
}
