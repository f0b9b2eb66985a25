// Package testutil provides workflow document builders for tests.
package testutil

import (
	"github.com/google/uuid"
)

// Override mutates a raw workflow document.
type Override func(doc map[string]any)

// CreateGreetingDocument returns the raw document start -> greet ("Hi") -> end
// with an ALWAYS trigger. Overrides are applied in order.
func CreateGreetingDocument(overrides ...Override) map[string]any {
	doc := map[string]any{
		"id":          uuid.New().String(),
		"creatorId":   "creator-1",
		"name":        "Greeting",
		"isActive":    false,
		"triggers":    []any{map[string]any{"type": "ALWAYS"}},
		"startNodeId": "start",
		"nodes": map[string]any{
			"start": map[string]any{"type": "START", "data": map[string]any{}},
			"greet": map[string]any{"type": "MESSAGE", "data": map[string]any{"message": "Hi"}},
			"end":   map[string]any{"type": "END", "data": map[string]any{}},
		},
		"edges": []any{
			map[string]any{"id": "e1", "source": "start", "target": "greet"},
			map[string]any{"id": "e2", "source": "greet", "target": "end"},
		},
	}

	for _, override := range overrides {
		override(doc)
	}

	return doc
}

// CreateLegacyDocument returns a document as written by the first schema: a
// lower-case KEYWORD trigger storing keywords, messageTemplate on a MESSAGE
// node, edges carrying condition and no version metadata.
func CreateLegacyDocument(overrides ...Override) map[string]any {
	doc := map[string]any{
		"id":        uuid.New().String(),
		"creatorId": "creator-1",
		"name":      "Scheduling",
		"triggers": []any{
			map[string]any{"type": "keyword", "keywords": []any{"agendar"}},
		},
		"startNodeId": "start",
		"nodes": map[string]any{
			"start": map[string]any{"type": "START", "data": map[string]any{}},
			"ask": map[string]any{"type": "COLLECT_INFO", "data": map[string]any{
				"question":  "Which day works for you?",
				"fieldName": "day",
			}},
			"confirm": map[string]any{"type": "MESSAGE", "data": map[string]any{
				"messageTemplate": "See you on {{day}}",
			}},
			"end": map[string]any{"type": "END", "data": map[string]any{}},
		},
		"edges": []any{
			map[string]any{"source": "start", "target": "ask"},
			map[string]any{"source": "ask", "target": "confirm"},
			map[string]any{"source": "confirm", "target": "end"},
		},
		"createdAt": map[string]any{"_seconds": float64(1700000000), "_nanoseconds": float64(0)},
	}

	for _, override := range overrides {
		override(doc)
	}

	return doc
}

// WithID sets the workflow id.
func WithID(id string) Override {
	return func(doc map[string]any) {
		doc["id"] = id
	}
}

// WithCreator sets the owning creator.
func WithCreator(creatorID string) Override {
	return func(doc map[string]any) {
		doc["creatorId"] = creatorID
	}
}

// WithActive sets isActive.
func WithActive(active bool) Override {
	return func(doc map[string]any) {
		doc["isActive"] = active
	}
}

// WithName sets the workflow name.
func WithName(name string) Override {
	return func(doc map[string]any) {
		doc["name"] = name
	}
}

// WithTriggers replaces the trigger list.
func WithTriggers(triggers ...map[string]any) Override {
	return func(doc map[string]any) {
		list := make([]any, len(triggers))
		for i, trigger := range triggers {
			list[i] = trigger
		}

		doc["triggers"] = list
	}
}

// WithNode adds or replaces a node.
func WithNode(id, nodeType string, data map[string]any) Override {
	return func(doc map[string]any) {
		nodes, _ := doc["nodes"].(map[string]any)
		if nodes == nil {
			nodes = map[string]any{}
			doc["nodes"] = nodes
		}

		if data == nil {
			data = map[string]any{}
		}

		nodes[id] = map[string]any{"type": nodeType, "data": data}
	}
}

// WithoutNode removes a node, leaving its edges dangling.
func WithoutNode(id string) Override {
	return func(doc map[string]any) {
		if nodes, ok := doc["nodes"].(map[string]any); ok {
			delete(nodes, id)
		}
	}
}

// WithEdge appends an edge. An empty id leaves it to the normalizer.
func WithEdge(id, source, target, sourceHandle string) Override {
	return func(doc map[string]any) {
		edge := map[string]any{"source": source, "target": target}
		if id != "" {
			edge["id"] = id
		}

		if sourceHandle != "" {
			edge["sourceHandle"] = sourceHandle
		}

		edges, _ := doc["edges"].([]any)
		doc["edges"] = append(edges, edge)
	}
}

// WithEdges replaces all edges.
func WithEdges(edges ...map[string]any) Override {
	return func(doc map[string]any) {
		list := make([]any, len(edges))
		for i, edge := range edges {
			list[i] = edge
		}

		doc["edges"] = list
	}
}

// WithField sets an arbitrary top-level field.
func WithField(key string, value any) Override {
	return func(doc map[string]any) {
		doc[key] = value
	}
}
