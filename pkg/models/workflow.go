package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// CurrentSchemaVersion is stamped on every compiled workflow. Documents carrying
// an older (or no) version are recompiled by the auto-heal job.
const CurrentSchemaVersion = 3

// Workflow is a tenant-owned, versioned node/edge graph. It is only ever
// persisted in the compiled form produced by the compiler package.
type Workflow struct {
	ID            string           `json:"id"                 validate:"required"`
	CreatorID     string           `json:"creatorId"          validate:"required"`
	Name          string           `json:"name"               validate:"required,min=1,max=120"`
	Description   string           `json:"description,omitempty"`
	IsActive      bool             `json:"isActive"`
	IsDefault     bool             `json:"isDefault"`
	Triggers      []Trigger        `json:"triggers"           validate:"min=1"`
	StartNodeID   string           `json:"startNodeId"        validate:"required"`
	Nodes         map[string]*Node `json:"nodes"              validate:"min=1"`
	Edges         []Edge           `json:"edges"`
	PresetID      string           `json:"presetId,omitempty"`
	SchemaVersion int              `json:"schemaVersion"`
	Revision      int              `json:"revision"`
	CompiledAt    time.Time        `json:"compiledAt"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Compiled reports whether the workflow was produced by the current compiler.
// Only compiled workflows may be executed.
func (w *Workflow) Compiled() bool {
	return w != nil && w.SchemaVersion == CurrentSchemaVersion && !w.CompiledAt.IsZero()
}

// Node returns the node with the given id, or nil.
func (w *Workflow) Node(id string) *Node {
	if w == nil || w.Nodes == nil {
		return nil
	}

	return w.Nodes[id]
}

// Outgoing returns the edges leaving nodeID in declaration order.
func (w *Workflow) Outgoing(nodeID string) []Edge {
	var out []Edge

	for _, edge := range w.Edges {
		if edge.Source == nodeID {
			out = append(out, edge)
		}
	}

	return out
}

// Document converts the workflow to the untyped document shape accepted by the compiler.
func (w *Workflow) Document() (map[string]any, error) {
	return ToDocument(w)
}

// ToDocument round-trips any JSON-encodable value into a raw document.
func ToDocument(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	return doc, nil
}

// RawDocument is a stored workflow exactly as persisted, possibly written by an
// earlier schema version. Err is set, and Data is nil, when the stored body
// could not be read or decoded; listing never fails because of one document.
type RawDocument struct {
	CreatorID string
	ID        string
	Data      map[string]any
	Err       error
}
