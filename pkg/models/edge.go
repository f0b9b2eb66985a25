package models

// Edge is a directed transition between two nodes. SourceHandle selects among
// the outgoing edges of a branching node.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Label        string `json:"label,omitempty"`
}
