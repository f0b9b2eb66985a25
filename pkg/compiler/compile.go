// Package compiler turns arbitrary, possibly legacy workflow documents into
// canonical graphs that are safe to execute. Compile is the only sanctioned
// way to produce a workflow for persistence.
package compiler

import (
	"time"

	"github.com/dukex/convoflow/pkg/models"
)

// Options control the version metadata stamped by Compile.
type Options struct {
	PreviousRevision  int
	PreserveCreatedAt *time.Time

	// Now defaults to time.Now.
	Now func() time.Time
}

// Result is the outcome of a compilation. Workflow is always populated but
// must not be persisted when Errors is non-empty.
type Result struct {
	Workflow *models.Workflow `json:"workflow"`
	Warnings []string         `json:"warnings"`
	Errors   []string         `json:"errors"`
}

// OK reports whether the workflow may be persisted.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

// Compile normalizes and validates raw, then stamps schema version, revision
// and timestamps. It is pure and safe for concurrent use.
func Compile(raw map[string]any, opts Options) *Result {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	if raw == nil {
		raw = map[string]any{}
	}

	normalized := Normalize(raw)

	report := Validate(normalized)
	report.Merge(ValidateRequiredFields(normalized))

	wf := &models.Workflow{
		ID:          asString(raw["id"]),
		CreatorID:   asString(raw["creatorId"]),
		Name:        asString(raw["name"]),
		Description: asString(raw["description"]),
		IsActive:    asBool(raw["isActive"]),
		IsDefault:   asBool(raw["isDefault"]),
		Triggers:    normalized.Triggers,
		StartNodeID: normalized.StartNodeID,
		Nodes:       normalized.Nodes,
		Edges:       normalized.Edges,
		PresetID:    asString(raw["presetId"]),
		Revision:    opts.PreviousRevision,
	}

	result := &Result{
		Workflow: wf,
		Warnings: append(normalized.Warnings, report.Warnings...),
		Errors:   report.Errors,
	}

	if !result.OK() {
		return result
	}

	stamp := now().UTC()

	wf.SchemaVersion = models.CurrentSchemaVersion
	wf.Revision = opts.PreviousRevision + 1
	wf.CompiledAt = stamp
	wf.UpdatedAt = stamp

	switch {
	case opts.PreserveCreatedAt != nil && !opts.PreserveCreatedAt.IsZero():
		wf.CreatedAt = opts.PreserveCreatedAt.UTC()
	default:
		wf.CreatedAt = CoerceTime(raw["createdAt"], stamp)
	}

	return result
}
