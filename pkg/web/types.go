// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"github.com/dukex/convoflow/pkg/autoheal"
	"github.com/dukex/convoflow/pkg/interpreter"
	"github.com/dukex/convoflow/pkg/models"
)

// CompileRequest asks for a dry-run compilation of a raw document.
type CompileRequest struct {
	CreatorID string         `json:"creatorId" validate:"required"`
	Workflow  map[string]any `json:"workflow"  validate:"required"`
}

// WorkflowResponse is returned by successful writes.
type WorkflowResponse struct {
	Workflow *models.Workflow `json:"workflow"`
	Warnings []string         `json:"warnings"`
}

// CreateFromPresetRequest overrides top-level fields of the preset. All
// fields are optional.
type CreateFromPresetRequest struct {
	Name        *string `json:"name,omitempty"        validate:"omitempty,min=1,max=120"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"isActive,omitempty"`
	IsDefault   *bool   `json:"isDefault,omitempty"`
}

// Overrides returns the fields that were set, keyed by document field.
func (r CreateFromPresetRequest) Overrides() map[string]any {
	out := map[string]any{}

	if r.Name != nil {
		out["name"] = *r.Name
	}

	if r.Description != nil {
		out["description"] = *r.Description
	}

	if r.IsActive != nil {
		out["isActive"] = *r.IsActive
	}

	if r.IsDefault != nil {
		out["isDefault"] = *r.IsDefault
	}

	return out
}

// AutohealRequest configures an on-demand auto-heal run. DryRun defaults to
// true when omitted.
type AutohealRequest struct {
	DryRun       *bool  `json:"dryRun,omitempty"`
	OnlyActive   bool   `json:"onlyActive"`
	CreatorID    string `json:"creatorId"`
	MaxCreators  int    `json:"maxCreators"  validate:"gte=0"`
	MaxWorkflows int    `json:"maxWorkflows" validate:"gte=0"`
	BatchSize    int    `json:"batchSize"    validate:"gte=0,lte=500"`
}

// Options converts the request into healer options.
func (r AutohealRequest) Options() autoheal.Options {
	dryRun := true
	if r.DryRun != nil {
		dryRun = *r.DryRun
	}

	return autoheal.Options{
		DryRun:       dryRun,
		OnlyActive:   r.OnlyActive,
		CreatorID:    r.CreatorID,
		MaxCreators:  r.MaxCreators,
		MaxWorkflows: r.MaxWorkflows,
		BatchSize:    r.BatchSize,
	}
}

// MessageRequest is an inbound conversation signal.
type MessageRequest struct {
	Text       string                `json:"text"`
	ProductIDs []string              `json:"productIds,omitempty"`
	Kind       interpreter.EventKind `json:"kind,omitempty" validate:"omitempty,oneof=start message timeout"`
}
