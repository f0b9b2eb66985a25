package interpreter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dukex/convoflow/pkg/models"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "agendar", Fold(" Agendár "))
	assert.Equal(t, "preco promocao", Fold("PREÇO Promoção"))
	assert.Equal(t, "", Fold(""))
}

func TestMatchTriggers(t *testing.T) {
	tests := []struct {
		name     string
		triggers []models.Trigger
		inbound  Inbound
		matched  bool
		specific bool
	}{
		{
			name:     "always",
			triggers: []models.Trigger{{Type: models.TriggerAlways}},
			inbound:  Inbound{Text: "oi"},
			matched:  true,
		},
		{
			name:     "keyword with accents",
			triggers: []models.Trigger{{Type: models.TriggerKeyword, Conditions: []string{"agendar"}}},
			inbound:  Inbound{Text: "Quero AGENDÁR uma visita"},
			matched:  true,
			specific: true,
		},
		{
			name:     "keyword miss",
			triggers: []models.Trigger{{Type: models.TriggerKeyword, Conditions: []string{"agendar"}}},
			inbound:  Inbound{Text: "bom dia"},
		},
		{
			name:     "product id attached",
			triggers: []models.Trigger{{Type: models.TriggerProductMention, ProductIDs: []string{"sku-1"}}},
			inbound:  Inbound{ProductIDs: []string{"sku-1"}},
			matched:  true,
			specific: true,
		},
		{
			name: "keyword beats always",
			triggers: []models.Trigger{
				{Type: models.TriggerAlways},
				{Type: models.TriggerKeyword, Conditions: []string{"promo"}},
			},
			inbound:  Inbound{Text: "tem promo?"},
			matched:  true,
			specific: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, specific := MatchTriggers(tt.triggers, tt.inbound)

			assert.Equal(t, tt.matched, matched)
			assert.Equal(t, tt.specific, specific)
		})
	}
}

func compiledWorkflow(id string, active bool, triggers ...models.Trigger) *models.Workflow {
	return &models.Workflow{
		ID:            id,
		IsActive:      active,
		Triggers:      triggers,
		SchemaVersion: models.CurrentSchemaVersion,
		CompiledAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSelectWorkflow(t *testing.T) {
	fallback := compiledWorkflow("default", false, models.Trigger{Type: models.TriggerKeyword, Conditions: []string{"x"}})
	fallback.IsDefault = true
	always := compiledWorkflow("always", true, models.Trigger{Type: models.TriggerAlways})
	keyword := compiledWorkflow("keyword", true, models.Trigger{Type: models.TriggerKeyword, Conditions: []string{"agendar"}})
	inactive := compiledWorkflow("inactive", false, models.Trigger{Type: models.TriggerKeyword, Conditions: []string{"agendar"}})

	assert.Equal(t, keyword, SelectWorkflow([]*models.Workflow{always, inactive, keyword}, Inbound{Text: "agendar"}))
	assert.Equal(t, always, SelectWorkflow([]*models.Workflow{always, keyword}, Inbound{Text: "oi"}))
	assert.Equal(t, fallback, SelectWorkflow([]*models.Workflow{fallback, inactive, nil}, Inbound{Text: "oi"}))
	assert.Nil(t, SelectWorkflow(nil, Inbound{Text: "oi"}))
}

func TestSelectWorkflow_SkipsUncompiled(t *testing.T) {
	stale := compiledWorkflow("stale", true, models.Trigger{Type: models.TriggerAlways})
	stale.SchemaVersion = 0
	legacy := &models.Workflow{ID: "legacy", IsActive: true, IsDefault: true, Triggers: []models.Trigger{{Type: models.TriggerAlways}}}
	always := compiledWorkflow("always", true, models.Trigger{Type: models.TriggerAlways})

	assert.Equal(t, always, SelectWorkflow([]*models.Workflow{stale, legacy, always}, Inbound{Text: "oi"}))
	assert.Nil(t, SelectWorkflow([]*models.Workflow{stale, legacy}, Inbound{Text: "oi"}))
}

func TestSupersedingWorkflow(t *testing.T) {
	current := compiledWorkflow("signup", true, models.Trigger{Type: models.TriggerKeyword, Conditions: []string{"ajuda"}})
	always := compiledWorkflow("always", true, models.Trigger{Type: models.TriggerAlways})
	inactive := compiledWorkflow("inactive", false, models.Trigger{Type: models.TriggerKeyword, Conditions: []string{"ajuda"}})
	uncompiled := &models.Workflow{ID: "legacy", IsActive: true, Triggers: []models.Trigger{{Type: models.TriggerKeyword, Conditions: []string{"ajuda"}}}}
	support := compiledWorkflow("support", true, models.Trigger{Type: models.TriggerKeyword, Conditions: []string{"ajuda"}})

	workflows := []*models.Workflow{current, always, inactive, uncompiled, nil, support}

	assert.Equal(t, support, SupersedingWorkflow(workflows, "signup", Inbound{Text: "preciso de ajuda"}))
	assert.Nil(t, SupersedingWorkflow(workflows, "signup", Inbound{Text: "oi"}))
	assert.Nil(t, SupersedingWorkflow(workflows, "support", Inbound{Text: "oi"}))
	assert.Equal(t, current, SupersedingWorkflow(workflows, "support", Inbound{Text: "ajuda"}))
}

func TestMatchIntent(t *testing.T) {
	intents := []models.Intent{
		{Name: "buy", Keywords: []string{"comprar"}},
		{Name: "price", Keywords: []string{"preço", "valor"}},
	}

	name, ok := MatchIntent(intents, "Qual o PRECO?")
	assert.True(t, ok)
	assert.Equal(t, "price", name)

	_, ok = MatchIntent(intents, "")
	assert.False(t, ok)
}

func TestInterpolate(t *testing.T) {
	vars := map[string]any{
		"name":    "Ana",
		"total":   float64(19.9),
		"address": map[string]any{"city": "Recife"},
	}

	assert.Equal(t, "Hi Ana, from Recife", Interpolate("Hi {{name}}, from {{ vars.address.city }}", vars))
	assert.Equal(t, "Total: 19.9", Interpolate("Total: {{total}}", vars))
	assert.Equal(t, "Missing: ", Interpolate("Missing: {{ nope }}", vars))
	assert.Equal(t, "{{ not closed", Interpolate("{{ not closed", vars))
}

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name  string
		rule  *models.ValidationRule
		input string
		value any
		ok    bool
	}{
		{name: "no rule accepts text", input: " hello ", value: "hello", ok: true},
		{name: "no rule rejects blank", input: "  ", ok: false},
		{name: "email", rule: &models.ValidationRule{Type: models.ValidationEmail}, input: "ana@example.com", value: "ana@example.com", ok: true},
		{name: "bad email", rule: &models.ValidationRule{Type: models.ValidationEmail}, input: "ana@", ok: false},
		{name: "phone", rule: &models.ValidationRule{Type: models.ValidationPhone}, input: "+55 (81) 99999-0000", value: "+5581999990000", ok: true},
		{name: "short phone", rule: &models.ValidationRule{Type: models.ValidationPhone}, input: "123", ok: false},
		{name: "number", rule: &models.ValidationRule{Type: models.ValidationNumber}, input: "42", value: float64(42), ok: true},
		{name: "not a number", rule: &models.ValidationRule{Type: models.ValidationNumber}, input: "many", ok: false},
		{name: "regex", rule: &models.ValidationRule{Type: models.ValidationRegex, Pattern: `^[0-9]{5}-?[0-9]{3}$`}, input: "50030-230", value: "50030-230", ok: true},
		{name: "regex miss", rule: &models.ValidationRule{Type: models.ValidationRegex, Pattern: `^[0-9]{5}$`}, input: "abc", ok: false},
		{
			name:  "schema enum",
			rule:  &models.ValidationRule{Type: models.ValidationSchema, Schema: map[string]any{"type": "string", "enum": []any{"small", "large"}}},
			input: "large",
			value: "large",
			ok:    true,
		},
		{
			name:  "schema range",
			rule:  &models.ValidationRule{Type: models.ValidationSchema, Schema: map[string]any{"type": "integer", "minimum": 1, "maximum": 5}},
			input: "9",
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, ok := ValidateInput(tt.rule, tt.input)

			assert.Equal(t, tt.ok, ok)

			if tt.ok {
				assert.Equal(t, tt.value, value)
			}
		})
	}
}
