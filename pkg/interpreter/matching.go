package interpreter

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/dukex/convoflow/pkg/models"
)

// Fold lower-cases s and strips diacritics so "Agendár" matches "agendar".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	return strings.TrimSpace(cases.Fold().String(stripped))
}

func containsKeyword(foldedText, keyword string) bool {
	k := Fold(keyword)

	return k != "" && strings.Contains(foldedText, k)
}

// MatchIntent returns the first intent with a keyword contained in text.
func MatchIntent(intents []models.Intent, text string) (string, bool) {
	folded := Fold(text)
	if folded == "" {
		return "", false
	}

	for _, intent := range intents {
		for _, keyword := range intent.Keywords {
			if containsKeyword(folded, keyword) {
				return intent.Name, true
			}
		}
	}

	return "", false
}

// Inbound describes the message a trigger is matched against.
type Inbound struct {
	Text       string
	ProductIDs []string
}

// MatchTriggers reports whether any trigger matches. specific is true when a
// KEYWORD or PRODUCT_MENTION trigger matched rather than ALWAYS.
func MatchTriggers(triggers []models.Trigger, in Inbound) (matched bool, specific bool) {
	folded := Fold(in.Text)

	for _, trigger := range triggers {
		switch trigger.Type {
		case models.TriggerAlways:
			matched = true
		case models.TriggerKeyword:
			for _, keyword := range trigger.Conditions {
				if containsKeyword(folded, keyword) {
					return true, true
				}
			}
		case models.TriggerProductMention:
			for _, id := range trigger.ProductIDs {
				if slices.Contains(in.ProductIDs, id) || containsKeyword(folded, id) {
					return true, true
				}
			}
		}
	}

	return matched, false
}

// SelectWorkflow picks the workflow an inbound message starts. Active
// workflows with a matching KEYWORD or PRODUCT_MENTION trigger win over
// active ones matching through ALWAYS; the tenant's default workflow is the
// fallback. Workflows that were never compiled are not eligible. It returns
// nil when nothing applies.
func SelectWorkflow(workflows []*models.Workflow, in Inbound) *models.Workflow {
	var always, fallback *models.Workflow

	for _, wf := range workflows {
		if !wf.Compiled() {
			continue
		}

		if wf.IsDefault && fallback == nil {
			fallback = wf
		}

		if !wf.IsActive {
			continue
		}

		matched, specific := MatchTriggers(wf.Triggers, in)

		switch {
		case specific:
			return wf
		case matched && always == nil:
			always = wf
		}
	}

	if always != nil {
		return always
	}

	return fallback
}

// SupersedingWorkflow returns the first compiled, active workflow other than
// currentID whose KEYWORD or PRODUCT_MENTION trigger matches in, or nil.
// ALWAYS triggers and the default fallback never interrupt a running execution.
func SupersedingWorkflow(workflows []*models.Workflow, currentID string, in Inbound) *models.Workflow {
	for _, wf := range workflows {
		if !wf.Compiled() || !wf.IsActive || wf.ID == currentID {
			continue
		}

		if _, specific := MatchTriggers(wf.Triggers, in); specific {
			return wf
		}
	}

	return nil
}
