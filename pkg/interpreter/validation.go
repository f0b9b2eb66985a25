package interpreter

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/convoflow/pkg/models"
)

// DefaultInvalidInputMessage is sent when a rule carries no errorMessage.
const DefaultInvalidInputMessage = "Sorry, I could not understand that. Please try again."

var phoneCleaner = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// ValidateInput checks an inbound answer against a COLLECT_INFO rule and
// returns the value to store. Numbers are stored as float64 and phones
// without separators.
func ValidateInput(rule *models.ValidationRule, text string) (any, bool) {
	text = strings.TrimSpace(text)

	ruleType := models.ValidationText
	if rule != nil && rule.Type != "" {
		ruleType = rule.Type
	}

	var (
		value  any = text
		schema map[string]any
	)

	switch ruleType {
	case models.ValidationEmail:
		schema = map[string]any{"type": "string", "format": "email"}
	case models.ValidationPhone:
		value = phoneCleaner.Replace(text)
		schema = map[string]any{"type": "string", "pattern": `^\+?[0-9]{8,15}$`}
	case models.ValidationNumber:
		n, err := strconv.ParseFloat(strings.Replace(text, ",", ".", 1), 64)
		if err != nil {
			return nil, false
		}

		value = n
		schema = map[string]any{"type": "number"}
	case models.ValidationRegex:
		schema = map[string]any{"type": "string", "pattern": rule.Pattern}
	case models.ValidationSchema:
		value = decodeAnswer(text)
		schema = rule.Schema
	default:
		schema = map[string]any{"type": "string", "minLength": 1}
	}

	if schema == nil {
		return nil, false
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(value))
	if err != nil || !result.Valid() {
		return nil, false
	}

	return value, true
}

// Answers validated against a custom schema may be JSON; plain text is kept
// as a string.
func decodeAnswer(text string) any {
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		return decoded
	}

	return text
}

func invalidInputMessage(rule *models.ValidationRule) string {
	if rule != nil && rule.ErrorMessage != "" {
		return rule.ErrorMessage
	}

	return DefaultInvalidInputMessage
}
