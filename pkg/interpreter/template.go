package interpreter

import (
	"regexp"

	"github.com/dukex/convoflow/pkg/expr"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// Interpolate replaces {{name}} and {{ vars.name }} placeholders with values
// from vars. Missing values render as an empty string.
func Interpolate(template string, vars map[string]any) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		path := placeholder.FindStringSubmatch(match)[1]

		value, err := expr.Evaluate(path, vars)
		if err != nil {
			return ""
		}

		return expr.Stringify(value)
	})
}
