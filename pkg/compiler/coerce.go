package compiler

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// The coercion helpers accept whatever encoding/json, yaml.v3 or a document
// store may hand back for a field and never fail: unusable values yield the
// type's empty value.

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)

	return m
}

func asSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []map[string]any:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}

		return out
	default:
		return nil
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

// asStringSlice accepts a list or a single scalar; blanks are dropped.
func asStringSlice(v any) []string {
	out := []string{}

	switch s := v.(type) {
	case nil:
		return out
	case []string:
		for _, item := range s {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	case []any:
		for _, item := range s {
			if str := asString(item); str != "" {
				out = append(out, str)
			}
		}
	default:
		if str := asString(s); str != "" {
			out = append(out, str)
		}
	}

	return out
}

// CoerceInt reads an integer from the number encodings found in stored documents.
func CoerceInt(v any) (int, bool) {
	return asInt(v)
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}

		return int(n), true
	case float32:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}

			return int(f), true
		}

		return int(i), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}

		return int(f), true
	default:
		return 0, false
	}
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))

		return err == nil && parsed
	default:
		n, ok := asInt(v)

		return ok && n != 0
	}
}

// deepCopy clones a JSON-shaped value so callers can rewrite documents without
// touching the stored original.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = deepCopy(item)
		}

		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopy(item)
		}

		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopy(item)
		}

		return out
	default:
		return t
	}
}

// CloneDocument returns a deep copy of a raw workflow document.
func CloneDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}

	return deepCopy(doc).(map[string]any)
}

// canonicalToken upper-cases a type tag and unifies separators.
func canonicalToken(v any) string {
	s := strings.ToUpper(asString(v))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)

	return s
}
