package compiler

import (
	"encoding/json"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// CoerceTime converts the timestamp encodings found in stored documents
// (time values, ISO strings, Firestore-like {_seconds,_nanoseconds} maps and
// epoch milliseconds) to a UTC time. Anything unusable yields fallback.
func CoerceTime(v any, fallback time.Time) time.Time {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return fallback.UTC()
		}

		return t.UTC()
	case *time.Time:
		if t == nil || t.IsZero() {
			return fallback.UTC()
		}

		return t.UTC()
	case string:
		s := strings.TrimSpace(t)

		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC()
			}
		}
	case map[string]any:
		if ts, ok := firestoreTime(t); ok {
			return ts
		}
	case float64, int, int64, json.Number:
		if ms, ok := asInt(t); ok && ms > 0 {
			return time.UnixMilli(int64(ms)).UTC()
		}
	}

	return fallback.UTC()
}

func firestoreTime(m map[string]any) (time.Time, bool) {
	for _, keys := range [][2]string{{"_seconds", "_nanoseconds"}, {"seconds", "nanos"}, {"seconds", "nanoseconds"}} {
		raw, ok := m[keys[0]]
		if !ok {
			continue
		}

		seconds, ok := asInt(raw)
		if !ok {
			return time.Time{}, false
		}

		nanos, _ := asInt(m[keys[1]])

		return time.Unix(int64(seconds), int64(nanos)).UTC(), true
	}

	return time.Time{}, false
}
