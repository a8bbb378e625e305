package index

import (
	"encoding/json"
	"strconv"
)

// Row scanning helpers. The store returns column→value maps with driver
// types (int64, float64, string, nil); JSON columns come back as text.

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return ""
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case float64:
		return b != 0
	case string:
		return b == "1" || b == "true" || b == "TRUE"
	default:
		return false
	}
}

// jsonObject parses a JSON object column; NULL and JSON null come back nil.
func jsonObject(v any) map[string]any {
	text := asString(v)
	if text == "" || text == "null" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil
	}
	return out
}

// jsonStrings parses a JSON string-array column.
func jsonStrings(v any) []string {
	text := asString(v)
	if text == "" || text == "null" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil
	}
	return out
}

// jsonStringMap parses a JSON object column whose values are strings.
func jsonStringMap(v any) map[string]string {
	text := asString(v)
	if text == "" || text == "null" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil
	}
	return out
}

// jsonErrorDoc parses an error_doc column.
func jsonErrorDoc(v any) *ErrorDoc {
	text := asString(v)
	if text == "" || text == "null" {
		return nil
	}
	var out ErrorDoc
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil
	}
	return &out
}
