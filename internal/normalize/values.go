package normalize

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// decode turns a raw payload into generic JSON values. Malformed input yields nil.
func decode(raw json.RawMessage) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var out any
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil
	}
	return out
}

func asMap(input any) map[string]any {
	m, _ := input.(map[string]any)
	return m
}

func asSlice(input any) []any {
	s, _ := input.([]any)
	return s
}

func getByPath(input map[string]any, dottedPath string) any {
	current := any(input)
	for _, segment := range strings.Split(dottedPath, ".") {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = asMap[segment]
	}
	return current
}

func toString(input any) (string, bool) {
	switch value := input.(type) {
	case string:
		return strings.TrimSpace(value), true
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(value), true
	default:
		return "", false
	}
}

// str returns the first non-empty scalar found under any of the dotted paths.
func str(m map[string]any, paths ...string) string {
	if m == nil {
		return ""
	}
	for _, path := range paths {
		if value, ok := toString(getByPath(m, path)); ok && value != "" {
			return value
		}
	}
	return ""
}

// first returns the first non-nil value found under any of the dotted paths.
func first(m map[string]any, paths ...string) any {
	if m == nil {
		return nil
	}
	for _, path := range paths {
		if value := getByPath(m, path); value != nil {
			return value
		}
	}
	return nil
}

func truthy(input any) bool {
	switch value := input.(type) {
	case bool:
		return value
	case string:
		v := strings.ToLower(strings.TrimSpace(value))
		return v != "" && v != "false" && v != "0"
	case float64:
		return value != 0
	default:
		return input != nil
	}
}

// text joins a string or a list of paragraph strings.
func text(input any) string {
	switch value := input.(type) {
	case string:
		return strings.TrimSpace(value)
	case []any:
		parts := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := toString(item); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n\n")
	case map[string]any:
		if paragraphs, ok := value["paragraphs"]; ok {
			return text(paragraphs)
		}
		return str(value, "paragraph", "text", "content")
	default:
		s, _ := toString(input)
		return s
	}
}

func isNumber(value string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	return err == nil
}
