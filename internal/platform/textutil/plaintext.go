package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// PlainText strips markup from free text, decodes entities and collapses runs of whitespace.
func PlainText(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	cleaned := html.UnescapeString(strict.Sanitize(value))
	return strings.Join(strings.Fields(cleaned), " ")
}

// OptionalPlainText applies PlainText to an optional field. Values that end up empty become nil.
func OptionalPlainText(value *string) *string {
	if value == nil {
		return nil
	}
	cleaned := PlainText(*value)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

// PlainTextMap cleans the string values of metadata and drops entries with empty keys.
// Non-string values are kept as is.
func PlainTextMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]any, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if s, ok := value.(string); ok {
			value = PlainText(s)
		}
		result[trimmedKey] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
