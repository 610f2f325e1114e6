package db

import (
	"encoding/json"
	"strings"
)

// ParseListField decodes a list column stored as a JSON array of strings.
// Anything that is not a JSON string array (empty, NULL, malformed, wrong
// element type) yields a copy of def. Entries are trimmed and blanks dropped.
func ParseListField(raw string, def []string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return copyList(def)
	}

	var values []string
	if err := json.Unmarshal([]byte(trimmed), &values); err != nil {
		return copyList(def)
	}

	return sanitizeStringSlice(values)
}

// parseNullableList is ParseListField for nullable columns.
func parseNullableList(raw *string) []string {
	if raw == nil {
		return []string{}
	}
	return ParseListField(*raw, nil)
}

// EncodeListField is the inverse of ParseListField.
func EncodeListField(values []string) string {
	clean := sanitizeStringSlice(values)
	payload, err := json.Marshal(clean)
	if err != nil {
		return "[]"
	}
	return string(payload)
}

func copyList(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func sanitizeStringSlice(values []string) []string {
	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			clean = append(clean, trimmed)
		}
	}

	return clean
}
