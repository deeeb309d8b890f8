package llm

// BuildReportJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// It goes into the prompt and is also used locally to validate.
func BuildReportJSONSchema() map[string]any {
	keywords := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string", "minLength": 1},
	}
	props := map[string]any{
		"title":              map[string]any{"type": "string", "minLength": 1},
		"agency":             map[string]any{"type": "string", "minLength": 1},
		"state":              map[string]any{"type": "string", "pattern": `^[A-Z]{2}$`},
		"audit_scope":        map[string]any{"type": "string"},
		"publication_year":   map[string]any{"type": "integer", "minimum": 1900, "maximum": 2100},
		"publication_month":  map[string]any{"type": "integer", "minimum": 1, "maximum": 12},
		"publication_day":    map[string]any{"type": "integer", "minimum": 1, "maximum": 31},
		"overall_conclusion": map[string]any{"type": "string"},
		"summary":            map[string]any{"type": "string"},
		"objectives": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "minLength": 1},
		},
		"findings": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"text"},
				"properties": map[string]any{
					"text":             map[string]any{"type": "string", "minLength": 1},
					"financial_impact": map[string]any{"type": "number", "minimum": 0},
					"keywords":         keywords,
				},
			},
		},
		"recommendations": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"text"},
				"properties": map[string]any{
					"text":     map[string]any{"type": "string", "minLength": 1},
					"keywords": keywords,
				},
			},
		},
		"keywords": keywords,
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             []string{"title", "agency", "publication_year"},
	}
}

// BuildClassificationJSONSchema is the relevance-only schema used for queue items.
func BuildClassificationJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"verdict":       map[string]any{"type": "string", "enum": []string{"relevant", "irrelevant", "uncertain"}},
			"confidence":    map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"reasoning":     map[string]any{"type": "string"},
			"document_type": map[string]any{"type": "string"},
		},
		"required": []string{"verdict", "confidence"},
	}
}
