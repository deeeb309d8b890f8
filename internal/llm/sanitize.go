package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strconv"
	"strings"
)

var reMoney = regexp.MustCompile(`[^0-9.\-]`)

// NormalizeAndSanitizeJSON is the lenient pass for report output:
// - Renames known synonyms (report_title -> title, llm_insight -> summary, ...)
// - Drops null/empty optionals
// - Coerces numeric strings for dates and money
// - Turns plain-string findings/recommendations into objects
// - Removes unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			// don't overwrite existing value if already present
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			dropped = append(dropped, from+"->"+to)
		}
	}

	// 1) rename synonyms
	renamed("report_title", "title")
	renamed("audit_organization", "agency")
	renamed("organization", "agency")
	renamed("llm_insight", "summary")
	renamed("extracted_keywords", "keywords")
	renamed("conclusion", "overall_conclusion")

	// 2) dates: "2023" -> 2023, 0 / junk -> drop
	for _, k := range []string{"publication_year", "publication_month", "publication_day"} {
		v, ok := m[k]
		if !ok {
			continue
		}
		n, ok := asInt(v)
		if !ok || n <= 0 {
			delete(m, k)
			dropped = append(dropped, k+"(invalid)")
			continue
		}
		m[k] = n
	}

	// 3) state: upper-case two letters, otherwise drop and let defaults apply
	if v, ok := m["state"].(string); ok {
		s := strings.ToUpper(strings.TrimSpace(v))
		if len(s) == 2 {
			m["state"] = s
		} else {
			delete(m, "state")
			dropped = append(dropped, "state(invalid)")
		}
	}

	// 4) list fields
	if v, ok := m["objectives"]; ok {
		m["objectives"] = stringList(v, "text", "objective")
	}
	if v, ok := m["keywords"]; ok {
		m["keywords"] = keywordList(v)
	}
	if v, ok := m["findings"]; ok {
		m["findings"] = itemList(v, true, &dropped)
	}
	if v, ok := m["recommendations"]; ok {
		m["recommendations"] = itemList(v, false, &dropped)
	}

	// 5) remove unknown keys (everything not in the schema set below)
	allowed := map[string]struct{}{
		"title": {}, "agency": {}, "state": {}, "audit_scope": {},
		"publication_year": {}, "publication_month": {}, "publication_day": {},
		"objectives": {}, "findings": {}, "recommendations": {},
		"overall_conclusion": {}, "summary": {}, "keywords": {},
	}
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	// 6) trim obvious strings, drop null/empty
	for _, k := range []string{"title", "agency", "audit_scope", "overall_conclusion", "summary"} {
		switch v := m[k].(type) {
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				delete(m, k)
				dropped = append(dropped, k+"(empty)")
			} else {
				m[k] = s
			}
		case nil:
			if _, present := m[k]; present {
				delete(m, k)
				dropped = append(dropped, k+"(null)")
			}
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), t == float64(int(t))
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

// stringList accepts ["a", "b"] or [{"text": "a"}] and returns non-empty strings.
func stringList(v any, keys ...string) []any {
	arr, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return []any{strings.TrimSpace(s)}
		}
		return []any{}
	}
	out := make([]any, 0, len(arr))
	for _, it := range arr {
		switch t := it.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			for _, k := range keys {
				if s, ok := t[k].(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
					break
				}
			}
		}
	}
	return out
}

// keywordList also splits a single comma-separated string.
func keywordList(v any) []any {
	if s, ok := v.(string); ok {
		parts := strings.Split(s, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return stringList(v, "keyword", "text")
}

func itemList(v any, withImpact bool, dropped *[]string) []any {
	arr, ok := v.([]any)
	if !ok {
		*dropped = append(*dropped, "items(type)")
		return []any{}
	}
	out := make([]any, 0, len(arr))
	for _, it := range arr {
		switch t := it.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, map[string]any{"text": s})
			}
		case map[string]any:
			text := ""
			for _, k := range []string{"text", "finding", "recommendation", "description"} {
				if s, ok := t[k].(string); ok && strings.TrimSpace(s) != "" {
					text = strings.TrimSpace(s)
					break
				}
			}
			if text == "" {
				*dropped = append(*dropped, "item(empty)")
				continue
			}
			item := map[string]any{"text": text}
			if kw, ok := t["keywords"]; ok {
				item["keywords"] = keywordList(kw)
			}
			if withImpact {
				if f, ok := money(t["financial_impact"]); ok {
					item["financial_impact"] = f
				}
			}
			out = append(out, item)
		}
	}
	return out
}

// money accepts 1200, "1200.50" and "$1,200.50". Negative or unparsable values are dropped.
func money(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, t >= 0
	case string:
		s := reMoney.ReplaceAllString(t, "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil && f >= 0
	}
	return 0, false
}
