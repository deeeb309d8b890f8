package llm

import (
	"encoding/json"
	"strings"
)

// BuildReportSystemPrompt is the instruction block for full report extraction.
func BuildReportSystemPrompt() string {
	parts := []string{
		"You extract structured information from government audit reports (Medicaid and related programs).",
		"Return ONLY JSON that matches the provided JSON Schema.",
		"'title' is the exact full report title in Title Case; no quotes, report numbers or surrounding labels.",
		"'agency' is the full legal name of the auditing organization. No abbreviations or acronyms.",
		"'state' is the two-letter US state code of the publishing agency. Use 'US' for federal agencies and nationwide reports.",
		"'audit_scope' is the period the audit covers.",
		"Each objective, finding and recommendation is a separate entry without numbering, labels or 'Finding 1:' prefixes.",
		"When a finding states a dollar amount (overpayments, questioned costs), put it in 'financial_impact' as a plain number.",
		"'summary' is a short insight about the report. 'keywords' holds 5-10 terms that best represent the report.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

// BuildReportUserPrompt wraps the (already truncated) document text.
func BuildReportUserPrompt(text string, schema map[string]any) string {
	var b strings.Builder
	b.WriteString("Extract structured data from the following audit report text.\n")
	b.WriteString("If the text is cut off, extract as much as possible from what is provided.\n\n")
	b.WriteString("JSON Schema:\n")
	b.WriteString(mustJSON(schema))
	b.WriteString("\n\nReport text:\n")
	b.WriteString(text)
	return b.String()
}

func BuildClassifySystemPrompt() string {
	return "You are a document classification expert. Decide whether a document is a Medicaid audit report. " +
		"A Medicaid audit report contains findings, recommendations or analysis of Medicaid program operations. " +
		"Manuals, guides, forms, policies, newsletters and general healthcare documents are not audit reports. " +
		"Use 'uncertain' when the information is insufficient. Respond only with valid JSON."
}

func BuildClassifyUserPrompt(c Candidate, schema map[string]any) string {
	orNone := func(s, none string) string {
		if s = strings.TrimSpace(s); s == "" {
			return none
		}
		return s
	}
	var b strings.Builder
	b.WriteString("Document information:\n")
	b.WriteString("- Title: " + orNone(c.Title, "No title available") + "\n")
	b.WriteString("- Snippet: " + orNone(c.Snippet, "No snippet available") + "\n")
	b.WriteString("- URL: " + orNone(c.URL, "No URL available") + "\n")
	if a := strings.TrimSpace(c.Agency); a != "" {
		b.WriteString("- Agency: " + a + "\n")
	}
	b.WriteString("\n'document_type' is one of audit_report, manual, guide, form, policy, other.\n")
	b.WriteString("JSON Schema:\n")
	b.WriteString(mustJSON(schema))
	return b.String()
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
