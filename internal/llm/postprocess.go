package llm

import (
	"strings"
)

const DefaultAuditScope = "Audit period not stated in the report."

// ApplyDefaults fills fields the model may leave out and cleans keyword lists.
func ApplyDefaults(f *ReportFields) {
	f.Title = strings.TrimSpace(f.Title)
	f.Agency = strings.TrimSpace(f.Agency)
	f.State = strings.ToUpper(strings.TrimSpace(f.State))
	if f.State == "" {
		f.State = "US"
	}
	if strings.TrimSpace(f.AuditScope) == "" {
		f.AuditScope = DefaultAuditScope
	}
	f.Keywords = CleanKeywords(f.Keywords)
	for i := range f.Findings {
		f.Findings[i].Keywords = CleanKeywords(f.Findings[i].Keywords)
	}
	for i := range f.Recommendations {
		f.Recommendations[i].Keywords = CleanKeywords(f.Recommendations[i].Keywords)
	}
}

// CleanKeywords lower-cases, trims and de-duplicates, keeping first-seen order.
func CleanKeywords(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
