package pipeline

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/keywords"
	"github.com/joseph-ayodele/audit-reports/internal/llm"
)

const maxSlugTitle = 80

// Slug is the slugified title plus the first 12 hex chars of the fingerprint.
func Slug(title, fp string) string {
	base := keywords.Slugify(title)
	if utf8.RuneCountInString(base) > maxSlugTitle {
		base = strings.TrimRight(string([]rune(base)[:maxSlugTitle]), "-")
	}
	if base == "" {
		base = "report"
	}
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return base + "-" + fp
}

func buildReport(doc Document, a *Analysis) *entity.Report {
	f := a.Fields
	rep := &entity.Report{
		ID:                uuid.New(),
		Fingerprint:       a.Fingerprint,
		Slug:              Slug(f.Title, a.Fingerprint),
		Title:             f.Title,
		Agency:            f.Agency,
		State:             f.State,
		AuditScope:        f.AuditScope,
		PublicationYear:   f.PublicationYear,
		PublicationMonth:  f.PublicationMonth,
		PublicationDay:    f.PublicationDay,
		OverallConclusion: f.OverallConclusion,
		Summary:           f.Summary,
		SourceURL:         doc.SourceURL,
		Filename:          doc.Filename,
		Channel:           doc.Channel,
		Strategy:          string(a.Strategy),
	}
	if rep.Agency == "" {
		rep.Agency = strings.TrimSpace(doc.Agency)
	}
	if rep.Channel == "" {
		rep.Channel = "upload"
	}
	for _, c := range a.Costs {
		rep.TotalCost += c.TotalCost
		rep.CostEstimated = rep.CostEstimated || c.Estimated
		if c.Status == constants.AttemptStatusSuccess {
			rep.Provider, rep.Model = c.Provider, c.Model
		}
	}
	for _, o := range f.Objectives {
		if o = strings.TrimSpace(o); o != "" {
			rep.Objectives = append(rep.Objectives, entity.Objective{Body: o})
		}
	}
	for _, fd := range f.Findings {
		rep.Findings = append(rep.Findings, entity.Finding{Body: strings.TrimSpace(fd.Text), FinancialImpact: fd.FinancialImpact})
	}
	for _, r := range f.Recommendations {
		rep.Recommendations = append(rep.Recommendations, entity.Recommendation{Body: strings.TrimSpace(r.Text)})
	}
	return rep
}

// mentionsOf must run after the report is created: children get their ids there.
func mentionsOf(rep *entity.Report, f llm.ReportFields) []keywords.Mention {
	var out []keywords.Mention
	for _, k := range f.Keywords {
		out = append(out, keywords.Mention{ScopeKind: constants.ScopeReport, ScopeID: rep.ID, Raw: k})
	}
	for i, fd := range f.Findings {
		if i >= len(rep.Findings) {
			break
		}
		for _, k := range fd.Keywords {
			out = append(out, keywords.Mention{ScopeKind: constants.ScopeFinding, ScopeID: rep.Findings[i].ID, Raw: k})
		}
	}
	for i, r := range f.Recommendations {
		if i >= len(rep.Recommendations) {
			break
		}
		for _, k := range r.Keywords {
			out = append(out, keywords.Mention{ScopeKind: constants.ScopeRecommendation, ScopeID: rep.Recommendations[i].ID, Raw: k})
		}
	}
	return out
}
