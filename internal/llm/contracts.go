package llm

import (
	"context"

	"github.com/joseph-ayodele/audit-reports/constants"
)

// ReportFields is the normalized shape we want from the model for a full report.
type ReportFields struct {
	Title             string                 `json:"title"`
	Agency            string                 `json:"agency"`
	State             string                 `json:"state,omitempty"` // two-letter code, "US" for federal
	AuditScope        string                 `json:"audit_scope,omitempty"`
	PublicationYear   int                    `json:"publication_year"`
	PublicationMonth  int                    `json:"publication_month,omitempty"`
	PublicationDay    int                    `json:"publication_day,omitempty"`
	Objectives        []string               `json:"objectives,omitempty"`
	Findings          []FindingFields        `json:"findings,omitempty"`
	Recommendations   []RecommendationFields `json:"recommendations,omitempty"`
	OverallConclusion string                 `json:"overall_conclusion,omitempty"`
	Summary           string                 `json:"summary,omitempty"`
	Keywords          []string               `json:"keywords,omitempty"`
}

type FindingFields struct {
	Text            string   `json:"text"`
	FinancialImpact *float64 `json:"financial_impact,omitempty"` // USD
	Keywords        []string `json:"keywords,omitempty"`
}

type RecommendationFields struct {
	Text     string   `json:"text"`
	Keywords []string `json:"keywords,omitempty"`
}

// Candidate is what the classifier sees of a search hit.
type Candidate struct {
	Title   string
	Snippet string
	URL     string
	Agency  string
}

type Classification struct {
	Verdict      constants.Verdict `json:"verdict"`
	Confidence   float64           `json:"confidence"`
	Reasoning    string            `json:"reasoning,omitempty"`
	DocumentType string            `json:"document_type,omitempty"`
}

// Request is one structured-output call. Schema is embedded in the prompt by
// providers that cannot enforce it natively.
type Request struct {
	System          string
	User            string
	Schema          map[string]any
	SchemaName      string
	MaxOutputTokens int
}

// Usage is what the provider billed. Reported is false when the response
// carried no usage block and the caller has to estimate.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Reported     bool
}

// Provider is the boundary every AI backend implements.
type Provider interface {
	Name() constants.Provider
	Model() string
	GenerateStructured(ctx context.Context, req Request) ([]byte, Usage, error)
}
