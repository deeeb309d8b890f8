package entity

import (
	"time"

	"github.com/google/uuid"
)

// Report is the durable record built from one fingerprinted document.
type Report struct {
	ID                uuid.UUID `json:"id"`
	Fingerprint       string    `json:"fingerprint"`
	Slug              string    `json:"slug"`
	Title             string    `json:"title"`
	Agency            string    `json:"agency"`
	State             string    `json:"state"`
	AuditScope        string    `json:"audit_scope"`
	PublicationYear   int       `json:"publication_year,omitempty"`
	PublicationMonth  int       `json:"publication_month,omitempty"`
	PublicationDay    int       `json:"publication_day,omitempty"`
	OverallConclusion string    `json:"overall_conclusion,omitempty"`
	Summary           string    `json:"summary,omitempty"`
	SourceURL         string    `json:"source_url,omitempty"`
	Filename          string    `json:"filename,omitempty"`
	Channel           string    `json:"channel"`
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	Strategy          string    `json:"strategy"`
	TotalCost         float64   `json:"total_cost"`
	CostEstimated     bool      `json:"cost_estimated"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	Objectives      []Objective      `json:"objectives,omitempty"`
	Findings        []Finding        `json:"findings,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Keywords        []KeywordMention `json:"keywords,omitempty"`
}

type Objective struct {
	ID       uuid.UUID `json:"id"`
	ReportID uuid.UUID `json:"report_id"`
	Position int       `json:"position"`
	Body     string    `json:"body"`
}

type Finding struct {
	ID              uuid.UUID `json:"id"`
	ReportID        uuid.UUID `json:"report_id"`
	Position        int       `json:"position"`
	Body            string    `json:"body"`
	FinancialImpact *float64  `json:"financial_impact,omitempty"`
}

type Recommendation struct {
	ID       uuid.UUID `json:"id"`
	ReportID uuid.UUID `json:"report_id"`
	Position int       `json:"position"`
	Body     string    `json:"body"`
}
