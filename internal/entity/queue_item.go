package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/constants"
)

// QueueItem is a search-discovered candidate awaiting classification and review.
type QueueItem struct {
	ID           uuid.UUID            `json:"id"`
	Fingerprint  string               `json:"fingerprint"`
	SourceURL    string               `json:"source_url"`
	Title        string               `json:"title"`
	Snippet      string               `json:"snippet,omitempty"`
	Agency       string               `json:"agency,omitempty"`
	State        constants.QueueState `json:"state"`
	Verdict      *constants.Verdict   `json:"verdict,omitempty"`
	Confidence   *float64             `json:"confidence,omitempty"`
	Reasoning    string               `json:"reasoning,omitempty"`
	DocumentType string               `json:"document_type,omitempty"`
	ReportID     *uuid.UUID           `json:"report_id,omitempty"`
	Error        string               `json:"error,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}
