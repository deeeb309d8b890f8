package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/constants"
)

// KeywordMention is one raw term the AI attached to a report, finding or recommendation.
type KeywordMention struct {
	ID          uuid.UUID           `json:"id"`
	ReportID    uuid.UUID           `json:"report_id"`
	ScopeKind   constants.ScopeKind `json:"scope_kind"`
	ScopeID     uuid.UUID           `json:"scope_id"`
	RawText     string              `json:"raw_text"`
	Normalized  string              `json:"normalized"`
	CanonicalID *uuid.UUID          `json:"canonical_id,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

type CanonicalKeyword struct {
	ID         uuid.UUID `json:"id"`
	Label      string    `json:"label"`
	Slug       string    `json:"slug"`
	UsageCount int64     `json:"usage_count"`
	Aliases    []string  `json:"aliases,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type UnmatchedTerm struct {
	ID              uuid.UUID   `json:"id"`
	Normalized      string      `json:"normalized"`
	OccurrenceCount int64       `json:"occurrence_count"`
	ReportIDs       []uuid.UUID `json:"report_ids,omitempty"`
	FirstSeen       time.Time   `json:"first_seen"`
	LastSeen        time.Time   `json:"last_seen"`
}

// Alias is one normalized variant pointing at a canonical keyword.
type Alias struct {
	Alias       string
	CanonicalID uuid.UUID
	UsageCount  int64
	Label       string
}
