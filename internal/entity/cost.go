package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/constants"
)

// CostRecord accounts for a single provider attempt, failed or not.
type CostRecord struct {
	ID           uuid.UUID               `json:"id"`
	ReportID     *uuid.UUID              `json:"report_id,omitempty"`
	QueueItemID  *uuid.UUID              `json:"queue_item_id,omitempty"`
	Operation    constants.Operation     `json:"operation"`
	Provider     string                  `json:"provider"`
	Model        string                  `json:"model"`
	Strategy     string                  `json:"strategy,omitempty"`
	Attempt      int                     `json:"attempt"`
	InputTokens  int64                   `json:"input_tokens"`
	OutputTokens int64                   `json:"output_tokens"`
	TotalTokens  int64                   `json:"total_tokens"`
	InputCost    float64                 `json:"input_cost"`
	OutputCost   float64                 `json:"output_cost"`
	TotalCost    float64                 `json:"total_cost"`
	Estimated    bool                    `json:"estimated"`
	LatencyMS    int64                   `json:"latency_ms"`
	Status       constants.AttemptStatus `json:"status"`
	Error        string                  `json:"error,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
}

// Registration is a row of the fingerprint registry.
type Registration struct {
	Fingerprint string              `json:"fingerprint"`
	OwnerKind   constants.OwnerKind `json:"owner_kind"`
	OwnerID     uuid.UUID           `json:"owner_id"`
	CreatedAt   time.Time           `json:"created_at"`
}
