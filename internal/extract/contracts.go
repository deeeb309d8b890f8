package extract

import (
	"context"
	"time"

	"github.com/joseph-ayodele/audit-reports/constants"
)

// TextExtractor is Stage 1: PDF bytes -> text. The strategy is always explicit.
type TextExtractor interface {
	Extract(ctx context.Context, pdf []byte, strategy constants.Strategy) (ExtractedText, error)
}

type ExtractedText struct {
	Pages    []string
	FullText string
	Strategy constants.Strategy
	Elapsed  time.Duration
	// Truncated is set when FullText was cut to the configured maximum.
	Truncated bool
}

// Comparison holds the output of every strategy for side-by-side inspection.
type Comparison struct {
	Results map[constants.Strategy]ExtractedText
	Errors  map[constants.Strategy]error
}
