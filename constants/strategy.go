package constants

import "strings"

// Strategy selects how text is pulled out of a PDF.
type Strategy string

const (
	StrategyStructuredFast Strategy = "structured-fast"
	StrategyLayoutAware    Strategy = "layout-aware"
)

var AllStrategies = []Strategy{StrategyStructuredFast, StrategyLayoutAware}

// ParseStrategy accepts the canonical names plus a few loose spellings.
func ParseStrategy(input string) (Strategy, bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "structured-fast", "structured_fast", "fast", "raw":
		return StrategyStructuredFast, true
	case "layout-aware", "layout_aware", "layout":
		return StrategyLayoutAware, true
	}
	return "", false
}
