package llm

import (
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/audit-reports/internal/common"
)

// RateTable is USD per one million tokens, keyed by provider then model.
type RateTable map[string]map[string]common.ModelRate

// Price returns input and output cost. Dated model variants
// (gpt-4o-mini-2024-07-18) fall back to the longest matching prefix.
// ok is false when the model is unknown; the cost is then zero.
func (t RateTable) Price(provider, model string, inputTokens, outputTokens int64) (in, out float64, ok bool) {
	models := t[provider]
	rate, ok := models[model]
	if !ok {
		best := ""
		for name := range models {
			if strings.HasPrefix(model, name) && len(name) > len(best) {
				best = name
			}
		}
		if best == "" {
			return 0, 0, false
		}
		rate = models[best]
	}
	in = float64(inputTokens) * rate.InputPerMillion / 1_000_000
	out = float64(outputTokens) * rate.OutputPerMillion / 1_000_000
	return in, out, true
}

// EstimateTokens is the chars/4 heuristic used when a provider reports no usage.
func EstimateTokens(s string) int64 {
	n := utf8.RuneCountInString(s)
	return int64((n + 3) / 4)
}
