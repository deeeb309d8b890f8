package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/audit-reports/constants"
)

// SanitizeClassification massages classifier output into the relevance schema.
// Models often answer with is_relevant / is_medicaid_audit booleans or with
// percentages; both are mapped.
func SanitizeClassification(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}
	var changed []string
	out := map[string]any{}

	verdict, ok := m["verdict"].(string)
	if v, known := constants.CanonicalizeVerdict(verdict); ok && known {
		out["verdict"] = string(v)
	} else {
		for _, k := range []string{"is_relevant", "is_medicaid_audit", "is_audit", "relevant"} {
			if b, ok := m[k].(bool); ok {
				if b {
					out["verdict"] = string(constants.VerdictRelevant)
				} else {
					out["verdict"] = string(constants.VerdictIrrelevant)
				}
				changed = append(changed, k+"->verdict")
				break
			}
		}
	}
	if _, ok := out["verdict"]; !ok {
		out["verdict"] = string(constants.VerdictUncertain)
		changed = append(changed, "verdict(default)")
	}

	switch c := m["confidence"].(type) {
	case float64:
		out["confidence"] = unitInterval(c)
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(c), "%")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			out["confidence"] = unitInterval(f)
			changed = append(changed, "confidence(string)")
		}
	}
	if _, ok := out["confidence"]; !ok {
		out["confidence"] = 0.0
		changed = append(changed, "confidence(default)")
	}

	for _, k := range []string{"reasoning", "document_type"} {
		if s, ok := m[k].(string); ok {
			out[k] = strings.TrimSpace(s)
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, changed, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(changed) > 0 {
		logger.Warn("llm.classify.normalize_sanitize", "changed", changed)
	}
	return b, changed, nil
}

// unitInterval maps percentages onto 0..1 and clamps.
func unitInterval(f float64) float64 {
	if f > 1 && f <= 100 {
		f /= 100
	}
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
