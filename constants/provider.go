package constants

import "strings"

// Provider identifies an AI extraction backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

func ParseProvider(input string) (Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "openai", "gpt", "chatgpt":
		return ProviderOpenAI, true
	case "gemini", "google":
		return ProviderGemini, true
	}
	return "", false
}

// Verdict is the relevance decision of a classification call.
type Verdict string

const (
	VerdictRelevant   Verdict = "relevant"
	VerdictIrrelevant Verdict = "irrelevant"
	VerdictUncertain  Verdict = "uncertain"
)

// CanonicalizeVerdict maps model output onto a Verdict.
func CanonicalizeVerdict(input string) (Verdict, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return VerdictUncertain, false
	}

	synonyms := map[string]Verdict{
		"relevant":     VerdictRelevant,
		"yes":          VerdictRelevant,
		"true":         VerdictRelevant,
		"audit":        VerdictRelevant,
		"irrelevant":   VerdictIrrelevant,
		"not relevant": VerdictIrrelevant,
		"no":           VerdictIrrelevant,
		"false":        VerdictIrrelevant,
		"uncertain":    VerdictUncertain,
		"unsure":       VerdictUncertain,
		"unknown":      VerdictUncertain,
		"maybe":        VerdictUncertain,
	}
	if v, ok := synonyms[normalized]; ok {
		return v, true
	}
	return VerdictUncertain, false
}

// OwnerKind names what holds a fingerprint registration.
type OwnerKind string

const (
	OwnerUpload    OwnerKind = "upload"
	OwnerQueueItem OwnerKind = "queue_item"
	OwnerReport    OwnerKind = "report"
)

// ScopeKind says what a keyword mention is attached to.
type ScopeKind string

const (
	ScopeReport         ScopeKind = "report"
	ScopeFinding        ScopeKind = "finding"
	ScopeRecommendation ScopeKind = "recommendation"
)
