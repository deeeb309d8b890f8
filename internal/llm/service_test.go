package llm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/llm"
)

type stubProvider struct {
	name    constants.Provider
	model   string
	replies []stubReply
	calls   int
}

type stubReply struct {
	raw   string
	usage llm.Usage
	err   error
	wait  bool
}

func (s *stubProvider) Name() constants.Provider { return s.name }
func (s *stubProvider) Model() string            { return s.model }

func (s *stubProvider) GenerateStructured(ctx context.Context, _ llm.Request) ([]byte, llm.Usage, error) {
	r := s.replies[min(s.calls, len(s.replies)-1)]
	s.calls++
	if r.wait {
		<-ctx.Done()
		return nil, llm.Usage{}, ctx.Err()
	}
	return []byte(r.raw), r.usage, r.err
}

const validReport = `{
  "title": "Audit Of Medicaid Managed Care Payments",
  "agency": "Office of the State Comptroller",
  "publication_year": 2023,
  "publication_month": 5,
  "findings": [{"text": "Overpayments to providers", "financial_impact": 1200.5, "keywords": ["Overpayments"]}],
  "recommendations": [{"text": "Recover overpayments"}],
  "keywords": ["Fraud, Waste and Abuse", "fraud, waste and abuse ", "Managed Care"]
}`

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newService(ps ...llm.Provider) *llm.Service {
	return llm.NewService(ps, discard(), llm.WithRates(llm.RateTable(common.DefaultRates())))
}

func TestExtractStructuredPrimarySucceeds(t *testing.T) {
	openai := &stubProvider{name: constants.ProviderOpenAI, model: "gpt-4o-mini",
		replies: []stubReply{{raw: validReport, usage: llm.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000, Reported: true}}}}
	gemini := &stubProvider{name: constants.ProviderGemini, model: "gemini-2.5-flash"}

	fields, costs, err := newService(openai, gemini).ExtractStructured(context.Background(), "text", constants.ProviderOpenAI)
	require.NoError(t, err)

	assert.Equal(t, "Office of the State Comptroller", fields.Agency)
	assert.Equal(t, "US", fields.State)
	assert.Equal(t, llm.DefaultAuditScope, fields.AuditScope)
	assert.Equal(t, []string{"fraud, waste and abuse", "managed care"}, fields.Keywords)
	require.Len(t, fields.Findings, 1)
	require.NotNil(t, fields.Findings[0].FinancialImpact)
	assert.InDelta(t, 1200.5, *fields.Findings[0].FinancialImpact, 1e-9)

	assert.Equal(t, 1, openai.calls)
	assert.Equal(t, 0, gemini.calls)
	require.Len(t, costs, 1)
	assert.Equal(t, constants.AttemptStatusSuccess, costs[0].Status)
	assert.InDelta(t, 0.15, costs[0].InputCost, 1e-9)
	assert.InDelta(t, 0.60, costs[0].OutputCost, 1e-9)
	assert.InDelta(t, 0.75, costs[0].TotalCost, 1e-9)
	assert.False(t, costs[0].Estimated)
}

func TestExtractStructuredFallsBackExactlyOnce(t *testing.T) {
	openai := &stubProvider{name: constants.ProviderOpenAI, model: "gpt-4o-mini",
		replies: []stubReply{{err: &common.ProviderError{Provider: "openai", Model: "gpt-4o-mini", Kind: common.ProviderErrRateLimit, Cause: errors.New("429")}}}}
	gemini := &stubProvider{name: constants.ProviderGemini, model: "gemini-2.5-flash",
		replies: []stubReply{{raw: validReport}}} // no usage -> estimated

	fields, costs, err := newService(openai, gemini).ExtractStructured(context.Background(), "some report text", constants.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "Audit Of Medicaid Managed Care Payments", fields.Title)

	assert.Equal(t, 1, openai.calls, "primary is never retried")
	assert.Equal(t, 1, gemini.calls)
	require.Len(t, costs, 2)
	assert.Equal(t, constants.AttemptStatusFailure, costs[0].Status)
	assert.Contains(t, costs[0].Error, "rate_limit")
	assert.Equal(t, 1, costs[0].Attempt)
	assert.Equal(t, constants.AttemptStatusSuccess, costs[1].Status)
	assert.Equal(t, 2, costs[1].Attempt)
	assert.True(t, costs[1].Estimated)
	assert.Positive(t, costs[1].InputTokens)
	assert.Positive(t, costs[1].TotalCost)
}

func TestExtractStructuredBothFail(t *testing.T) {
	openai := &stubProvider{name: constants.ProviderOpenAI, model: "gpt-4o-mini",
		replies: []stubReply{{raw: `{"title": "x"}`, usage: llm.Usage{InputTokens: 10, OutputTokens: 5, Reported: true}}}}
	gemini := &stubProvider{name: constants.ProviderGemini, model: "gemini-2.5-flash",
		replies: []stubReply{{raw: "not json at all"}}}

	_, costs, err := newService(openai, gemini).ExtractStructured(context.Background(), "text", constants.ProviderOpenAI)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrExtractionFailed)
	assert.ErrorIs(t, err, common.ErrSchemaValidation)
	assert.ErrorIs(t, err, common.ErrProvider)

	var ef *common.ExtractionFailedError
	require.True(t, errors.As(err, &ef))
	require.Len(t, ef.Attempts, 2)
	assert.Equal(t, "openai", ef.Attempts[0].Provider)
	assert.Equal(t, "gemini", ef.Attempts[1].Provider)

	var pe *common.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, common.ProviderErrMalformed, pe.Kind)

	assert.Equal(t, 1, openai.calls)
	assert.Equal(t, 1, gemini.calls)
	assert.Len(t, costs, 2)
}

func TestExtractStructuredSanitizerRescuesNearMiss(t *testing.T) {
	raw := "```json\n" + `{
	  "report_title": "Review of Home Care Billing",
	  "audit_organization": "Office of Inspector General",
	  "publication_year": "2022",
	  "state": "ny",
	  "findings": ["Unsupported claims totaling $45,000"],
	  "recommendations": [{"recommendation": "Strengthen controls"}],
	  "extracted_keywords": "home care, billing",
	  "llm_insight": "Billing controls were weak.",
	  "confidence": 0.9
	}` + "\n```"
	openai := &stubProvider{name: constants.ProviderOpenAI, model: "gpt-4o-mini", replies: []stubReply{{raw: raw}}}
	gemini := &stubProvider{name: constants.ProviderGemini, model: "gemini-2.5-flash"}

	fields, costs, err := newService(openai, gemini).ExtractStructured(context.Background(), "text", "")
	require.NoError(t, err)
	assert.Equal(t, 0, gemini.calls)
	assert.Len(t, costs, 1)
	assert.Equal(t, "Review of Home Care Billing", fields.Title)
	assert.Equal(t, 2022, fields.PublicationYear)
	assert.Equal(t, "NY", fields.State)
	assert.Equal(t, "Billing controls were weak.", fields.Summary)
	assert.Equal(t, []string{"home care", "billing"}, fields.Keywords)
	require.Len(t, fields.Recommendations, 1)
	assert.Equal(t, "Strengthen controls", fields.Recommendations[0].Text)
}

func TestExtractStructuredTimeoutIsProviderError(t *testing.T) {
	openai := &stubProvider{name: constants.ProviderOpenAI, model: "gpt-4o-mini", replies: []stubReply{{wait: true}}}
	gemini := &stubProvider{name: constants.ProviderGemini, model: "gemini-2.5-flash", replies: []stubReply{{raw: validReport}}}

	svc := llm.NewService([]llm.Provider{openai, gemini}, discard(), llm.WithTimeout(20*time.Millisecond))
	_, costs, err := svc.ExtractStructured(context.Background(), "text", constants.ProviderOpenAI)
	require.NoError(t, err)
	require.Len(t, costs, 2)
	assert.Contains(t, costs[0].Error, "timeout")
}

func TestSingleProviderFailsWithOneAttempt(t *testing.T) {
	openai := &stubProvider{name: constants.ProviderOpenAI, model: "gpt-4o-mini", replies: []stubReply{{err: errors.New("boom")}}}

	_, costs, err := newService(openai).ExtractStructured(context.Background(), "text", constants.ProviderOpenAI)
	var ef *common.ExtractionFailedError
	require.True(t, errors.As(err, &ef))
	assert.Len(t, ef.Attempts, 1)
	assert.Len(t, costs, 1)
	assert.Equal(t, 1, openai.calls)
}

func TestUnconfiguredPrimaryIsInvalidInput(t *testing.T) {
	openai := &stubProvider{name: constants.ProviderOpenAI, model: "gpt-4o-mini"}
	_, _, err := newService(openai).ExtractStructured(context.Background(), "text", constants.ProviderGemini)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Equal(t, 0, openai.calls)
}

func TestClassify(t *testing.T) {
	gemini := &stubProvider{name: constants.ProviderGemini, model: "gemini-2.5-flash",
		replies: []stubReply{{raw: `{"is_medicaid_audit": true, "confidence": "85", "document_type": "audit_report", "reasoning": "findings present"}`,
			usage: llm.Usage{InputTokens: 100, OutputTokens: 20, Reported: true}}}}
	openai := &stubProvider{name: constants.ProviderOpenAI, model: "gpt-4o-mini"}

	c, costs, err := newService(openai, gemini).Classify(context.Background(), llm.Candidate{Title: "Audit of X"}, constants.ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, constants.VerdictRelevant, c.Verdict)
	assert.InDelta(t, 0.85, c.Confidence, 1e-9)
	assert.Equal(t, "audit_report", c.DocumentType)
	require.Len(t, costs, 1)
	assert.Equal(t, constants.OperationClassify, costs[0].Operation)
	assert.Equal(t, 0, openai.calls)
}

func TestUnknownModelCostsZero(t *testing.T) {
	p := &stubProvider{name: constants.ProviderOpenAI, model: "mystery-model",
		replies: []stubReply{{raw: validReport, usage: llm.Usage{InputTokens: 500, OutputTokens: 500, Reported: true}}}}
	_, costs, err := newService(p).ExtractStructured(context.Background(), "text", "")
	require.NoError(t, err)
	assert.Zero(t, costs[0].TotalCost)
	assert.EqualValues(t, 1000, costs[0].TotalTokens)
}

func TestRateTableDatedModelPrefix(t *testing.T) {
	rt := llm.RateTable(common.DefaultRates())
	in, out, ok := rt.Price("openai", "gpt-4o-mini-2024-07-18", 2_000_000, 0)
	require.True(t, ok)
	assert.InDelta(t, 0.30, in, 1e-9)
	assert.Zero(t, out)
}

func TestCleanKeywords(t *testing.T) {
	assert.Equal(t, []string{"a", "b c"}, llm.CleanKeywords([]string{" A", "b c", "a", ""}))
	assert.Nil(t, llm.CleanKeywords(nil))
}
