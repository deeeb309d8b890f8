package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
)

const (
	reportMaxOutputTokens   = 4096
	classifyMaxOutputTokens = 300
)

// Service runs structured AI calls with a single fallback to the other
// configured provider and accounts for every attempt.
type Service struct {
	providers map[constants.Provider]Provider
	primary   constants.Provider
	rates     RateTable
	limiter   *Limiter
	timeout   time.Duration
	logger    *slog.Logger
}

type Option func(*Service)

func WithRates(r RateTable) Option { return func(s *Service) { s.rates = r } }

func WithLimiter(l *Limiter) Option { return func(s *Service) { s.limiter = l } }

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// WithDefaultPrimary picks the provider used when callers pass an empty name.
func WithDefaultPrimary(p constants.Provider) Option { return func(s *Service) { s.primary = p } }

func NewService(providers []Provider, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		providers: make(map[constants.Provider]Provider, len(providers)),
		rates:     RateTable{},
		timeout:   60 * time.Second,
		logger:    logger,
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		s.providers[p.Name()] = p
		if s.primary == "" {
			s.primary = p.Name()
		}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Providers lists the configured provider names in preference order.
func (s *Service) Providers() []constants.Provider {
	out := make([]constants.Provider, 0, len(s.providers))
	for _, name := range []constants.Provider{constants.ProviderOpenAI, constants.ProviderGemini} {
		if _, ok := s.providers[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// ExtractStructured turns document text into ReportFields.
// The returned cost records cover every attempt, failed ones included,
// and are returned even when err is non-nil.
func (s *Service) ExtractStructured(ctx context.Context, text string, primary constants.Provider) (ReportFields, []entity.CostRecord, error) {
	schema := BuildReportJSONSchema()
	req := Request{
		System:          BuildReportSystemPrompt(),
		User:            BuildReportUserPrompt(text, schema),
		Schema:          schema,
		SchemaName:      "audit_report",
		MaxOutputTokens: reportMaxOutputTokens,
	}
	var out ReportFields
	costs, err := s.run(ctx, constants.OperationExtract, primary, req, NormalizeAndSanitizeJSON, func(raw []byte) error {
		out = ReportFields{}
		return json.Unmarshal(raw, &out)
	})
	if err != nil {
		return ReportFields{}, costs, err
	}
	ApplyDefaults(&out)
	return out, costs, nil
}

// Classify decides whether a candidate looks like an audit report.
func (s *Service) Classify(ctx context.Context, c Candidate, primary constants.Provider) (Classification, []entity.CostRecord, error) {
	schema := BuildClassificationJSONSchema()
	req := Request{
		System:          BuildClassifySystemPrompt(),
		User:            BuildClassifyUserPrompt(c, schema),
		Schema:          schema,
		SchemaName:      "relevance",
		MaxOutputTokens: classifyMaxOutputTokens,
	}
	var out Classification
	costs, err := s.run(ctx, constants.OperationClassify, primary, req, SanitizeClassification, func(raw []byte) error {
		out = Classification{}
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
		v, ok := constants.CanonicalizeVerdict(string(out.Verdict))
		if !ok {
			return fmt.Errorf("unknown verdict %q", out.Verdict)
		}
		out.Verdict = v
		return nil
	})
	if err != nil {
		return Classification{}, costs, err
	}
	return out, costs, nil
}

type sanitizeFunc func(raw []byte, logger *slog.Logger) ([]byte, []string, error)

func (s *Service) run(ctx context.Context, op constants.Operation, primary constants.Provider, req Request, sanitize sanitizeFunc, decode func([]byte) error) ([]entity.CostRecord, error) {
	chain, err := s.chain(primary)
	if err != nil {
		return nil, err
	}

	costs := make([]entity.CostRecord, 0, len(chain))
	attempts := make([]common.Attempt, 0, len(chain))
	for i, p := range chain {
		s.logger.Info("llm."+string(op)+".start",
			"req_id", common.RequestIDFromContext(ctx),
			"provider", p.Name(),
			"model", p.Model(),
			"attempt", i+1,
			"prompt_chars", len(req.User),
		)
		start := time.Now()
		raw, usage, callErr := s.call(ctx, p, req)
		latency := time.Since(start)
		if callErr == nil {
			callErr = s.accept(p, req.Schema, raw, sanitize, decode)
		}

		rec := s.costRecord(op, p, i+1, req, raw, usage, latency)
		if callErr == nil {
			rec.Status = constants.AttemptStatusSuccess
			costs = append(costs, rec)
			s.logger.Info("llm."+string(op)+".ok",
				"req_id", common.RequestIDFromContext(ctx),
				"provider", p.Name(),
				"model", p.Model(),
				"attempt", i+1,
				"input_tokens", rec.InputTokens,
				"output_tokens", rec.OutputTokens,
				"cost_usd", rec.TotalCost,
				"estimated", rec.Estimated,
				"elapsed_ms", latency.Milliseconds(),
			)
			return costs, nil
		}

		rec.Status = constants.AttemptStatusFailure
		rec.Error = callErr.Error()
		costs = append(costs, rec)
		attempts = append(attempts, common.Attempt{Provider: string(p.Name()), Model: p.Model(), Err: callErr})
		s.logger.Warn("llm."+string(op)+".attempt_failed",
			"req_id", common.RequestIDFromContext(ctx),
			"provider", p.Name(),
			"model", p.Model(),
			"attempt", i+1,
			"error", callErr,
			"elapsed_ms", latency.Milliseconds(),
		)
		if ctx.Err() != nil {
			// caller gave up; the secondary would fail the same way
			break
		}
	}
	return costs, &common.ExtractionFailedError{Operation: string(op), Attempts: attempts}
}

// chain is the primary followed by at most one other configured provider.
func (s *Service) chain(primary constants.Provider) ([]Provider, error) {
	if primary == "" {
		primary = s.primary
	}
	p, ok := s.providers[primary]
	if !ok {
		return nil, common.InvalidArgumentErrorf("AI provider %q is not configured", primary)
	}
	chain := []Provider{p}
	for _, name := range s.Providers() {
		if name != primary {
			chain = append(chain, s.providers[name])
			break
		}
	}
	return chain, nil
}

func (s *Service) call(ctx context.Context, p Provider, req Request) ([]byte, Usage, error) {
	if err := s.limiter.Wait(ctx, string(p.Name())); err != nil {
		return nil, Usage{}, &common.ProviderError{Provider: string(p.Name()), Model: p.Model(), Kind: common.ProviderErrRateLimit, Cause: err}
	}
	cctx, cancel := common.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, usage, err := p.GenerateStructured(cctx, req)
	if err == nil {
		return raw, usage, nil
	}
	var pe *common.ProviderError
	if errors.As(err, &pe) {
		return raw, usage, err
	}
	kind := common.ProviderErrHTTP
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
		kind = common.ProviderErrTimeout
	}
	return raw, usage, &common.ProviderError{Provider: string(p.Name()), Model: p.Model(), Kind: kind, Cause: err}
}

// accept validates raw, applying the lenient sanitiser once before giving up.
func (s *Service) accept(p Provider, schema map[string]any, raw []byte, sanitize sanitizeFunc, decode func([]byte) error) error {
	raw = stripCodeFence(raw)
	if !json.Valid(raw) {
		return &common.ProviderError{Provider: string(p.Name()), Model: p.Model(), Kind: common.ProviderErrMalformed, Cause: errors.New("response is not valid JSON")}
	}
	if err := ValidateJSONAgainstSchema(schema, raw); err != nil {
		cleaned, dropped, sErr := sanitize(raw, s.logger)
		if sErr != nil {
			return &common.SchemaValidationError{Provider: string(p.Name()), Model: p.Model(), Cause: sErr}
		}
		if vErr := ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
			return &common.SchemaValidationError{Provider: string(p.Name()), Model: p.Model(), Cause: vErr}
		}
		s.logger.Warn("llm.lenient_sanitize_applied", "provider", p.Name(), "dropped", dropped)
		raw = cleaned
	}
	if err := decode(raw); err != nil {
		return &common.SchemaValidationError{Provider: string(p.Name()), Model: p.Model(), Cause: err}
	}
	return nil
}

func (s *Service) costRecord(op constants.Operation, p Provider, attempt int, req Request, raw []byte, usage Usage, latency time.Duration) entity.CostRecord {
	rec := entity.CostRecord{
		ID:           uuid.New(),
		Operation:    op,
		Provider:     string(p.Name()),
		Model:        p.Model(),
		Attempt:      attempt,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		LatencyMS:    latency.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if !usage.Reported && len(raw) > 0 {
		rec.InputTokens = EstimateTokens(req.System) + EstimateTokens(req.User)
		rec.OutputTokens = EstimateTokens(string(raw))
		rec.Estimated = true
	}
	rec.TotalTokens = rec.InputTokens + rec.OutputTokens

	in, out, ok := s.rates.Price(rec.Provider, rec.Model, rec.InputTokens, rec.OutputTokens)
	if !ok && rec.TotalTokens > 0 {
		s.logger.Warn("llm.cost.unknown_model", "provider", rec.Provider, "model", rec.Model)
	}
	rec.InputCost, rec.OutputCost, rec.TotalCost = in, out, in+out
	return rec
}
