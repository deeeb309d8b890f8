// Package pipeline turns document bytes into persisted reports.
//
// Stage 1 pulls text out of the PDF with an explicit strategy, stage 2 asks
// the AI service for structured fields. Both run outside any transaction;
// only the final write (fingerprint transfer, report, keywords, costs) is
// transactional.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/extract"
	"github.com/joseph-ayodele/audit-reports/internal/fingerprint"
	"github.com/joseph-ayodele/audit-reports/internal/keywords"
	"github.com/joseph-ayodele/audit-reports/internal/llm"
	"github.com/joseph-ayodele/audit-reports/internal/repository"
)

// StructuredExtractor is stage 2. *llm.Service implements it.
type StructuredExtractor interface {
	ExtractStructured(ctx context.Context, text string, primary constants.Provider) (llm.ReportFields, []entity.CostRecord, error)
}

type Config struct {
	DefaultStrategy constants.Strategy
	DefaultProvider constants.Provider
	// Concurrency bounds UploadBatch.
	Concurrency int
}

// Document is an in-memory upload or fetched candidate. Nothing is written to disk.
type Document struct {
	Bytes     []byte
	Filename  string
	Agency    string
	SourceURL string
	Channel   string // "upload" or "search"
}

// Options are per-request choices. Zero values fall back to Config.
type Options struct {
	Provider constants.Provider
	Strategy constants.Strategy
}

// Analysis is the slow, transaction-free part of the pipeline.
type Analysis struct {
	Fingerprint string
	Strategy    constants.Strategy
	Text        extract.ExtractedText
	Fields      llm.ReportFields
	// Costs covers every AI attempt, failed ones included.
	Costs []entity.CostRecord
}

type Pipeline struct {
	store    *repository.Store
	fps      *fingerprint.Store
	text     extract.TextExtractor
	ai       StructuredExtractor
	keywords *keywords.Normalizer
	cfg      Config
	logger   *slog.Logger
}

func New(
	store *repository.Store,
	fps *fingerprint.Store,
	text extract.TextExtractor,
	ai StructuredExtractor,
	kw *keywords.Normalizer,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = constants.StrategyStructuredFast
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Pipeline{store: store, fps: fps, text: text, ai: ai, keywords: kw, cfg: cfg, logger: logger}
}

// Fingerprints exposes the registry so callers share one dedup authority.
func (p *Pipeline) Fingerprints() *fingerprint.Store { return p.fps }

func (p *Pipeline) resolve(opts Options) (Options, error) {
	if opts.Strategy == "" {
		opts.Strategy = p.cfg.DefaultStrategy
	}
	if s, ok := constants.ParseStrategy(string(opts.Strategy)); ok {
		opts.Strategy = s
	} else {
		return opts, common.InvalidArgumentErrorf("unknown extraction strategy %q", opts.Strategy)
	}
	if opts.Provider == "" {
		opts.Provider = p.cfg.DefaultProvider
	}
	if opts.Provider != "" {
		pr, ok := constants.ParseProvider(string(opts.Provider))
		if !ok {
			return opts, common.InvalidArgumentErrorf("unknown AI provider %q", opts.Provider)
		}
		opts.Provider = pr
	}
	return opts, nil
}

// Analyze runs both stages. The returned Analysis is non-nil whenever AI was
// attempted, so failed-attempt costs can still be stored.
func (p *Pipeline) Analyze(ctx context.Context, doc Document, opts Options) (*Analysis, error) {
	opts, err := p.resolve(opts)
	if err != nil {
		return nil, err
	}
	a := &Analysis{Fingerprint: fingerprint.Sum(doc.Bytes), Strategy: opts.Strategy}

	start := time.Now()
	a.Text, err = p.text.Extract(ctx, doc.Bytes, opts.Strategy)
	if err != nil {
		p.logger.Warn("pipeline.extract.failed",
			"req_id", common.RequestIDFromContext(ctx),
			"filename", doc.Filename, "strategy", opts.Strategy, "error", err)
		return nil, err
	}
	p.logger.Info("pipeline.extract.ok",
		"req_id", common.RequestIDFromContext(ctx),
		"filename", doc.Filename,
		"strategy", opts.Strategy,
		"pages", len(a.Text.Pages),
		"chars", len(a.Text.FullText),
		"truncated", a.Text.Truncated,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	fields, costs, err := p.ai.ExtractStructured(ctx, a.Text.FullText, opts.Provider)
	for i := range costs {
		costs[i].Strategy = string(opts.Strategy)
	}
	a.Costs = costs
	if err != nil {
		var efe *common.ExtractionFailedError
		if errors.As(err, &efe) {
			efe.Strategy = string(opts.Strategy)
		}
		return a, err
	}
	a.Fields = fields
	return a, nil
}

// PersistTx writes the report, its keyword mentions and its cost records,
// taking the fingerprint over from the current holder. queueItemID links
// promotion costs back to the queue item.
func (p *Pipeline) PersistTx(ctx context.Context, tx *repository.Tx, doc Document, a *Analysis, from fingerprint.Owner, queueItemID *uuid.UUID) (*entity.Report, error) {
	rep := buildReport(doc, a)
	if err := p.fps.TransferTx(ctx, tx, a.Fingerprint, from, fingerprint.Owner{Kind: constants.OwnerReport, ID: rep.ID}); err != nil {
		return nil, err
	}
	if err := tx.Reports().Create(ctx, rep); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	mentions, err := p.keywords.Record(ctx, tx, rep.ID, mentionsOf(rep, a.Fields))
	if err != nil {
		return nil, fmt.Errorf("record keywords: %w", err)
	}
	rep.Keywords = mentions
	for i := range a.Costs {
		c := a.Costs[i]
		c.ReportID = &rep.ID
		c.QueueItemID = queueItemID
		if err := tx.Costs().Insert(ctx, &c); err != nil {
			return nil, fmt.Errorf("store cost record: %w", err)
		}
	}
	return rep, nil
}

// StoreCosts keeps the accounting of attempts that did not end in a report:
// classification calls and failed extractions.
func (p *Pipeline) StoreCosts(ctx context.Context, costs []entity.CostRecord, queueItemID *uuid.UUID) {
	if len(costs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for i := range costs {
		c := costs[i]
		c.QueueItemID = queueItemID
		if err := p.store.Costs().Insert(ctx, &c); err != nil {
			p.logger.Error("pipeline.cost.store_failed", "provider", c.Provider, "error", err)
		}
	}
}

func (p *Pipeline) GetReport(ctx context.Context, id uuid.UUID) (*entity.Report, error) {
	rep, err := p.store.Reports().Get(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NotFoundError(fmt.Sprintf("report %s not found", id))
	}
	return rep, err
}

func (p *Pipeline) ListReports(ctx context.Context, limit, offset int) ([]entity.Report, int64, error) {
	list, err := p.store.Reports().List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := p.store.Reports().Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// DeleteReport removes a report, decrements keyword counters and frees its fingerprint.
func (p *Pipeline) DeleteReport(ctx context.Context, id uuid.UUID) error {
	err := p.store.InTx(ctx, func(tx *repository.Tx) error {
		rep, err := tx.Reports().Get(ctx, id)
		if err != nil {
			return err
		}
		if err := p.keywords.ForgetReport(ctx, tx, id); err != nil {
			return err
		}
		if err := tx.Reports().Delete(ctx, id); err != nil {
			return err
		}
		_, err = p.fps.ReleaseTx(ctx, tx.Fingerprints(), rep.Fingerprint, fingerprint.Owner{Kind: constants.OwnerReport, ID: id})
		return err
	})
	if errors.Is(err, common.ErrNotFound) {
		return common.NotFoundError(fmt.Sprintf("report %s not found", id))
	}
	if err != nil {
		return err
	}
	p.logger.Info("pipeline.report.deleted", "req_id", common.RequestIDFromContext(ctx), "report_id", id)
	return nil
}
