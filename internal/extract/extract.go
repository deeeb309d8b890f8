// Package extract turns PDF bytes into page text by shelling out to poppler's
// pdftotext. Bytes go through stdin; nothing touches the disk.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
)

const DefaultMaxChars = 80000

var pdfMagic = []byte("%PDF-")

type Config struct {
	Pdftotext string        // binary name or absolute path; if empty -> "pdftotext"
	MaxChars  int           // 0 -> DefaultMaxChars
	Timeout   time.Duration // per strategy run; 0 = caller's deadline only
}

type Engine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

type Option func(*Engine)

// WithRunner swaps the process runner, used by tests.
func WithRunner(r Runner) Option {
	return func(e *Engine) { e.runner = r }
}

func NewEngine(cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	e := &Engine{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract runs exactly the requested strategy. A failure is returned as is;
// the caller decides whether to try another strategy.
func (e *Engine) Extract(ctx context.Context, pdf []byte, strategy constants.Strategy) (ExtractedText, error) {
	args, keepColumns, err := strategyArgs(strategy)
	if err != nil {
		return ExtractedText{}, err
	}
	if !bytes.HasPrefix(bytes.TrimLeft(pdf, " \t\r\n"), pdfMagic) {
		return ExtractedText{Strategy: strategy}, &common.UnparsableDocumentError{Strategy: string(strategy), Reason: "not a PDF (missing %PDF- header)"}
	}

	ctx, cancel := common.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	e.logger.Debug("extract.start", "strategy", strategy, "bytes", len(pdf), "req_id", common.RequestIDFromContext(ctx))
	out, errb, err := e.runner.Run(ctx, pdf, e.cfg.Pdftotext, args...)
	if err != nil {
		if ctx.Err() != nil {
			return ExtractedText{Strategy: strategy}, ctx.Err()
		}
		return ExtractedText{Strategy: strategy}, &common.UnparsableDocumentError{
			Strategy: string(strategy),
			Reason:   strings.TrimSpace(truncate(string(errb), 512)),
			Cause:    err,
		}
	}

	pages := splitPages(string(out), keepColumns)
	res := ExtractedText{Pages: pages, Strategy: strategy}
	if len(pages) == 0 {
		res.Elapsed = time.Since(start)
		return res, &common.UnparsableDocumentError{Strategy: string(strategy), Reason: "no text layer"}
	}
	res.FullText, res.Truncated = truncateRunes(strings.Join(pages, "\n\n"), e.cfg.MaxChars)
	res.Elapsed = time.Since(start)

	e.logger.Info("extract.ok",
		"strategy", strategy,
		"pages", len(pages),
		"chars", len(res.FullText),
		"truncated", res.Truncated,
		"elapsed_ms", res.Elapsed.Milliseconds(),
		"req_id", common.RequestIDFromContext(ctx),
	)
	return res, nil
}

// Compare runs every strategy on the same bytes. Per-strategy failures are
// collected rather than returned.
func (e *Engine) Compare(ctx context.Context, pdf []byte) Comparison {
	cmp := Comparison{
		Results: make(map[constants.Strategy]ExtractedText, len(constants.AllStrategies)),
		Errors:  make(map[constants.Strategy]error),
	}
	for _, s := range constants.AllStrategies {
		res, err := e.Extract(ctx, pdf, s)
		if err != nil {
			cmp.Errors[s] = err
			continue
		}
		cmp.Results[s] = res
	}
	return cmp
}

func strategyArgs(s constants.Strategy) (args []string, keepColumns bool, err error) {
	switch s {
	case constants.StrategyStructuredFast:
		return []string{"-raw", "-enc", "UTF-8", "-eol", "unix", "-", "-"}, false, nil
	case constants.StrategyLayoutAware:
		return []string{"-layout", "-enc", "UTF-8", "-eol", "unix", "-", "-"}, true, nil
	}
	return nil, false, common.InvalidArgumentError(fmt.Sprintf("unknown extraction strategy %q", s))
}
