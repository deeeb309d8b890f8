// Package app assembles the services both binaries run on.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/export"
	"github.com/joseph-ayodele/audit-reports/internal/extract"
	"github.com/joseph-ayodele/audit-reports/internal/fetch"
	"github.com/joseph-ayodele/audit-reports/internal/fingerprint"
	"github.com/joseph-ayodele/audit-reports/internal/ingest"
	"github.com/joseph-ayodele/audit-reports/internal/keywords"
	"github.com/joseph-ayodele/audit-reports/internal/llm"
	"github.com/joseph-ayodele/audit-reports/internal/llm/gemini"
	"github.com/joseph-ayodele/audit-reports/internal/llm/openai"
	"github.com/joseph-ayodele/audit-reports/internal/pipeline"
	"github.com/joseph-ayodele/audit-reports/internal/queue"
	"github.com/joseph-ayodele/audit-reports/internal/repository"
	"github.com/joseph-ayodele/audit-reports/internal/storage"
)

type App struct {
	Config *common.Config
	Logger *slog.Logger

	DB           *repository.DB
	Store        *repository.Store
	Fingerprints *fingerprint.Store
	Extract      *extract.Engine
	LLM          *llm.Service
	Keywords     *keywords.Normalizer
	Pipeline     *pipeline.Pipeline
	Fetcher      *fetch.HTTPFetcher
	Queue        *queue.Service
	Export       *export.Service
	Ingest       *ingest.Ingestor
}

// New opens the database and builds every service. Callers own Close.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := repository.Open(ctx, repository.Config{
		Driver:           cfg.Database.Driver,
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, DB: db}
	a.Store = repository.NewStore(db.Driver, logger)
	a.Fingerprints = fingerprint.NewStore(a.Store, logger, fingerprint.WithReservationTTL(cfg.Upload.ReservationTTL))
	a.Extract = extract.NewEngine(extract.Config{
		Pdftotext: cfg.Extract.PdftotextBin,
		MaxChars:  cfg.Extract.MaxChars,
		Timeout:   cfg.Extract.Timeout,
	}, logger)

	a.LLM = NewLLM(cfg, logger)
	primary, _ := constants.ParseProvider(cfg.LLM.Primary)

	a.Keywords = keywords.NewNormalizer(a.Store, logger, keywords.WithThreshold(cfg.Keywords.FuzzyThreshold))
	strategy, _ := constants.ParseStrategy(cfg.Extract.DefaultStrategy)
	a.Pipeline = pipeline.New(a.Store, a.Fingerprints, a.Extract, a.LLM, a.Keywords, pipeline.Config{
		DefaultStrategy: strategy,
		DefaultProvider: primary,
		Concurrency:     cfg.Upload.Concurrency,
	}, logger)

	a.Fetcher = fetch.NewHTTPFetcher(fetch.Config{
		MaxBytes:  cfg.Fetch.MaxBytes,
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.UserAgent,
	}, &http.Client{Timeout: cfg.Fetch.Timeout}, logger)
	a.Queue = queue.NewService(a.Store, a.Pipeline, a.LLM, a.Fetcher, queue.Config{
		MinConfidence: cfg.Queue.MinConfidence,
		Provider:      primary,
	}, logger)

	a.Export = export.NewService(a.Store, logger)
	a.Ingest = ingest.New(a.Pipeline, logger)
	return a, nil
}

// NewLLM builds the provider set from whichever API keys are configured.
// With no keys every AI call fails as invalid input; the keyword and export
// commands still work.
func NewLLM(cfg *common.Config, logger *slog.Logger) *llm.Service {
	var providers []llm.Provider
	if cfg.LLM.OpenAI.APIKey != "" {
		providers = append(providers, openai.NewClient(openai.Config{
			APIKey:      cfg.LLM.OpenAI.APIKey,
			BaseURL:     cfg.LLM.OpenAI.BaseURL,
			Model:       cfg.LLM.OpenAI.Model,
			Temperature: cfg.LLM.OpenAI.Temperature,
			MaxTokens:   cfg.LLM.OpenAI.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		}, logger))
	}
	if cfg.LLM.Gemini.APIKey != "" {
		providers = append(providers, gemini.NewClient(gemini.Config{
			APIKey:  cfg.LLM.Gemini.APIKey,
			BaseURL: cfg.LLM.Gemini.BaseURL,
			Model:   cfg.LLM.Gemini.Model,
			Timeout: cfg.LLM.Timeout,
		}, logger))
	}
	if len(providers) == 0 {
		logger.Warn("no AI provider configured; extraction and classification are disabled")
	}
	opts := []llm.Option{
		llm.WithRates(llm.RateTable(cfg.LLM.Rates)),
		llm.WithLimiter(llm.NewLimiter(cfg.LLM.RequestsPerSecond, cfg.LLM.Burst)),
		llm.WithTimeout(cfg.LLM.Timeout),
	}
	if p, ok := constants.ParseProvider(cfg.LLM.Primary); ok {
		opts = append(opts, llm.WithDefaultPrimary(p))
	}
	return llm.NewService(providers, logger, opts...)
}

// ObjectStore connects to the export bucket; it fails when none is configured.
func (a *App) ObjectStore(ctx context.Context) (storage.ObjectStore, error) {
	c := a.Config.Export
	if c.Bucket == "" || c.Endpoint == "" {
		return nil, errors.New("export bucket is not configured (EXPORT_BUCKET, MINIO_ENDPOINT)")
	}
	return storage.NewMinIO(ctx, storage.Config{
		Endpoint:  c.Endpoint,
		Bucket:    c.Bucket,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		UseSSL:    c.UseSSL,
	}, a.Logger)
}

// Migrate bootstraps the schema.
func (a *App) Migrate(ctx context.Context) error {
	return repository.Migrate(ctx, a.DB.Driver, a.Logger)
}

func (a *App) Ping(ctx context.Context) error {
	return repository.HealthCheck(ctx, a.DB, a.Config.Database.DialTimeout, a.Logger)
}

func (a *App) Close() {
	a.DB.Close(a.Logger)
}
