// Package fetch downloads candidate documents into memory for promotion.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/joseph-ayodele/audit-reports/internal/common"
)

const (
	DefaultMaxBytes = 100 << 20
	DefaultTimeout  = 60 * time.Second
)

// Fetcher is what the review queue needs to get document bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Config struct {
	MaxBytes  int64
	Timeout   time.Duration
	UserAgent string
}

// HTTPFetcher performs a single GET and refuses bodies above MaxBytes.
type HTTPFetcher struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func NewHTTPFetcher(cfg Config, client *http.Client, logger *slog.Logger) *HTTPFetcher {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{cfg: cfg, client: client, logger: logger}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := common.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, common.InvalidArgumentErrorf("source url %q: %v", url, err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/pdf, */*;q=0.5")
	if id := common.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("fetch.failed", "url", url, "error", err)
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Warn("fetch.bad_status", "url", url, "status", resp.StatusCode)
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	if resp.ContentLength > f.cfg.MaxBytes {
		return nil, tooLarge(url, resp.ContentLength, f.cfg.MaxBytes)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, tooLarge(url, int64(len(body)), f.cfg.MaxBytes)
	}
	f.logger.Info("fetch.ok", "url", url, "bytes", len(body), "elapsed_ms", time.Since(start).Milliseconds())
	return body, nil
}

func tooLarge(url string, n, limit int64) error {
	return common.NewAppError("VALIDATION_FAILED",
		fmt.Sprintf("document at %s is larger than %d bytes (%d)", url, limit, n), common.ErrValidation)
}
