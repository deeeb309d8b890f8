package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/joseph-ayodele/audit-reports/internal/common"
)

const (
	maxResponseBytes = 8 << 20
	maxErrorBody     = 512
)

// Endpoint identifies one provider call for PostJSON. Secrets go in Headers,
// never in URL, so that the URL can be logged.
type Endpoint struct {
	Provider string
	Model    string
	URL      string
	Headers  map[string]string
}

// PostJSON posts body as JSON and returns the raw 2xx response. Every failure
// comes back as a *common.ProviderError whose Kind says whether a retry on
// another provider makes sense.
func PostJSON(ctx context.Context, client *http.Client, ep Endpoint, body any, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}
	log := logger.With("req_id", common.RequestIDFromContext(ctx), "provider", ep.Provider, "model", ep.Model)
	fail := func(kind common.ProviderErrorKind, err error) error {
		return &common.ProviderError{Provider: ep.Provider, Model: ep.Model, Kind: kind, Cause: err}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fail(common.ProviderErrConfig, fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fail(common.ProviderErrConfig, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	log.Debug("llm.http.request", "url", ep.URL, "bytes", len(payload))
	resp, err := client.Do(req)
	if err != nil {
		log.Warn("llm.http.send_failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fail(common.ProviderErrTimeout, err)
		}
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fail(common.ProviderErrTimeout, err)
		}
		return nil, fail(common.ProviderErrHTTP, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fail(common.ProviderErrHTTP, fmt.Errorf("read response: %w", err))
	}
	log.Debug("llm.http.response", "status", resp.StatusCode, "bytes", len(raw), "elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode/100 == 2 {
		return raw, nil
	}
	snippet := string(raw)
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody] + "...(truncated)"
	}
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	log.Warn("llm.http.status", "status", resp.StatusCode)
	return nil, fail(statusKind(resp.StatusCode), cause)
}

func statusKind(status int) common.ProviderErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return common.ProviderErrRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return common.ProviderErrConfig
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return common.ProviderErrTimeout
	default:
		return common.ProviderErrHTTP
	}
}
