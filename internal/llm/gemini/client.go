// Package gemini talks to the Generative Language REST API directly.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/llm"
)

type Config struct {
	APIKey  string        // if empty, falls back to env GEMINI_API_KEY
	BaseURL string        // default https://generativelanguage.googleapis.com/v1beta
	Model   string        // e.g., "gemini-2.5-flash"
	Timeout time.Duration // http client timeout
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

func (c *Client) Name() constants.Provider { return constants.ProviderGemini }
func (c *Client) Model() string            { return c.cfg.Model }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	Temperature      float32 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// GenerateStructured implements llm.Provider via models/{model}:generateContent.
func (c *Client) GenerateStructured(ctx context.Context, req llm.Request) ([]byte, llm.Usage, error) {
	body := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: req.System}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: req.User}}}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			Temperature:      0.1,
			MaxOutputTokens:  req.MaxOutputTokens,
		},
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.Model))
	raw, err := llm.PostJSON(ctx, c.http, llm.Endpoint{
		Provider: string(c.Name()),
		Model:    c.cfg.Model,
		URL:      endpoint,
		Headers:  map[string]string{"x-goog-api-key": c.cfg.APIKey},
	}, body, c.logger)
	if err != nil {
		return nil, llm.Usage{}, err
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, llm.Usage{}, c.providerError(common.ProviderErrMalformed, fmt.Errorf("decode gemini response: %w", err))
	}

	var usage llm.Usage
	if u := gr.UsageMetadata; u != nil && (u.PromptTokenCount > 0 || u.CandidatesTokenCount > 0) {
		usage = llm.Usage{InputTokens: u.PromptTokenCount, OutputTokens: u.CandidatesTokenCount, Reported: true}
	} else {
		c.logger.Warn("llm.gemini.usage_missing", "model", c.cfg.Model, "hint", "tokens will be estimated")
	}

	if len(gr.Candidates) == 0 {
		reason := "no candidates"
		if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
			reason += " (blocked: " + gr.PromptFeedback.BlockReason + ")"
		}
		return nil, usage, c.providerError(common.ProviderErrMalformed, errors.New(reason))
	}
	var b strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil, usage, c.providerError(common.ProviderErrMalformed,
			fmt.Errorf("empty content (finish_reason %s)", gr.Candidates[0].FinishReason))
	}
	return []byte(text), usage, nil
}

func (c *Client) providerError(kind common.ProviderErrorKind, err error) error {
	return &common.ProviderError{Provider: string(c.Name()), Model: c.cfg.Model, Kind: kind, Cause: err}
}
