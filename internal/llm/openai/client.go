package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/llm"
)

// GenerateStructured implements llm.Provider with a JSON-object chat completion.
func (c *Client) GenerateStructured(ctx context.Context, req llm.Request) ([]byte, llm.Usage, error) {
	start := time.Now()
	rid := common.RequestIDFromContext(ctx)

	cr := goopenai.ChatCompletionRequest{
		Model: c.cfg.Model,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: req.System},
			{Role: goopenai.ChatMessageRoleUser, Content: req.User + "\n\nReturn ONLY JSON that matches the provided schema."},
		},
	}
	maxTokens := req.MaxOutputTokens
	if c.cfg.MaxTokens > 0 {
		maxTokens = c.cfg.MaxTokens
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(c.cfg.Model) {
		cr.MaxCompletionTokens = maxTokens
	} else {
		cr.MaxTokens = maxTokens
		cr.Temperature = c.cfg.Temperature
	}

	c.logger.Info("llm.openai.request",
		"req_id", rid,
		"model", c.cfg.Model,
		"schema", req.SchemaName,
		"prompt_chars", len(req.System)+len(req.User),
	)

	resp, err := c.api.CreateChatCompletion(ctx, cr)
	if err != nil {
		c.logger.Error("llm.openai.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, llm.Usage{}, c.wrap(ctx, err)
	}

	usage := llm.Usage{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
		Reported:     resp.Usage.TotalTokens > 0,
	}
	if len(resp.Choices) == 0 {
		c.logger.Error("llm.openai.no_choices", "req_id", rid, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, usage, c.providerError(common.ProviderErrMalformed, errors.New("no choices in openai response"))
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, usage, c.providerError(common.ProviderErrMalformed,
			fmt.Errorf("empty content (finish_reason %s)", resp.Choices[0].FinishReason))
	}

	c.logger.Info("llm.openai.response",
		"req_id", rid,
		"model", resp.Model,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"finish_reason", resp.Choices[0].FinishReason,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return []byte(content), usage, nil
}

func (c *Client) wrap(ctx context.Context, err error) error {
	kind := common.ProviderErrHTTP
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = common.ProviderErrTimeout
	case errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests:
		kind = common.ProviderErrRateLimit
	case errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests:
		kind = common.ProviderErrRateLimit
	case errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden):
		kind = common.ProviderErrConfig
	}
	return c.providerError(kind, err)
}

func (c *Client) providerError(kind common.ProviderErrorKind, err error) error {
	return &common.ProviderError{Provider: string(c.Name()), Model: c.cfg.Model, Kind: kind, Cause: err}
}
