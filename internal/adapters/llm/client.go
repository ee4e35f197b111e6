// Package llm implements the embedding, generation, vision, entity detection and lint ports
// on top of an OpenAI-compatible API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

// Config selects credentials, endpoint and default models.
type Config struct {
	APIKey string
	// BaseURL overrides the API root, e.g. for a self-hosted compatible gateway.
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	VisionModel    string
	Timeout        time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Client is the shared API client behind every adapter in this package.
type Client struct {
	api    *openai.Client
	cfg    Config
	logger *slog.Logger
}

// NewClient builds a client. APIKey is required.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm: api key is required")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.GPT4oMini
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.ChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.SmallEmbedding3)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	} else {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:    openai.NewClientWithConfig(oc),
		cfg:    cfg,
		logger: logger.With("component", "llm"),
	}, nil
}

// chat sends one system+user exchange and returns the first choice's content.
func (c *Client) chat(ctx context.Context, req openai.ChatCompletionRequest, service string) (string, error) {
	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.WarnContext(ctx, "chat completion failed",
			"service", service, "model", req.Model, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", apperrors.External(describeAPIError(err), service)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.External(errors.New("no choices in response"), service)
	}
	c.logger.DebugContext(ctx, "chat completion",
		"service", service,
		"model", req.Model,
		"finish_reason", resp.Choices[0].FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// jsonChat runs chat in JSON-object mode and validates the reply against schema before decoding into dst.
func (c *Client) jsonChat(
	ctx context.Context, model, system, user string, schema *validator, dst any, service string,
) error {
	content, err := c.chat(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}, service)
	if err != nil {
		return err
	}
	if err := schema.decode([]byte(stripFence(content)), dst); err != nil {
		return apperrors.External(err, service)
	}
	return nil
}

func describeAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("status %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	return err
}

// stripFence removes a ```json fence some models wrap around JSON replies.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
