package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Sophanos/saga-sub015/internal/core"
)

// Generator implements core.TextGenerator.
type Generator struct {
	c *Client
}

var _ core.TextGenerator = (*Generator)(nil)

// Generator returns the text generation adapter.
func (c *Client) Generator() *Generator { return &Generator{c: c} }

// Generate runs a single chat completion. An empty req.Model uses the configured chat model.
func (g *Generator) Generate(ctx context.Context, req core.GenerateRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = g.c.cfg.ChatModel
	}
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	cr := openai.ChatCompletionRequest{
		Model:               model,
		Messages:            msgs,
		MaxCompletionTokens: req.MaxTokens,
	}
	if req.JSON {
		cr.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return g.c.chat(ctx, cr, "text_generation")
}
