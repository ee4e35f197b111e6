package llm

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Sophanos/saga-sub015/internal/core"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

const visionService = "image_analysis"

const visionSystemPrompt = `You look at artwork for a fiction project and list the characters it depicts.
Reply with JSON only: {"characters": ["Name", ...]}.
Use names exactly as written in the image or the author's note. Return an empty list when no named character is identifiable.`

// Vision implements core.ImageAnalyzer.
type Vision struct {
	c *Client
}

var _ core.ImageAnalyzer = (*Vision)(nil)

// Vision returns the image analysis adapter.
func (c *Client) Vision() *Vision { return &Vision{c: c} }

// ExtractCharacters asks the vision model which named characters appear in the image.
func (v *Vision) ExtractCharacters(ctx context.Context, imageURL, prompt string) ([]string, error) {
	note := "Which named characters appear in this image?"
	if p := strings.TrimSpace(prompt); p != "" {
		note += "\nAuthor's note: " + p
	}

	content, err := v.c.chat(ctx, openai.ChatCompletionRequest{
		Model: v.c.cfg.VisionModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: visionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: note},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    imageURL,
					Detail: openai.ImageURLDetailLow,
				}},
			}},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}, visionService)
	if err != nil {
		return nil, err
	}

	var reply struct {
		Characters []string `json:"characters"`
	}
	if err := charactersSchema.decode([]byte(stripFence(content)), &reply); err != nil {
		return nil, apperrors.External(err, visionService)
	}

	seen := make(map[string]bool, len(reply.Characters))
	names := make([]string, 0, len(reply.Characters))
	for _, n := range reply.Characters {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" || seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, n)
	}
	return names, nil
}
