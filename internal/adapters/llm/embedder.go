package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Sophanos/saga-sub015/internal/core"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

const embeddingService = "embedding"

// Embedder implements core.EmbeddingService.
type Embedder struct {
	c *Client
}

var _ core.EmbeddingService = (*Embedder)(nil)

// Embedder returns the embedding adapter.
func (c *Client) Embedder() *Embedder { return &Embedder{c: c} }

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.c.cfg.EmbeddingModel }

// Embed embeds a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in one request. The provider may return data out of order, so
// vectors are placed by their reported index.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()
	resp, err := e.c.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.Model()),
	})
	if err != nil {
		return nil, apperrors.External(describeAPIError(err), embeddingService)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.External(
			fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)), embeddingService)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, apperrors.External(fmt.Errorf("bad embedding index %d", d.Index), embeddingService)
		}
		if len(d.Embedding) == 0 {
			return nil, apperrors.External(errors.New("empty embedding"), embeddingService)
		}
		out[d.Index] = d.Embedding
	}
	e.c.logger.DebugContext(ctx, "embedded batch",
		"model", e.Model(), "inputs", len(texts), "tokens", resp.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}
