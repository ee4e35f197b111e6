package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sophanos/saga-sub015/config"
	"github.com/Sophanos/saga-sub015/internal/adapters/llm"
	"github.com/Sophanos/saga-sub015/internal/adapters/vectorindex"
	"github.com/Sophanos/saga-sub015/internal/core"
)

// Providers holds the external model and index adapters. A nil field leaves the
// matching capability unconfigured, and jobs that need it stay pending.
type Providers struct {
	Embedder  core.EmbeddingService
	Index     core.VectorIndex
	Generator core.TextGenerator
	Images    core.ImageAnalyzer
	Detector  core.EntityDetector
	Analyzer  core.Analyzer
}

// Capabilities reports which capabilities the configured providers cover.
func (p Providers) Capabilities() core.CapabilitySet {
	return core.CapabilitySet{
		core.CapEmbedding:       p.Embedder != nil,
		core.CapVectorIndex:     p.Index != nil,
		core.CapTextGeneration:  p.Generator != nil,
		core.CapImageAnalysis:   p.Images != nil,
		core.CapEntityDetection: p.Detector != nil,
		core.CapAnalysis:        p.Analyzer != nil,
	}
}

// ProviderDeps groups dependencies for BuildProviders.
type ProviderDeps struct {
	Config *config.AppConfig
	// Cache backs the embedding cache; nil disables it.
	Cache  core.CacheRepository
	Logger *slog.Logger
}

// BuildProviders constructs the OpenAI-compatible client and the Weaviate index from config.
func BuildProviders(ctx context.Context, deps ProviderDeps) (Providers, error) {
	var p Providers
	if deps.Config == nil {
		return p, nil
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.OpenAI.Enabled() {
		client, err := llm.NewClient(llm.Config{
			APIKey:         cfg.OpenAI.APIKey,
			BaseURL:        cfg.OpenAI.BaseURL,
			EmbeddingModel: cfg.OpenAI.EmbeddingModel,
			ChatModel:      cfg.OpenAI.ChatModel,
			VisionModel:    cfg.OpenAI.VisionModel,
			Timeout:        cfg.OpenAI.Timeout,
			Logger:         logger,
		})
		if err != nil {
			return p, fmt.Errorf("create llm client: %w", err)
		}
		p.Embedder = embedderWithCache(client.Embedder(), deps.Cache, cfg.Cache, logger)
		p.Generator = client.Generator()
		p.Images = client.Vision()
		p.Detector = client.Detector()
		p.Analyzer = client.Analyzer()
	} else {
		logger.Warn("openai provider not configured; embedding, generation and analysis jobs will wait")
	}

	if cfg.Weaviate.Enabled() {
		ix, err := vectorindex.New(vectorindex.Options{
			URL:       cfg.Weaviate.URL,
			APIKey:    cfg.Weaviate.APIKey,
			ClassName: cfg.Weaviate.ClassName,
			Timeout:   cfg.OpenAI.Timeout,
			Logger:    logger,
		})
		if err != nil {
			return p, fmt.Errorf("create vector index: %w", err)
		}
		if cfg.Weaviate.EnsureSchema {
			if err := ix.EnsureSchema(ctx); err != nil {
				return p, fmt.Errorf("ensure vector index schema: %w", err)
			}
		}
		p.Index = ix
	} else {
		logger.Warn("vector index not configured; embedding jobs will wait")
	}

	return p, nil
}

//nolint:ireturn // the cache wrapper and the raw embedder share the port.
func embedderWithCache(
	inner core.EmbeddingService,
	cache core.CacheRepository,
	cfg config.CacheConfig,
	logger *slog.Logger,
) core.EmbeddingService {
	if cache == nil || cfg.EmbeddingTTL <= 0 {
		return inner
	}
	return core.NewCachedEmbeddingService(core.CachedEmbeddingServiceOptions{
		Inner:     inner,
		Cache:     cache,
		TTL:       cfg.EmbeddingTTL,
		KeyPrefix: cfg.KeyPrefix,
		Logger:    logger,
	})
}
