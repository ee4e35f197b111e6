// Package core holds the ports of the analysis pipeline and the small services built directly on them.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sophanos/saga-sub015/internal/domain/chunking"
)

// CacheRepository defines the interface for caching operations.
// The core defines the contract and the data layer provides a Redis implementation.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// CachedEmbeddingService wraps an EmbeddingService with a content-addressed vector cache so
// identical chunk text across targets is sent to the provider once per TTL.
// Cache failures degrade to a provider call; they never fail the embed.
type CachedEmbeddingService struct {
	inner  EmbeddingService
	cache  CacheRepository
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// CachedEmbeddingServiceOptions bundles dependencies for NewCachedEmbeddingService.
type CachedEmbeddingServiceOptions struct {
	Inner     EmbeddingService
	Cache     CacheRepository
	TTL       time.Duration
	KeyPrefix string
	Logger    *slog.Logger
}

// NewCachedEmbeddingService creates a CachedEmbeddingService. A nil cache returns Inner unchanged.
//
//nolint:ireturn // decorator returns the port it wraps
func NewCachedEmbeddingService(opts CachedEmbeddingServiceOptions) EmbeddingService {
	if opts.Cache == nil || opts.Inner == nil {
		return opts.Inner
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "saga"
	}
	return &CachedEmbeddingService{
		inner:  opts.Inner,
		cache:  opts.Cache,
		ttl:    opts.TTL,
		prefix: prefix,
		logger: logger.With("component", "embedding_cache"),
	}
}

// Model returns the wrapped provider's model.
func (s *CachedEmbeddingService) Model() string { return s.inner.Model() }

// Embed embeds a single text.
func (s *CachedEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch serves cached vectors and sends only the misses to the provider, preserving order.
func (s *CachedEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missText := make([]string, 0, len(texts))

	for i, t := range texts {
		if v := s.lookup(ctx, t); v != nil {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missText = append(missText, t)
	}
	if len(missText) == 0 {
		return out, nil
	}

	vecs, err := s.inner.EmbedBatch(ctx, missText)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missText) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(vecs), len(missText))
	}
	for j, v := range vecs {
		out[missIdx[j]] = v
		s.store(ctx, missText[j], v)
	}
	return out, nil
}

func (s *CachedEmbeddingService) key(text string) string {
	return s.prefix + ":embedding:" + s.inner.Model() + ":" + chunking.HashText(text)
}

func (s *CachedEmbeddingService) lookup(ctx context.Context, text string) []float32 {
	raw, err := s.cache.Get(ctx, s.key(text))
	if err != nil {
		s.logger.WarnContext(ctx, "embedding cache get failed", "error", err)
		return nil
	}
	if len(raw) == 0 {
		return nil
	}
	var v []float32
	if err := json.Unmarshal(raw, &v); err != nil || len(v) == 0 {
		return nil
	}
	return v
}

func (s *CachedEmbeddingService) store(ctx context.Context, text string, v []float32) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.key(text), raw, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "embedding cache set failed", "error", err)
	}
}
