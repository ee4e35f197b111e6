package service

import (
	"time"

	"github.com/Sophanos/saga-sub015/config"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
)

// PipelineSettings is the tuning the handlers and the diff engine run with.
// It is built once at startup and passed by value.
type PipelineSettings struct {
	EmbedBatchSize int
	ChunkMaxChars  int
	DigestMaxChars int
	ScanCeiling    int
	Debounce       DebounceSettings
}

// DebounceSettings holds the per-kind debounce windows applied at enqueue.
type DebounceSettings struct {
	Default   time.Duration
	Embedding time.Duration
	Analysis  time.Duration
	Digest    time.Duration
	ImageScan time.Duration
}

// For returns the debounce window for kind.
func (d DebounceSettings) For(kind model.JobKind) time.Duration {
	switch {
	case kind == model.JobKindEmbeddingGeneration:
		return d.Embedding
	case kind.IsAnalysis():
		return d.Analysis
	case kind == model.JobKindDigestDocument:
		return d.Digest
	case kind == model.JobKindImageEvidenceSuggestions:
		return d.ImageScan
	default:
		return d.Default
	}
}

// DefaultPipelineSettings mirrors the configuration defaults.
func DefaultPipelineSettings() PipelineSettings {
	return PipelineSettings{
		EmbedBatchSize: 8,
		ChunkMaxChars:  1200,
		DigestMaxChars: 20000,
		ScanCeiling:    500,
		Debounce: DebounceSettings{
			Default:   5 * time.Second,
			Embedding: 3 * time.Second,
			Analysis:  30 * time.Second,
			Digest:    2 * time.Minute,
		},
	}
}

// NewPipelineSettings converts sanitized configuration into settings. Zero values fall back to defaults.
func NewPipelineSettings(p config.PipelineConfig, d config.DebounceConfig) PipelineSettings {
	s := DefaultPipelineSettings()
	if p.EmbedBatchSize > 0 {
		s.EmbedBatchSize = p.EmbedBatchSize
	}
	if p.ChunkMaxChars > 0 {
		s.ChunkMaxChars = p.ChunkMaxChars
	}
	if p.DigestMaxChars > 0 {
		s.DigestMaxChars = p.DigestMaxChars
	}
	if p.ScanCeiling >= 0 {
		s.ScanCeiling = p.ScanCeiling
	}
	s.Debounce = DebounceSettings{
		Default:   d.Default,
		Embedding: d.Embedding,
		Analysis:  d.Analysis,
		Digest:    d.Digest,
		ImageScan: d.ImageScans,
	}
	return s
}
