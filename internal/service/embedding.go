package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/chunking"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
	"github.com/Sophanos/saga-sub015/internal/observability/metrics"
	"github.com/Sophanos/saga-sub015/internal/observability/statsd"
)

const previewRunes = 160

// EmbeddingSyncOptions groups dependencies for EmbeddingSync.
type EmbeddingSyncOptions struct {
	Embedder core.EmbeddingService // Optional: nil reports dependency_unconfigured on use
	Index    core.VectorIndex      // Optional: nil reports dependency_unconfigured on use
	Content  core.ContentAccessor  // Optional: records memory vector ids when set
	Settings PipelineSettings
	Logger   *slog.Logger
	Metrics  statsd.Sink
	Now      func() time.Time
}

// EmbeddingSync keeps the vector index consistent with target text, re-embedding only changed chunks.
type EmbeddingSync struct {
	embedder core.EmbeddingService
	index    core.VectorIndex
	content  core.ContentAccessor
	settings PipelineSettings
	logger   *slog.Logger
	metrics  statsd.Sink
	now      func() time.Time
}

// NewEmbeddingSync constructs an EmbeddingSync.
func NewEmbeddingSync(opts EmbeddingSyncOptions) *EmbeddingSync {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settings := opts.Settings
	def := DefaultPipelineSettings()
	if settings.ChunkMaxChars <= 0 {
		settings.ChunkMaxChars = def.ChunkMaxChars
	}
	if settings.EmbedBatchSize <= 0 {
		settings.EmbedBatchSize = def.EmbedBatchSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &EmbeddingSync{
		embedder: opts.Embedder,
		index:    opts.Index,
		content:  opts.Content,
		settings: settings,
		logger:   logger.With("component", "embedding_sync"),
		metrics:  opts.Metrics,
		now:      now,
	}
}

// SyncTarget identifies the text to synchronise and the scope its points carry.
type SyncTarget struct {
	ProjectID  string
	UserID     string
	TargetType string
	TargetID   string
	Text       string
}

func (t SyncTarget) filter() model.VectorFilter {
	return model.VectorFilter{ProjectID: t.ProjectID, TargetType: t.TargetType, TargetID: t.TargetID}
}

func (s *EmbeddingSync) ready() error {
	if s.embedder == nil {
		return apperrors.DependencyUnconfigured(string(core.CapEmbedding))
	}
	if s.index == nil {
		return apperrors.DependencyUnconfigured(string(core.CapVectorIndex))
	}
	return nil
}

// SyncTarget chunks t.Text, compares chunk hashes with the stored points and embeds only the
// chunks that changed. Points past the new chunk count are removed. Empty text removes every
// point of the target without calling the embedder.
func (s *EmbeddingSync) SyncTarget(ctx context.Context, t SyncTarget) (model.EmbeddingSyncResult, error) {
	res := model.EmbeddingSyncResult{TargetType: t.TargetType, TargetID: t.TargetID}
	if err := s.ready(); err != nil {
		return res, err
	}

	chunks := chunking.Build(t.Text, s.settings.ChunkMaxChars)
	res.ChunkCount = len(chunks)
	if len(chunks) == 0 {
		n, err := s.index.DeleteByFilter(ctx, t.filter())
		if err != nil {
			return res, fmt.Errorf("remove embeddings for %s %s: %w", t.TargetType, t.TargetID, err)
		}
		res.DeletedPoints = n
		s.finish(ctx, res)
		return res, nil
	}

	stored, scanned, complete, err := s.storedHashes(ctx, t, len(chunks))
	if err != nil {
		return res, err
	}
	res.UsedHashDiff = scanned
	res.StoredTailUnknown = scanned && !complete

	changed := chunking.Diff(chunks, stored)
	res.SkippedChunks = len(chunks) - len(changed)
	if err := s.embedAndUpsert(ctx, t, changed); err != nil {
		return res, err
	}
	res.EmbeddedChunks = len(changed)

	if !complete || shrank(stored, len(chunks)) {
		from := len(chunks)
		f := t.filter()
		f.MinChunkIndex = &from
		n, err := s.index.DeleteByFilter(ctx, f)
		if err != nil {
			return res, fmt.Errorf("trim embeddings for %s %s: %w", t.TargetType, t.TargetID, err)
		}
		res.DeletedPoints = n
	}

	s.finish(ctx, res)
	return res, nil
}

// storedHashes reads the stored chunk_index -> chunk_hash pairs. scanned is false when the target
// exceeds the scan ceiling, in which case every chunk counts as changed. complete is false when the
// stored set may extend past what was read.
func (s *EmbeddingSync) storedHashes(
	ctx context.Context,
	t SyncTarget,
	chunkCount int,
) (stored map[int]uint32, scanned, complete bool, err error) {
	ceiling := s.settings.ScanCeiling
	if chunkCount > ceiling {
		s.logger.InfoContext(ctx, "chunk count above scan ceiling, re-embedding every chunk",
			"target_type", t.TargetType,
			"target_id", t.TargetID,
			"chunks", chunkCount,
			"scan_ceiling", ceiling,
		)
		return nil, false, false, nil
	}

	rows, err := s.index.Scroll(ctx, t.filter(), ceiling+1)
	if err != nil {
		return nil, false, false, fmt.Errorf("read stored chunks for %s %s: %w", t.TargetType, t.TargetID, err)
	}
	stored = make(map[int]uint32, len(rows))
	for _, r := range rows {
		stored[r.ChunkIndex] = r.ChunkHash
	}
	// Rows come ordered by chunk_index, so a cut-off read still covers every index below
	// chunkCount; only the tail past the ceiling is unseen.
	return stored, true, len(rows) <= ceiling, nil
}

func shrank(stored map[int]uint32, count int) bool {
	for idx := range stored {
		if idx >= count {
			return true
		}
	}
	return false
}

func (s *EmbeddingSync) embedAndUpsert(ctx context.Context, t SyncTarget, changed []model.Chunk) error {
	size := s.settings.EmbedBatchSize
	updatedAt := s.now().UTC()
	for start := 0; start < len(changed); start += size {
		batch := changed[start:min(start+size, len(changed))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks of %s %s: %w", t.TargetType, t.TargetID, err)
		}
		if len(vectors) != len(batch) {
			return apperrors.External(
				fmt.Errorf("expected %d vectors, got %d", len(batch), len(vectors)),
				string(core.CapEmbedding))
		}

		points := make([]model.VectorPoint, len(batch))
		for i, c := range batch {
			points[i] = s.point(t, c, vectors[i], updatedAt)
		}
		if err := s.index.Upsert(ctx, points); err != nil {
			return fmt.Errorf("upsert chunks of %s %s: %w", t.TargetType, t.TargetID, err)
		}
	}
	return nil
}

func (s *EmbeddingSync) point(t SyncTarget, c model.Chunk, vector []float32, at time.Time) model.VectorPoint {
	key := model.PointKey(t.TargetType, t.TargetID, c.Index)
	return model.VectorPoint{
		ID:     model.PointID(key),
		Vector: vector,
		Payload: model.ChunkPayload{
			Key:        key,
			ProjectID:  t.ProjectID,
			UserID:     t.UserID,
			TargetType: t.TargetType,
			TargetID:   t.TargetID,
			Text:       c.Text,
			Preview:    chunking.Preview(c.Text, previewRunes),
			ChunkIndex: c.Index,
			ChunkHash:  c.Hash,
			UpdatedAt:  at,
		},
	}
}

// SyncMemory embeds a memory as a single point. The point id is the memory's stored vector id when it
// has one, otherwise the id derived from its key; a derived id is written back through the content
// accessor. Unchanged text is not re-embedded.
func (s *EmbeddingSync) SyncMemory(ctx context.Context, mem *model.Memory, userID string) (model.EmbeddingSyncResult, error) {
	if mem == nil {
		return model.EmbeddingSyncResult{}, errors.New("memory is required")
	}
	res := model.EmbeddingSyncResult{TargetType: model.TargetMemory, TargetID: mem.ID, UsedHashDiff: true}
	if err := s.ready(); err != nil {
		return res, err
	}
	t := SyncTarget{
		ProjectID:  mem.ProjectID,
		UserID:     firstNonEmpty(mem.UserID, userID),
		TargetType: model.TargetMemory,
		TargetID:   mem.ID,
	}

	text := chunking.Normalize(mem.Text)
	if text == "" {
		n, err := s.index.DeleteByFilter(ctx, t.filter())
		if err != nil {
			return res, fmt.Errorf("remove memory %s embedding: %w", mem.ID, err)
		}
		res.DeletedPoints = n
		s.finish(ctx, res)
		return res, nil
	}

	chunk := model.Chunk{Index: 0, Text: text, Hash: chunking.HashChunk(text)}
	res.ChunkCount = 1
	rows, err := s.index.Scroll(ctx, t.filter(), 2)
	if err != nil {
		return res, fmt.Errorf("read stored memory %s: %w", mem.ID, err)
	}
	pointID := memoryPointID(mem.ID, deref(mem.VectorID))
	for _, r := range rows {
		if r.ChunkIndex == 0 && r.ChunkHash == chunk.Hash && samePointID(r.ID, pointID) {
			res.SkippedChunks = 1
			s.finish(ctx, res)
			return res, nil
		}
	}

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return res, fmt.Errorf("embed memory %s: %w", mem.ID, err)
	}
	p := s.point(t, chunk, vector, s.now().UTC())
	p.ID = pointID
	if err := s.index.Upsert(ctx, []model.VectorPoint{p}); err != nil {
		return res, fmt.Errorf("upsert memory %s: %w", mem.ID, err)
	}
	res.EmbeddedChunks = 1

	if s.content != nil && deref(mem.VectorID) != pointID {
		if err := s.content.SetMemoryVectorID(ctx, mem.ID, pointID); err != nil {
			return res, fmt.Errorf("record memory %s vector id: %w", mem.ID, err)
		}
	}
	s.finish(ctx, res)
	return res, nil
}

// DeleteMemory removes the single point of a memory. vectorID may be empty for memories that were
// embedded under their derived id.
func (s *EmbeddingSync) DeleteMemory(ctx context.Context, memoryID, vectorID string) (model.EmbeddingSyncResult, error) {
	res := model.EmbeddingSyncResult{TargetType: model.TargetMemoryDelete, TargetID: memoryID}
	if s.index == nil {
		return res, apperrors.DependencyUnconfigured(string(core.CapVectorIndex))
	}
	id := memoryPointID(memoryID, vectorID)
	if err := s.index.Delete(ctx, []string{id}); err != nil {
		return res, fmt.Errorf("delete memory %s embedding: %w", memoryID, err)
	}
	res.DeletedPoints = 1
	s.finish(ctx, res)
	return res, nil
}

func memoryPointID(memoryID, vectorID string) string {
	if vectorID != "" {
		return vectorID
	}
	return model.PointID(model.PointKey(model.TargetMemory, memoryID, 0))
}

// samePointID compares point ids as UUIDs when both parse, since the index may return a
// different letter case than the one stored on the memory.
func samePointID(a, b string) bool {
	ua, errA := uuid.Parse(a)
	ub, errB := uuid.Parse(b)
	if errA == nil && errB == nil {
		return ua == ub
	}
	return strings.EqualFold(a, b)
}

func (s *EmbeddingSync) finish(ctx context.Context, res model.EmbeddingSyncResult) {
	metrics.EmitEmbeddingSync(s.metrics, metrics.EmbeddingMetric{
		TargetType:   res.TargetType,
		Embedded:     res.EmbeddedChunks,
		Skipped:      res.SkippedChunks,
		Deleted:      res.DeletedPoints,
		UsedHashDiff: res.UsedHashDiff,
	})
	s.logger.DebugContext(ctx, "embeddings synchronised",
		"target_type", res.TargetType,
		"target_id", res.TargetID,
		"chunks", res.ChunkCount,
		"embedded", res.EmbeddedChunks,
		"skipped", res.SkippedChunks,
		"deleted", res.DeletedPoints,
		"used_hash_diff", res.UsedHashDiff,
		"stored_tail_unknown", res.StoredTailUnknown,
	)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
