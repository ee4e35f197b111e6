package service

import (
	"context"
	"fmt"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

// GenerateEmbeddings synchronises the vector index for a document, entity or memory.
func (h *Handlers) GenerateEmbeddings(ctx context.Context, job *model.Job, payload model.Payload) (model.HandlerResult, error) {
	p, err := payloadAs[model.EmbeddingPayload](job, payload)
	if err != nil {
		return model.HandlerResult{}, err
	}
	if h.deps.Embeddings == nil {
		return model.HandlerResult{}, apperrors.DependencyUnconfigured(string(core.CapEmbedding))
	}

	var (
		res     model.EmbeddingSyncResult
		summary string
	)
	switch p.TargetType {
	case model.TargetDocument:
		doc, err := h.loadDocument(ctx, job, p.TargetID)
		if err != nil {
			return model.HandlerResult{}, err
		}
		res, err = h.deps.Embeddings.SyncTarget(ctx, SyncTarget{
			ProjectID:  doc.ProjectID,
			UserID:     job.Scope.UserID,
			TargetType: model.TargetDocument,
			TargetID:   doc.ID,
			Text:       doc.ContentText,
		})
		if err != nil {
			return model.HandlerResult{}, err
		}
		summary = targetSummary("Document", res)

	case model.TargetEntity:
		e, err := h.loadEntity(ctx, job, p.TargetID)
		if err != nil {
			return model.HandlerResult{}, err
		}
		res, err = h.deps.Embeddings.SyncTarget(ctx, SyncTarget{
			ProjectID:  e.ProjectID,
			UserID:     job.Scope.UserID,
			TargetType: model.TargetEntity,
			TargetID:   e.ID,
			Text:       e.EmbeddingText(),
		})
		if err != nil {
			return model.HandlerResult{}, err
		}
		summary = targetSummary("Entity", res)

	case model.TargetMemory:
		mem, err := h.loadMemory(ctx, job, p.TargetID)
		if err != nil {
			return model.HandlerResult{}, err
		}
		res, err = h.deps.Embeddings.SyncMemory(ctx, mem, job.Scope.UserID)
		if err != nil {
			return model.HandlerResult{}, err
		}
		switch {
		case res.ChunkCount == 0:
			summary = "Memory empty; removed embedding."
		case res.EmbeddedChunks == 0:
			summary = "Memory unchanged; embedding kept."
		default:
			summary = "Memory embedded."
		}

	case model.TargetMemoryDelete:
		res, err = h.deps.Embeddings.DeleteMemory(ctx, p.TargetID, p.VectorID)
		if err != nil {
			return model.HandlerResult{}, err
		}
		summary = "Memory embedding removed."

	default:
		return model.HandlerResult{}, apperrors.ValidationField("target_type",
			fmt.Sprintf("unsupported embedding target %q", p.TargetType))
	}

	return model.HandlerResult{Summary: summary, ResultRef: core.RawResult(res)}, nil
}

func targetSummary(label string, res model.EmbeddingSyncResult) string {
	if res.ChunkCount == 0 {
		return label + " empty; removed embeddings."
	}
	s := fmt.Sprintf("Embedded %d of %d chunks", res.EmbeddedChunks, res.ChunkCount)
	if res.DeletedPoints > 0 {
		s += fmt.Sprintf("; removed %d stale points", res.DeletedPoints)
	}
	return s + "."
}
