package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/chunking"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

// DigestDocument summarises a document and stores the digest under the job's content hash.
func (h *Handlers) DigestDocument(ctx context.Context, job *model.Job, payload model.Payload) (model.HandlerResult, error) {
	p, err := payloadAs[model.DocumentPayload](job, payload)
	if err != nil {
		return model.HandlerResult{}, err
	}
	if h.deps.Generator == nil {
		return model.HandlerResult{}, apperrors.DependencyUnconfigured(string(core.CapTextGeneration))
	}
	doc, err := h.loadDocument(ctx, job, p.DocumentID)
	if err != nil {
		return model.HandlerResult{}, err
	}
	text := strings.TrimSpace(doc.ContentText)
	if text == "" {
		return model.HandlerResult{}, apperrors.EmptyContentf("Document has no text; nothing to digest.")
	}

	input, truncated := truncateHead(text, h.deps.Settings.DigestMaxChars)
	if truncated {
		h.logger.WarnContext(ctx, "digest input truncated",
			"job_id", job.ID,
			"document_id", doc.ID,
			"chars", utf8.RuneCountInString(text),
			"limit", h.deps.Settings.DigestMaxChars,
		)
	}
	prompt := BuildDigestPrompt(doc.Title, input, truncated)

	var exec core.ExecutionContext
	if h.deps.Execution != nil {
		exec = h.deps.Execution.Resolve(ctx, TaskDigestDocument, job.Scope.UserID, utf8.RuneCountInString(prompt))
	}
	reply, err := h.deps.Generator.Generate(ctx, core.GenerateRequest{
		System:    digestSystemPrompt,
		Prompt:    prompt,
		Model:     exec.Model,
		MaxTokens: exec.MaxTokens,
	})
	if err != nil {
		return model.HandlerResult{}, fmt.Errorf("generate digest for document %s: %w", doc.ID, err)
	}
	parsed := ParseDigest(reply)
	if parsed.Summary == "" {
		return model.HandlerResult{}, apperrors.External(errors.New("digest reply had no summary"),
			string(core.CapTextGeneration))
	}

	hash := job.ContentHash
	if hash == "" {
		hash = chunking.HashText(text)
	}
	stored, err := h.deps.Digests.Upsert(ctx, &model.Digest{
		ProjectID:   doc.ProjectID,
		DocumentID:  doc.ID,
		ContentHash: hash,
		Summary:     parsed.Summary,
		Highlights:  parsed.Highlights,
		Truncated:   truncated,
		Model:       exec.Model,
	})
	if err != nil {
		return model.HandlerResult{}, fmt.Errorf("store digest for document %s: %w", doc.ID, err)
	}

	summary := fmt.Sprintf("Digest stored with %d highlights.", len(parsed.Highlights))
	if truncated {
		summary += " Input was truncated."
	}
	return model.HandlerResult{
		Summary: summary,
		ResultRef: core.RawResult(map[string]any{
			"digest_id": stored.ID,
			"truncated": truncated,
		}),
	}, nil
}
