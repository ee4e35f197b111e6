package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

// HandlerDeps is the explicit dependency bundle every handler is bound over.
// External services may be nil; the handlers that need them report dependency_unconfigured.
type HandlerDeps struct {
	Content       core.ContentAccessor   // Required
	Notifications core.NotificationSink  // Required
	Digests       core.DigestRepository  // Required
	Evidence      core.EvidenceRepository // Required
	Rules         core.RuleRepository    // Required

	Embeddings *EmbeddingSync
	Generator  core.TextGenerator
	Images     core.ImageAnalyzer
	Detector   core.EntityDetector
	Analyzer   core.Analyzer
	Execution  core.ExecutionResolver

	Settings PipelineSettings
	Logger   *slog.Logger
}

// Handlers implements one core.Handler per job kind.
type Handlers struct {
	deps   HandlerDeps
	logger *slog.Logger
}

// NewHandlers validates deps and constructs the handler set.
func NewHandlers(deps HandlerDeps) (*Handlers, error) {
	switch {
	case deps.Content == nil:
		return nil, errors.New("ContentAccessor is required")
	case deps.Notifications == nil:
		return nil, errors.New("NotificationSink is required")
	case deps.Digests == nil:
		return nil, errors.New("DigestRepository is required")
	case deps.Evidence == nil:
		return nil, errors.New("EvidenceRepository is required")
	case deps.Rules == nil:
		return nil, errors.New("RuleRepository is required")
	}
	if deps.Settings == (PipelineSettings{}) {
		deps.Settings = DefaultPipelineSettings()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{deps: deps, logger: logger.With("component", "handlers")}, nil
}

// RegisterHandlers binds every job kind to its handler and declares the capabilities the
// dispatcher checks before claiming.
func RegisterHandlers(reg *core.Registry, h *Handlers) error {
	if reg == nil || h == nil {
		return errors.New("registry and handlers are required")
	}
	entries := []struct {
		kind     model.JobKind
		fn       handlerFunc
		requires []core.Capability
	}{
		{model.JobKindDetectEntities, h.DetectEntities, []core.Capability{core.CapEntityDetection}},
		{model.JobKindCoherenceLint, h.Analyze, []core.Capability{core.CapAnalysis}},
		{model.JobKindClarityCheck, h.Analyze, []core.Capability{core.CapAnalysis}},
		{model.JobKindPolicyCheck, h.Analyze, []core.Capability{core.CapAnalysis}},
		{model.JobKindDigestDocument, h.DigestDocument, []core.Capability{core.CapTextGeneration}},
		{model.JobKindEmbeddingGeneration, h.GenerateEmbeddings, []core.Capability{core.CapEmbedding, core.CapVectorIndex}},
		{model.JobKindImageEvidenceSuggestions, h.SuggestImageEvidence, []core.Capability{core.CapImageAnalysis}},
		{model.JobKindInvariantCheck, h.CheckRules, nil},
		{model.JobKindWatchlistScan, h.CheckRules, nil},
	}
	for _, e := range entries {
		if err := reg.Register(e.kind, h.wrap(e.fn), e.requires...); err != nil {
			return err
		}
	}
	return nil
}

type handlerFunc func(ctx context.Context, job *model.Job, payload model.Payload) (model.HandlerResult, error)

// wrap turns benign-skip errors into a done result whose summary is the error text.
func (h *Handlers) wrap(fn handlerFunc) core.Handler {
	return func(ctx context.Context, job *model.Job, payload model.Payload) (model.HandlerResult, error) {
		res, err := fn(ctx, job, payload)
		if err != nil && apperrors.IsBenignSkip(err) {
			h.logger.InfoContext(ctx, "job skipped", "job_id", job.ID, "kind", job.Kind, "reason", err.Error())
			return model.Skip(err.Error()), nil
		}
		return res, err
	}
}

func payloadAs[T model.Payload](job *model.Job, p model.Payload) (T, error) {
	v, ok := p.(T)
	if !ok {
		var zero T
		return zero, apperrors.Internalf("unexpected payload %T for %s job %s", p, job.Kind, job.ID)
	}
	return v, nil
}

func (h *Handlers) loadDocument(ctx context.Context, job *model.Job, id string) (*model.Document, error) {
	doc, err := h.deps.Content.GetDocumentForAnalysis(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	if doc == nil {
		return nil, apperrors.NotFoundf("Document not found; nothing to do.")
	}
	if doc.ProjectID != job.Scope.ProjectID {
		return nil, apperrors.ScopeMismatch(model.TargetDocument, doc.ID, doc.ProjectID, job.Scope.ProjectID)
	}
	return doc, nil
}

func (h *Handlers) loadEntity(ctx context.Context, job *model.Job, id string) (*model.Entity, error) {
	e, err := h.deps.Content.GetEntityForAnalysis(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load entity %s: %w", id, err)
	}
	if e == nil {
		return nil, apperrors.NotFoundf("Entity not found; nothing to do.")
	}
	if e.ProjectID != job.Scope.ProjectID {
		return nil, apperrors.ScopeMismatch(model.TargetEntity, e.ID, e.ProjectID, job.Scope.ProjectID)
	}
	return e, nil
}

func (h *Handlers) loadMemory(ctx context.Context, job *model.Job, id string) (*model.Memory, error) {
	m, err := h.deps.Content.GetMemoryForAnalysis(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load memory %s: %w", id, err)
	}
	if m == nil {
		return nil, apperrors.NotFoundf("Memory not found; nothing to do.")
	}
	if m.ProjectID != job.Scope.ProjectID {
		return nil, apperrors.ScopeMismatch(model.TargetMemory, m.ID, m.ProjectID, job.Scope.ProjectID)
	}
	return m, nil
}

func (h *Handlers) emit(ctx context.Context, in core.NotificationInput) (*model.Notification, error) {
	n, err := h.deps.Notifications.Emit(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("emit %s notification: %w", in.Kind, err)
	}
	return n, nil
}
