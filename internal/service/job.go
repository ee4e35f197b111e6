package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/chunking"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
	"github.com/Sophanos/saga-sub015/internal/observability/statsd"
)

// DefaultDocumentKinds are the jobs a document save fans out to.
func DefaultDocumentKinds() []model.JobKind {
	return []model.JobKind{
		model.JobKindEmbeddingGeneration,
		model.JobKindDetectEntities,
		model.JobKindCoherenceLint,
		model.JobKindDigestDocument,
	}
}

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo          core.JobRepository      // Required: job repository
	Entitlements  core.EntitlementChecker // Optional: every kind is allowed without it
	Settings      PipelineSettings        // Optional: defaults apply when zero
	DocumentKinds []model.JobKind         // Optional: overrides DefaultDocumentKinds
	Logger        *slog.Logger            // Optional: structured logger
	Metrics       statsd.Sink             // Optional: metrics sink
}

// JobService is the enqueue boundary of the pipeline. It validates and normalises requests
// before they reach the job store.
type JobService struct {
	repo          core.JobRepository
	entitlements  core.EntitlementChecker
	settings      PipelineSettings
	documentKinds []model.JobKind
	logger        *slog.Logger
	metrics       statsd.Sink
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	settings := opts.Settings
	if settings == (PipelineSettings{}) {
		settings = DefaultPipelineSettings()
	}
	kinds := opts.DocumentKinds
	if len(kinds) == 0 {
		kinds = DefaultDocumentKinds()
	}
	for _, k := range kinds {
		if !k.Valid() || k == model.JobKindImageEvidenceSuggestions {
			return nil, fmt.Errorf("invalid document job kind %q", k)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "job_service")
	logger.Debug("JobService initialized", "document_kinds", kinds)

	return &JobService{
		repo:          opts.Repo,
		entitlements:  opts.Entitlements,
		settings:      settings,
		documentKinds: kinds,
		logger:        logger,
		metrics:       opts.Metrics,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// EnqueueInput is a request to schedule one job.
type EnqueueInput struct {
	Kind  model.JobKind
	Scope model.Scope
	// Payload is a model.Payload, raw JSON, or any value that marshals to the kind's payload.
	Payload any
	// ContentHash defaults to the hash of the kind and canonical payload.
	ContentHash string
	// Debounce overrides the configured window for the kind.
	Debounce *time.Duration
}

// Enqueue validates in and schedules it. A pending job for the same kind and scope is
// coalesced: it takes the new payload and its debounce window restarts.
func (s *JobService) Enqueue(ctx context.Context, in EnqueueInput) (*model.EnqueueResult, error) {
	if !in.Kind.Valid() {
		return nil, apperrors.ValidationField("kind", fmt.Sprintf("unknown job kind %q", in.Kind))
	}
	if err := in.Scope.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job scope")
	}

	raw, err := rawPayload(in.Payload)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job payload")
	}
	parsed, err := model.ParsePayload(in.Kind, raw)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job payload")
	}
	scope, err := scopeFor(in.Scope, parsed)
	if err != nil {
		return nil, err
	}
	canonical, err := model.MarshalPayload(parsed)
	if err != nil {
		return nil, err
	}

	if err := s.checkEntitlement(ctx, scope.UserID, in.Kind); err != nil {
		return nil, err
	}

	hash := in.ContentHash
	if hash == "" {
		hash = chunking.HashText(string(in.Kind) + "\n" + string(canonical))
	}
	debounce := s.settings.Debounce.For(in.Kind)
	if in.Debounce != nil {
		debounce = max(*in.Debounce, 0)
	}

	res, err := s.repo.Enqueue(ctx, &model.EnqueueRequest{
		Kind:        in.Kind,
		Scope:       scope,
		Payload:     canonical,
		ContentHash: hash,
		Debounce:    debounce,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", in.Kind, err)
	}

	if s.metrics != nil {
		s.metrics.Count("job.enqueued", 1, map[string]string{
			"kind":      string(in.Kind),
			"coalesced": strconv.FormatBool(res.Coalesced),
		})
	}
	s.logger.DebugContext(ctx, "job enqueued",
		"job_id", res.JobID,
		"kind", in.Kind,
		"scope", scope.Key(),
		"coalesced", res.Coalesced,
		"debounce", debounce,
	)
	return res, nil
}

// EnqueueForDocumentChange fans a document save out to the configured document kinds, keyed by the
// hash of the document text. Kinds the author's tier does not allow are skipped.
func (s *JobService) EnqueueForDocumentChange(
	ctx context.Context,
	doc *model.Document,
	userID string,
) ([]*model.EnqueueResult, error) {
	if doc == nil || doc.ID == "" {
		return nil, apperrors.ValidationField("document", "document is required")
	}
	scope := model.Scope{ProjectID: doc.ProjectID, UserID: userID, DocumentID: doc.ID}
	hash := chunking.HashText(chunking.Normalize(doc.ContentText))

	out := make([]*model.EnqueueResult, 0, len(s.documentKinds))
	for _, kind := range s.documentKinds {
		res, err := s.Enqueue(ctx, EnqueueInput{
			Kind:        kind,
			Scope:       scope,
			Payload:     documentPayloadFor(kind, doc.ID),
			ContentHash: hash,
		})
		if apperrors.IsValidation(err) && apperrors.GetField(err) == "kind" {
			s.logger.DebugContext(ctx, "document job not enqueued", "kind", kind, "reason", err.Error())
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// GetJob returns a job by id.
func (s *JobService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// Stats returns queue counts, optionally for one kind.
func (s *JobService) Stats(ctx context.Context, kind *model.JobKind) (*model.JobStats, error) {
	if kind != nil && !kind.Valid() {
		return nil, apperrors.ValidationField("kind", fmt.Sprintf("unknown job kind %q", *kind))
	}
	stats, err := s.repo.Stats(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

func (s *JobService) checkEntitlement(ctx context.Context, userID string, kind model.JobKind) error {
	if s.entitlements == nil {
		return nil
	}
	ent, err := s.entitlements.GetEntitlement(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve entitlement for %s: %w", userID, err)
	}
	if !ent.Allows(kind) {
		return apperrors.ValidationField("kind", fmt.Sprintf("%s jobs are not available on the %s tier", kind, ent.Tier))
	}
	return nil
}

func rawPayload(p any) (json.RawMessage, error) {
	switch v := p.(type) {
	case nil:
		return nil, errors.New("payload is required")
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	case string:
		return json.RawMessage(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return b, nil
	}
}

// scopeFor narrows scope to the payload's target so the one-pending-job rule applies per target,
// and rejects a scope that names a different target than the payload.
func scopeFor(scope model.Scope, p model.Payload) (model.Scope, error) {
	setDoc := func(id string) error {
		if scope.DocumentID != "" && scope.DocumentID != id {
			return apperrors.ValidationField("document_id", "scope and payload name different documents")
		}
		scope.DocumentID = id
		return nil
	}
	setTarget := func(targetType, id string) error {
		if scope.TargetID != "" && (scope.TargetType != targetType || scope.TargetID != id) {
			return apperrors.ValidationField("target_id", "scope and payload name different targets")
		}
		scope.TargetType, scope.TargetID = targetType, id
		return nil
	}

	var err error
	switch v := p.(type) {
	case model.DocumentPayload:
		err = setDoc(v.DocumentID)
	case model.AnalysisPayload:
		err = setDoc(v.DocumentID)
	case model.EmbeddingPayload:
		targetType := v.TargetType
		// A delete must coalesce with, and supersede, a pending embed of the same memory.
		if targetType == model.TargetMemoryDelete {
			targetType = model.TargetMemory
		}
		err = setTarget(targetType, v.TargetID)
	case model.RulesPayload:
		err = setTarget(v.TargetType, v.TargetID)
	case model.ImageEvidencePayload:
		err = setTarget(targetAsset, v.AssetID)
	}
	return scope, err
}

func documentPayloadFor(kind model.JobKind, docID string) model.Payload {
	switch {
	case kind == model.JobKindEmbeddingGeneration:
		return model.EmbeddingPayload{TargetType: model.TargetDocument, TargetID: docID}
	case kind.IsAnalysis():
		return model.AnalysisPayload{JobKind: kind, DocumentID: docID}
	case kind == model.JobKindInvariantCheck || kind == model.JobKindWatchlistScan:
		return model.RulesPayload{JobKind: kind, TargetType: model.TargetDocument, TargetID: docID}
	default:
		return model.DocumentPayload{JobKind: kind, DocumentID: docID}
	}
}
