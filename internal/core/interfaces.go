package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Sophanos/saga-sub015/internal/domain/model"
)

// This file contains the ports of the pipeline: repository contracts implemented by the data
// layer and the external AI and vector services implemented by adapters. Services depend on
// these interfaces, not concrete implementations.

// JobRepository defines the queue operations the dispatcher and enqueue boundary rely on.
type JobRepository interface {
	// Enqueue inserts a pending job, or coalesces into the existing pending job for the same
	// (kind, scope) by overwriting its payload and content hash and resetting eligible_at.
	Enqueue(ctx context.Context, req *model.EnqueueRequest) (*model.EnqueueResult, error)
	// Claim moves an eligible pending job to claimed under a fresh run id.
	Claim(ctx context.Context, jobID string) (model.ClaimResult, error)
	// Finalize marks a claimed job done. Returns false when runID is stale.
	Finalize(ctx context.Context, params model.FinalizeParams) (bool, error)
	// MarkFailed marks a claimed job failed. Returns false when runID is stale.
	MarkFailed(ctx context.Context, params model.MarkFailedParams) (bool, error)
	// Release hands a claimed job back to pending under the same run-id guard. Returns false when
	// runID is stale or another pending job already exists for the same (kind, scope).
	Release(ctx context.Context, jobID, runID string) (bool, error)
	// GetPendingJobs returns up to limit eligible pending jobs, oldest eligible first.
	GetPendingJobs(ctx context.Context, limit int) ([]*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	Stats(ctx context.Context, kind *model.JobKind) (*model.JobStats, error)
}

// ReaperRepository defines job hygiene operations.
type ReaperRepository interface {
	// ReleaseStaleClaims returns claims older than maxAge to pending and clears their run id.
	ReleaseStaleClaims(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	// DeleteOldJobs deletes terminal jobs of the given status completed before now-maxAge.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
}

// DeleteOldJobsParams groups parameters for ReaperRepository.DeleteOldJobs.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// ContentAccessor provides read-only access to the content analysis jobs consume.
// Missing rows are reported as (nil, nil).
type ContentAccessor interface {
	GetDocumentForAnalysis(ctx context.Context, id string) (*model.Document, error)
	GetEntityForAnalysis(ctx context.Context, id string) (*model.Entity, error)
	GetMemoryForAnalysis(ctx context.Context, id string) (*model.Memory, error)
	ListProjectEntities(ctx context.Context, projectID string) ([]*model.Entity, error)
	// SetMemoryVectorID records the point id a memory was last embedded under.
	SetMemoryVectorID(ctx context.Context, memoryID, vectorID string) error
}

// EntitlementChecker resolves the tier of a user.
type EntitlementChecker interface {
	GetEntitlement(ctx context.Context, userID string) (model.Entitlement, error)
}

// EmbeddingService turns text into vectors.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// VectorIndex stores chunk vectors.
type VectorIndex interface {
	Upsert(ctx context.Context, points []model.VectorPoint) error
	Delete(ctx context.Context, ids []string) error
	// DeleteByFilter removes every point matching filter and returns how many were removed.
	DeleteByFilter(ctx context.Context, filter model.VectorFilter) (int, error)
	// Scroll returns up to limit stored chunks matching filter ordered by chunk_index.
	Scroll(ctx context.Context, filter model.VectorFilter, limit int) ([]model.StoredChunk, error)
}

// GenerateRequest is a single text generation call.
type GenerateRequest struct {
	System    string
	Prompt    string
	Model     string
	MaxTokens int
	// JSON asks the provider for a JSON object response.
	JSON bool
}

// TextGenerator produces text from a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ImageAnalyzer extracts character names visible or described in an image.
type ImageAnalyzer interface {
	ExtractCharacters(ctx context.Context, imageURL, prompt string) ([]string, error)
}

// DetectedEntity is one entity mention found in text.
type DetectedEntity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence,omitempty"`
}

// EntityDetector finds entity mentions in text.
type EntityDetector interface {
	Detect(ctx context.Context, text string) ([]DetectedEntity, error)
}

// IssueLocation is a character range within the analysed text.
type IssueLocation struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// AnalysisIssue is one finding of a lint pass.
type AnalysisIssue struct {
	Message  string         `json:"message"`
	Severity string         `json:"severity,omitempty"`
	Location *IssueLocation `json:"location,omitempty"`
}

// Analyzer runs coherence, clarity or policy lint over text.
type Analyzer interface {
	Analyze(ctx context.Context, kind model.JobKind, text string) ([]AnalysisIssue, error)
}

// NotificationRepository persists notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) (*model.Notification, error)
	ListByProject(ctx context.Context, projectID string, limit int) ([]*model.Notification, error)
}

// DigestRepository persists document digests.
type DigestRepository interface {
	// Upsert stores d keyed by (document_id, content_hash) and returns the stored row.
	Upsert(ctx context.Context, d *model.Digest) (*model.Digest, error)
	GetLatest(ctx context.Context, documentID string) (*model.Digest, error)
}

// EvidenceRepository persists evidence-link suggestions.
type EvidenceRepository interface {
	// Propose stores s with status proposed. An identical pending proposal is returned unchanged.
	Propose(ctx context.Context, s *model.EvidenceSuggestion) (*model.EvidenceSuggestion, error)
}

// RuleRepository lists author rules.
type RuleRepository interface {
	ListEnabled(ctx context.Context, projectID string, kind model.RuleKind) ([]*model.ProjectRule, error)
}

// NotificationInput is what a handler passes to the notification emitter.
type NotificationInput struct {
	Job         *model.Job
	Kind        model.NotificationKind
	Title       string
	Description string
	Target      model.TargetRef
	Metadata    any
}

// NotificationSink is the side-effect sink handlers emit through.
type NotificationSink interface {
	Emit(ctx context.Context, in NotificationInput) (*model.Notification, error)
}

// ExecutionContext is the resolved model and budget for one generation call.
type ExecutionContext struct {
	Model     string
	MaxTokens int
}

// ExecutionResolver picks model and token budget from task, tier and prompt length.
type ExecutionResolver interface {
	Resolve(ctx context.Context, task string, userID string, promptChars int) ExecutionContext
}

// Handler runs one job kind.
type Handler func(ctx context.Context, job *model.Job, payload model.Payload) (model.HandlerResult, error)

// RawResult marshals v as a handler result ref.
func RawResult(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
