// Package model defines the core data types shared by the analysis pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobKind identifies the handler a job is dispatched to.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobKind string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobKindDetectEntities           JobKind = "detect_entities"
	JobKindCoherenceLint            JobKind = "coherence_lint"
	JobKindClarityCheck             JobKind = "clarity_check"
	JobKindPolicyCheck              JobKind = "policy_check"
	JobKindDigestDocument           JobKind = "digest_document"
	JobKindEmbeddingGeneration      JobKind = "embedding_generation"
	JobKindImageEvidenceSuggestions JobKind = "image_evidence_suggestions"
	JobKindInvariantCheck           JobKind = "invariant_check"
	JobKindWatchlistScan            JobKind = "watchlist_scan"

	// JobStatusPending indicates a job is waiting for its debounce window to pass or for a worker.
	JobStatusPending JobStatus = "pending"
	// JobStatusClaimed indicates a worker holds the job under a run id.
	JobStatusClaimed JobStatus = "claimed"
	// JobStatusDone indicates the handler finished and the result was recorded.
	JobStatusDone JobStatus = "done"
	// JobStatusFailed indicates the handler returned an error.
	JobStatusFailed JobStatus = "failed"
)

// AllJobKinds lists every kind in registration order.
func AllJobKinds() []JobKind {
	return []JobKind{
		JobKindDetectEntities,
		JobKindCoherenceLint,
		JobKindClarityCheck,
		JobKindPolicyCheck,
		JobKindDigestDocument,
		JobKindEmbeddingGeneration,
		JobKindImageEvidenceSuggestions,
		JobKindInvariantCheck,
		JobKindWatchlistScan,
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for JobKind to allow env and flag parsing.
func (k *JobKind) UnmarshalText(text []byte) error {
	v := JobKind(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*k = v
		return nil
	}
	return fmt.Errorf("invalid JobKind: %q", string(text))
}

// Valid returns true if the kind belongs to the closed set.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindDetectEntities, JobKindCoherenceLint, JobKindClarityCheck, JobKindPolicyCheck,
		JobKindDigestDocument, JobKindEmbeddingGeneration, JobKindImageEvidenceSuggestions,
		JobKindInvariantCheck, JobKindWatchlistScan:
		return true
	}
	return false
}

// IsAnalysis reports whether the kind runs the lint/analysis service.
func (k JobKind) IsAnalysis() bool {
	return k == JobKindCoherenceLint || k == JobKindClarityCheck || k == JobKindPolicyCheck
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusClaimed || s == JobStatusDone || s == JobStatusFailed
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Scope ties a job to the project, author and optional target it concerns.
type Scope struct {
	ProjectID  string `json:"project_id"            validate:"required"`
	UserID     string `json:"user_id"               validate:"required"`
	DocumentID string `json:"document_id,omitempty"`
	TargetType string `json:"target_type,omitempty" validate:"required_with=TargetID"`
	TargetID   string `json:"target_id,omitempty"   validate:"required_with=TargetType"`
}

// Key returns the canonical form used for the one-pending-job-per-scope constraint.
func (s Scope) Key() string {
	var b strings.Builder
	b.WriteString("p=")
	b.WriteString(s.ProjectID)
	b.WriteString("|u=")
	b.WriteString(s.UserID)
	if s.DocumentID != "" {
		b.WriteString("|d=")
		b.WriteString(s.DocumentID)
	}
	if s.TargetType != "" || s.TargetID != "" {
		b.WriteString("|t=")
		b.WriteString(s.TargetType)
		b.WriteString(":")
		b.WriteString(s.TargetID)
	}
	return b.String()
}

// Job is a persisted queue row.
type Job struct {
	ID            string          `json:"id"`
	Kind          JobKind         `json:"kind"`
	Scope         Scope           `json:"scope"`
	Payload       json.RawMessage `json:"payload"`
	ContentHash   string          `json:"content_hash"`
	Status        JobStatus       `json:"status"`
	RunID         *string         `json:"run_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	EligibleAt    time.Time       `json:"eligible_at"`
	ClaimedAt     *time.Time      `json:"claimed_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	ResultSummary *string         `json:"result_summary,omitempty"`
	ResultRef     json.RawMessage `json:"result_ref,omitempty"`
	Error         *string         `json:"error,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// EnqueueRequest is the repository-level enqueue input. Payload must already be validated.
type EnqueueRequest struct {
	Kind        JobKind
	Scope       Scope
	Payload     json.RawMessage
	ContentHash string
	Debounce    time.Duration
}

// Validate checks the structural fields the store relies on.
func (r *EnqueueRequest) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid job kind: %q", r.Kind)
	}
	if strings.TrimSpace(r.Scope.ProjectID) == "" || strings.TrimSpace(r.Scope.UserID) == "" {
		return errors.New("scope requires project_id and user_id")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.Debounce < 0 {
		return errors.New("debounce must be >= 0")
	}
	return nil
}

// EnqueueResult reports the row that now represents the request.
type EnqueueResult struct {
	JobID      string    `json:"job_id"`
	Coalesced  bool      `json:"coalesced"`
	EligibleAt time.Time `json:"eligible_at"`
}

// ClaimResult is returned by a claim attempt.
type ClaimResult struct {
	Claimed bool
	RunID   string
}

// FinalizeParams carries the run-guarded success transition.
type FinalizeParams struct {
	JobID     string
	RunID     string
	Summary   string
	ResultRef json.RawMessage
}

// MarkFailedParams carries the run-guarded failure transition.
type MarkFailedParams struct {
	JobID string
	RunID string
	Error string
}

// JobStats represents counts of jobs in each state.
type JobStats struct {
	Pending int `json:"pending"`
	Claimed int `json:"claimed"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

// HandlerResult is the uniform handler return value.
type HandlerResult struct {
	Summary   string
	ResultRef json.RawMessage
}

// Skip builds a benign-skip result with only a summary.
func Skip(summary string) HandlerResult {
	return HandlerResult{Summary: summary}
}
