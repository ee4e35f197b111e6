package model

import (
	"encoding/json"
	"time"
)

// NotificationKind distinguishes passive signals from actionable suggestions.
type NotificationKind string

const (
	NotificationPulseSignal NotificationKind = "pulse_signal"
	NotificationSuggestion  NotificationKind = "suggestion"
)

// TargetRef points a notification at the content it concerns.
type TargetRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Notification is a human-visible record produced by a handler.
type Notification struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"project_id"`
	UserID      string           `json:"user_id"`
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Target      TargetRef        `json:"target"`
	Metadata    json.RawMessage  `json:"metadata,omitempty"`
	SourceJobID string           `json:"source_job_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Digest is the persisted summary of one document version.
type Digest struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	DocumentID  string    `json:"document_id"`
	ContentHash string    `json:"content_hash"`
	Summary     string    `json:"summary"`
	Highlights  []string  `json:"highlights"`
	Truncated   bool      `json:"truncated"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"created_at"`
}

// EvidenceStatus tracks the approval state of an evidence link.
type EvidenceStatus string

// EvidenceProposed is the only status this pipeline writes; approval happens elsewhere.
const EvidenceProposed EvidenceStatus = "proposed"

// EvidenceSuggestion proposes linking an image asset to an entity.
type EvidenceSuggestion struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	AssetID     string         `json:"asset_id"`
	EntityID    string         `json:"entity_id"`
	MatchedName string         `json:"matched_name"`
	Status      EvidenceStatus `json:"status"`
	SourceJobID string         `json:"source_job_id"`
	CreatedAt   time.Time      `json:"created_at"`
}

// RuleKind selects how a ProjectRule is evaluated.
type RuleKind string

const (
	// RuleKindInvariant rules hold a JMESPath expression that must be truthy for the target.
	RuleKindInvariant RuleKind = "invariant"
	// RuleKindWatchlist rules hold terms that must not appear in the target text.
	RuleKindWatchlist RuleKind = "watchlist"
)

// ProjectRule is an author-configured consistency rule.
type ProjectRule struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	Kind        RuleKind `json:"kind"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	// AppliesTo restricts the rule to one target type; empty matches all.
	AppliesTo  string   `json:"applies_to,omitempty"`
	Expression string   `json:"expression,omitempty"`
	Terms      []string `json:"terms,omitempty"`
	Enabled    bool     `json:"enabled"`
}

// Matches reports whether the rule applies to targetType.
func (r *ProjectRule) Matches(targetType string) bool {
	return r.AppliesTo == "" || r.AppliesTo == targetType
}
