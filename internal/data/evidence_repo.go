package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

// EvidenceRepo stores image-to-entity evidence suggestions.
type EvidenceRepo struct {
	db *sql.DB
}

// NewEvidenceRepo creates an EvidenceRepo.
func NewEvidenceRepo(db *sql.DB) *EvidenceRepo {
	return &EvidenceRepo{db: db}
}

// Propose inserts a proposed suggestion. When the same asset and entity already have a proposed
// suggestion, that row is returned instead and no duplicate is written.
func (r *EvidenceRepo) Propose(ctx context.Context, s *model.EvidenceSuggestion) (*model.EvidenceSuggestion, error) {
	if s == nil {
		return nil, apperrors.Validationf("evidence suggestion is required")
	}
	var out model.EvidenceSuggestion
	var jobID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		WITH ins AS (
			INSERT INTO evidence_suggestions (project_id, asset_id, entity_id, matched_name, status, source_job_id)
			VALUES ($1, $2, $3, $4, 'proposed', $5)
			ON CONFLICT (asset_id, entity_id) WHERE status = 'proposed' DO NOTHING
			RETURNING id, project_id, asset_id, entity_id, matched_name, status, source_job_id, created_at
		)
		SELECT id, project_id, asset_id, entity_id, matched_name, status, source_job_id, created_at FROM ins
		UNION ALL
		SELECT id, project_id, asset_id, entity_id, matched_name, status, source_job_id, created_at
		FROM evidence_suggestions
		WHERE asset_id = $2 AND entity_id = $3 AND status = 'proposed'
		LIMIT 1
	`, s.ProjectID, s.AssetID, s.EntityID, s.MatchedName, nullable(s.SourceJobID)).Scan(
		&out.ID, &out.ProjectID, &out.AssetID, &out.EntityID, &out.MatchedName, &out.Status, &jobID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("propose evidence %s/%s: %w", s.AssetID, s.EntityID, apperrors.MapDBError(err))
	}
	out.SourceJobID = jobID.String
	return &out, nil
}
