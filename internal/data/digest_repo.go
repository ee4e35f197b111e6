package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

// DigestRepo stores one digest per (document, content hash).
type DigestRepo struct {
	db *sql.DB
}

// NewDigestRepo creates a DigestRepo.
func NewDigestRepo(db *sql.DB) *DigestRepo {
	return &DigestRepo{db: db}
}

const digestColumns = `id, project_id, document_id, content_hash, summary, highlights, truncated, model, created_at`

func scanDigest(row rowScanner) (*model.Digest, error) {
	var (
		d          model.Digest
		highlights []byte
	)
	if err := row.Scan(&d.ID, &d.ProjectID, &d.DocumentID, &d.ContentHash, &d.Summary,
		&highlights, &d.Truncated, &d.Model, &d.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(highlights, &d.Highlights); err != nil {
		return nil, fmt.Errorf("decode highlights: %w", err)
	}
	return &d, nil
}

// Upsert writes d, replacing an existing digest of the same document version.
func (r *DigestRepo) Upsert(ctx context.Context, d *model.Digest) (*model.Digest, error) {
	if d == nil {
		return nil, apperrors.Validationf("digest is required")
	}
	highlights := d.Highlights
	if highlights == nil {
		highlights = []string{}
	}
	hb, err := json.Marshal(highlights)
	if err != nil {
		return nil, fmt.Errorf("encode highlights: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO document_digests (project_id, document_id, content_hash, summary, highlights, truncated, model)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT document_digests_version_key DO UPDATE SET
			summary = EXCLUDED.summary,
			highlights = EXCLUDED.highlights,
			truncated = EXCLUDED.truncated,
			model = EXCLUDED.model,
			created_at = now()
		RETURNING `+digestColumns,
		d.ProjectID, d.DocumentID, d.ContentHash, d.Summary, hb, d.Truncated, d.Model)
	out, err := scanDigest(row)
	if err != nil {
		return nil, fmt.Errorf("upsert digest for %s: %w", d.DocumentID, apperrors.MapDBError(err))
	}
	return out, nil
}

// GetLatest returns the most recent digest of a document, or nil when none exists.
func (r *DigestRepo) GetLatest(ctx context.Context, documentID string) (*model.Digest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+digestColumns+`
		FROM document_digests
		WHERE document_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, documentID)
	d, err := scanDigest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest digest for %s: %w", documentID, err)
	}
	return d, nil
}
