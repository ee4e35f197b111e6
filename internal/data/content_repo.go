package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/Sophanos/saga-sub015/internal/data/pgxutil"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
)

// ContentRepo reads the workspace content analysis jobs consume.
// Rows that no longer exist are returned as (nil, nil) so handlers can skip them.
type ContentRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewContentRepo creates a ContentRepo.
func NewContentRepo(db *sql.DB, logger *slog.Logger) *ContentRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentRepo{db: db, logger: logger.With("component", "content_repo")}
}

// GetDocumentForAnalysis returns the document or nil when it was deleted.
func (r *ContentRepo) GetDocumentForAnalysis(ctx context.Context, id string) (*model.Document, error) {
	var d model.Document
	err := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, content_text, updated_at
		FROM documents
		WHERE id = $1
	`, id).Scan(&d.ID, &d.ProjectID, &d.Title, &d.ContentText, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &d, nil
}

const entityColumns = `id, project_id, type, name, aliases, notes, properties, updated_at`

func scanEntity(row pgx.CollectableRow) (*model.Entity, error) {
	var e model.Entity
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Type, &e.Name, &e.Aliases, &e.Notes, &e.Properties, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntityForAnalysis returns the entity or nil when it was deleted.
func (r *ContentRepo) GetEntityForAnalysis(ctx context.Context, id string) (*model.Entity, error) {
	var out *model.Entity
	err := pgxutil.WithPgxConn(ctx, r.db, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
		if err != nil {
			return err
		}
		e, err := pgx.CollectExactlyOneRow(rows, scanEntity)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", id, err)
	}
	return out, nil
}

// ListProjectEntities returns every entity of a project ordered by name.
func (r *ContentRepo) ListProjectEntities(ctx context.Context, projectID string) ([]*model.Entity, error) {
	var out []*model.Entity
	err := pgxutil.WithPgxConn(ctx, r.db, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+entityColumns+` FROM entities WHERE project_id = $1 ORDER BY name, id`, projectID)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, scanEntity)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list entities for project %s: %w", projectID, err)
	}
	return out, nil
}

// GetMemoryForAnalysis returns the memory or nil when it was deleted.
func (r *ContentRepo) GetMemoryForAnalysis(ctx context.Context, id string) (*model.Memory, error) {
	var (
		m      model.Memory
		userID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, user_id, text, vector_id, updated_at
		FROM memories
		WHERE id = $1
	`, id).Scan(&m.ID, &m.ProjectID, &userID, &m.Text, &m.VectorID, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	m.UserID = userID.String
	return &m, nil
}

// SetMemoryVectorID records the point a memory was embedded under. A vanished memory is ignored.
func (r *ContentRepo) SetMemoryVectorID(ctx context.Context, memoryID, vectorID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE memories SET vector_id = $2 WHERE id = $1`, memoryID, nullable(vectorID))
	if err != nil {
		return fmt.Errorf("set memory vector id %s: %w", memoryID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		r.logger.DebugContext(ctx, "memory vanished before vector id update", "memory_id", memoryID)
	}
	return nil
}
