package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Sophanos/saga-sub015/internal/data/pgxutil"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
)

// RuleRepo reads author-configured project rules.
type RuleRepo struct {
	db *sql.DB
}

// NewRuleRepo creates a RuleRepo.
func NewRuleRepo(db *sql.DB) *RuleRepo {
	return &RuleRepo{db: db}
}

// ListEnabled returns the enabled rules of one kind for a project, ordered by name.
func (r *RuleRepo) ListEnabled(ctx context.Context, projectID string, kind model.RuleKind) ([]*model.ProjectRule, error) {
	var out []*model.ProjectRule
	err := pgxutil.WithPgxConn(ctx, r.db, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, project_id, kind, name, description, applies_to, expression, terms, enabled
			FROM project_rules
			WHERE project_id = $1 AND kind = $2 AND enabled
			ORDER BY name, id
		`, projectID, string(kind))
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.ProjectRule, error) {
			var pr model.ProjectRule
			var k string
			if err := row.Scan(&pr.ID, &pr.ProjectID, &k, &pr.Name, &pr.Description, &pr.AppliesTo,
				&pr.Expression, &pr.Terms, &pr.Enabled); err != nil {
				return nil, err
			}
			pr.Kind = model.RuleKind(k)
			return &pr, nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list %s rules for %s: %w", kind, projectID, err)
	}
	return out, nil
}
