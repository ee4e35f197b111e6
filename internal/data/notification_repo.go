package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
)

// NotificationRepo persists handler notifications.
type NotificationRepo struct {
	db *sql.DB
}

// NewNotificationRepo creates a NotificationRepo.
func NewNotificationRepo(db *sql.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

const notificationColumns = `id, project_id, user_id, kind, title, description, target_type, target_id,
	metadata, source_job_id, created_at`

func scanNotification(row rowScanner) (*model.Notification, error) {
	var (
		n        model.Notification
		metadata []byte
		jobID    sql.NullString
	)
	if err := row.Scan(&n.ID, &n.ProjectID, &n.UserID, &n.Kind, &n.Title, &n.Description,
		&n.Target.Type, &n.Target.ID, &metadata, &jobID, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Metadata = metadata
	n.SourceJobID = jobID.String
	return &n, nil
}

// Create inserts n and returns the stored row.
func (r *NotificationRepo) Create(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	if n == nil {
		return nil, apperrors.Validationf("notification is required")
	}
	metadata := []byte(n.Metadata)
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO notifications (project_id, user_id, kind, title, description, target_type, target_id,
			metadata, source_job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+notificationColumns,
		n.ProjectID, n.UserID, n.Kind, n.Title, n.Description, n.Target.Type, n.Target.ID,
		metadata, nullable(n.SourceJobID))
	out, err := scanNotification(row)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", apperrors.MapDBError(err))
	}
	return out, nil
}

// ListByProject returns the newest notifications of a project.
func (r *NotificationRepo) ListByProject(ctx context.Context, projectID string, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE project_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}
