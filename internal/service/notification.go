package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	apperrors "github.com/Sophanos/saga-sub015/internal/errors"
	"github.com/Sophanos/saga-sub015/internal/observability/statsd"
)

// NotificationEmitterOptions groups dependencies for NotificationEmitter.
type NotificationEmitterOptions struct {
	Repo    core.NotificationRepository // Required
	Logger  *slog.Logger                // Optional
	Metrics statsd.Sink                 // Optional
}

// NotificationEmitter persists pulse signals and suggestions on behalf of handlers.
// Every call creates a new record; repeated runs over unchanged content emit again.
type NotificationEmitter struct {
	repo    core.NotificationRepository
	logger  *slog.Logger
	metrics statsd.Sink
}

var _ core.NotificationSink = (*NotificationEmitter)(nil)

// NewNotificationEmitter constructs a NotificationEmitter.
func NewNotificationEmitter(opts NotificationEmitterOptions) (*NotificationEmitter, error) {
	if opts.Repo == nil {
		return nil, errors.New("NotificationRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationEmitter{
		repo:    opts.Repo,
		logger:  logger.With("component", "notification_emitter"),
		metrics: opts.Metrics,
	}, nil
}

// Emit validates in and stores it as a notification scoped to the job's project and author.
// The target defaults to the job's document when in.Target is empty.
func (e *NotificationEmitter) Emit(ctx context.Context, in core.NotificationInput) (*model.Notification, error) {
	if in.Job == nil {
		return nil, apperrors.ValidationField("job", "notification requires a source job")
	}
	switch in.Kind {
	case model.NotificationPulseSignal, model.NotificationSuggestion:
	default:
		return nil, apperrors.ValidationField("kind", fmt.Sprintf("unknown notification kind %q", in.Kind))
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperrors.ValidationField("title", "title is required")
	}

	target := in.Target
	if target.ID == "" && in.Job.Scope.DocumentID != "" {
		target = model.TargetRef{Type: model.TargetDocument, ID: in.Job.Scope.DocumentID}
	}

	var meta json.RawMessage
	if in.Metadata != nil {
		b, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal notification metadata: %w", err)
		}
		meta = b
	}

	n, err := e.repo.Create(ctx, &model.Notification{
		ProjectID:   in.Job.Scope.ProjectID,
		UserID:      in.Job.Scope.UserID,
		Kind:        in.Kind,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Target:      target,
		Metadata:    meta,
		SourceJobID: in.Job.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if e.metrics != nil {
		e.metrics.Count("notification.emitted", 1, map[string]string{
			"kind":     string(in.Kind),
			"job_kind": string(in.Job.Kind),
		})
	}
	e.logger.InfoContext(ctx, "notification emitted",
		"notification_id", n.ID,
		"kind", in.Kind,
		"job_id", in.Job.ID,
		"job_kind", in.Job.Kind,
		"target_type", target.Type,
		"target_id", target.ID,
	)
	return n, nil
}
