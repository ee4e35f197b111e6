package data

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Sophanos/saga-sub015/internal/domain/model"
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for the analysis job queue.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
	}
}

const jobColumns = `
  id,
  kind,
  project_id,
  user_id,
  document_id,
  target_type,
  target_id,
  payload,
  content_hash,
  status,
  run_id,
  created_at,
  eligible_at,
  claimed_at,
  completed_at,
  result_summary,
  result_ref,
  error,
  updated_at
`

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j                         model.Job
		docID, targetType, target *string
		payload, resultRef        []byte
		claimedAt, completedAt    *time.Time
	)
	if err := row.Scan(
		&j.ID,
		&j.Kind,
		&j.Scope.ProjectID,
		&j.Scope.UserID,
		&docID,
		&targetType,
		&target,
		&payload,
		&j.ContentHash,
		&j.Status,
		&j.RunID,
		&j.CreatedAt,
		&j.EligibleAt,
		&claimedAt,
		&completedAt,
		&j.ResultSummary,
		&resultRef,
		&j.Error,
		&j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.Scope.DocumentID = deref(docID)
	j.Scope.TargetType = deref(targetType)
	j.Scope.TargetID = deref(target)
	j.Payload = json.RawMessage(payload)
	if len(resultRef) > 0 {
		j.ResultRef = json.RawMessage(resultRef)
	}
	j.ClaimedAt = claimedAt
	j.CompletedAt = completedAt
	return &j, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
