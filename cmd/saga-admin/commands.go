package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sophanos/saga-sub015/internal/adapters/reaper"
	"github.com/Sophanos/saga-sub015/internal/bootstrap"
	"github.com/Sophanos/saga-sub015/internal/data"
	"github.com/Sophanos/saga-sub015/internal/domain/model"
	"github.com/Sophanos/saga-sub015/internal/service"
	"github.com/spf13/cobra"
)

const defaultMigrationTimeout = 5 * time.Minute

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, _, err := connectInfra(ctx, &connectInfraOptions{Logger: opts.logger, Config: &opts.cfg})
			if err != nil {
				return err
			}
			defer closeQuietly(opts, db)

			if err := bootstrap.RunMigrations(ctx, db, opts.logger); err != nil {
				return err
			}
			return writef(cmd.OutOrStdout(), "migrations applied\n")
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultMigrationTimeout, "maximum time to wait for migrations")
	return cmd
}

// enqueueFlags are the raw enqueue command flags.
type enqueueFlags struct {
	Kind       string
	ProjectID  string
	UserID     string
	DocumentID string
	TargetType string
	TargetID   string
	Payload    string
	Debounce   time.Duration
	// DebounceSet reports whether --debounce was given explicitly.
	DebounceSet bool
}

func (f enqueueFlags) input() (service.EnqueueInput, error) {
	if strings.TrimSpace(f.Payload) == "" {
		return service.EnqueueInput{}, errors.New("--payload is required")
	}
	if !json.Valid([]byte(f.Payload)) {
		return service.EnqueueInput{}, errors.New("--payload must be valid JSON")
	}
	in := service.EnqueueInput{
		Kind: model.JobKind(strings.TrimSpace(f.Kind)),
		Scope: model.Scope{
			ProjectID:  f.ProjectID,
			UserID:     f.UserID,
			DocumentID: f.DocumentID,
			TargetType: f.TargetType,
			TargetID:   f.TargetID,
		},
		Payload: json.RawMessage(f.Payload),
	}
	if f.DebounceSet {
		d := f.Debounce
		in.Debounce = &d
	}
	return in, nil
}

func newEnqueueCommand(opts *rootOptions) *cobra.Command {
	var f enqueueFlags
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Schedule one analysis job",
		Long: `Schedule one analysis job. A pending job for the same kind and scope is
coalesced rather than duplicated.

Example:
  saga-admin enqueue --kind digest_document --project p1 --user u1 \
    --payload '{"document_id":"d1"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.DebounceSet = cmd.Flags().Changed("debounce")
			in, err := f.input()
			if err != nil {
				return err
			}
			return withJobService(cmd.Context(), opts, func(ctx context.Context, jobs *service.JobService, _ *sql.DB) error {
				res, err := jobs.Enqueue(ctx, in)
				if err != nil {
					return err
				}
				return printEnqueueResults(cmd.OutOrStdout(), opts.Format, []*model.EnqueueResult{res})
			})
		},
	}
	cmd.Flags().StringVar(&f.Kind, "kind", "", "job kind (required)")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id (required)")
	cmd.Flags().StringVar(&f.UserID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&f.DocumentID, "document", "", "document id for document-scoped jobs")
	cmd.Flags().StringVar(&f.TargetType, "target-type", "", "target type for target-scoped jobs")
	cmd.Flags().StringVar(&f.TargetID, "target-id", "", "target id for target-scoped jobs")
	cmd.Flags().StringVar(&f.Payload, "payload", "", "job payload as JSON (required)")
	cmd.Flags().DurationVar(&f.Debounce, "debounce", 0, "override the configured debounce window")
	for _, name := range []string{"kind", "project", "user", "payload"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newDocumentChangedCommand(opts *rootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "document-changed <document-id>",
		Short: "Fan a document save out to the document analysis jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobService(cmd.Context(), opts, func(ctx context.Context, jobs *service.JobService, db *sql.DB) error {
				doc, err := data.NewContentRepo(db, opts.logger).GetDocumentForAnalysis(ctx, args[0])
				if err != nil {
					return err
				}
				if doc == nil {
					return fmt.Errorf("document %s not found", args[0])
				}
				results, err := jobs.EnqueueForDocumentChange(ctx, doc, userID)
				if err != nil {
					return err
				}
				return printEnqueueResults(cmd.OutOrStdout(), opts.Format, results)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "id of the user who saved the document (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRunOnceCommand(opts *rootOptions) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Drain one batch of eligible jobs and print what happened",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, rc, err := connectInfra(ctx, &connectInfraOptions{Logger: opts.logger, Config: &opts.cfg, WantRedis: true})
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeInfra(db, rc); cerr != nil {
					opts.logger.Error("close infrastructure", "error", cerr)
				}
			}()

			services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
				Config:      &opts.cfg,
				DB:          db,
				RedisClient: rc,
				Logger:      opts.logger,
			})
			if err != nil {
				return err
			}
			defer func() { _ = services.Observability.Close() }()

			report, err := services.Dispatcher.Run(ctx, batch)
			if err != nil {
				return err
			}
			return printRunReport(cmd.OutOrStdout(), opts.Format, report)
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "jobs to fetch (defaults to the configured batch size)")
	return cmd
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var k *model.JobKind
			if kind != "" {
				jk := model.JobKind(kind)
				k = &jk
			}
			return withJobService(cmd.Context(), opts, func(ctx context.Context, jobs *service.JobService, _ *sql.DB) error {
				stats, err := jobs.Stats(ctx, k)
				if err != nil {
					return err
				}
				return printStats(cmd.OutOrStdout(), opts.Format, kind, stats)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "limit counts to one job kind")
	return cmd
}

func newReapCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Release stale claims and delete expired jobs once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, _, err := connectInfra(cmd.Context(), &connectInfraOptions{Logger: opts.logger, Config: &opts.cfg})
			if err != nil {
				return err
			}
			defer closeQuietly(opts, db)

			runner, err := reaper.NewRunner(reaper.RunnerOptions{
				DB:     db,
				Config: opts.cfg.Reaper,
				Logger: opts.logger,
			})
			if err != nil {
				return err
			}
			report, err := runner.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printReapReport(cmd.OutOrStdout(), opts.Format, report)
		},
	}
}

func withJobService(
	ctx context.Context,
	opts *rootOptions,
	fn func(context.Context, *service.JobService, *sql.DB) error,
) error {
	db, _, err := connectInfra(ctx, &connectInfraOptions{Logger: opts.logger, Config: &opts.cfg})
	if err != nil {
		return err
	}
	defer closeQuietly(opts, db)

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:         data.NewJobRepo(db, data.RepoConfig{Logger: opts.logger}),
		Entitlements: data.NewEntitlementRepo(db),
		Settings:     service.NewPipelineSettings(opts.cfg.Pipeline, opts.cfg.Debounce),
		Logger:       opts.logger,
	})
	if err != nil {
		return err
	}
	return fn(ctx, jobs, db)
}

func closeQuietly(opts *rootOptions, db *sql.DB) {
	if err := closeInfra(db, nil); err != nil {
		opts.logger.Error("close database", "error", err)
	}
}
