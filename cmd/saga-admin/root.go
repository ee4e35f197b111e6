package main

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/Sophanos/saga-sub015/config"
	"github.com/spf13/cobra"
)

var validFormats = []string{"text", "json"}

// rootOptions holds global flags and the state resolved before a subcommand runs.
type rootOptions struct {
	Format  string
	Verbose bool

	loadConfig func() (config.AppConfig, error)
	cfg        config.AppConfig
	logger     *slog.Logger
}

func newRootCommand(loadConfig func() (config.AppConfig, error)) *cobra.Command {
	opts := &rootOptions{loadConfig: loadConfig}

	cmd := &cobra.Command{
		Use:           "saga-admin",
		Short:         "Maintenance commands for the saga analysis pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			opts.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newEnqueueCommand(opts))
	cmd.AddCommand(newDocumentChangedCommand(opts))
	cmd.AddCommand(newRunOnceCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newReapCommand(opts))

	return cmd
}
