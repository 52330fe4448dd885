package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/memotrace/internal/config"
	"github.com/roach88/memotrace/internal/telemetry"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config is loaded from the environment before any command runs.
	// --no-tracing and --no-physical-tracing override it when given.
	Config config.Config

	noTracing         bool
	noPhysicalTracing bool

	shutdown func(context.Context) error
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the memotrace CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "memotrace",
		Short: "memotrace - trace memoization and replay",
		Long: `Drive operation streams through the trace memoization pipeline.

Traced epochs record their dependence analysis into templates; identical
later epochs replay them. Decisions and templates are kept in SQLite.

Environment:
  MEMOTRACE_NO_TRACING           disable memoization (--no-tracing)
  MEMOTRACE_NO_PHYSICAL_TRACING  disable physical tracing and memoization
                                 (--no-physical-tracing)
  MEMOTRACE_DB                   default database path
  MEMOTRACE_LOG_LEVEL            DEBUG, INFO, WARN or ERROR`,
		// main prints the returned error once.
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := config.Load()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load configuration", err)
			}
			flags := cmd.Flags()
			if flags.Changed("no-tracing") {
				cfg.NoTracing = opts.noTracing
			}
			if flags.Changed("no-physical-tracing") {
				cfg.NoPhysicalTracing = opts.noPhysicalTracing
			}
			opts.Config = cfg

			logger := newLogger(cmd.ErrOrStderr(), opts)
			slog.SetDefault(logger)
			opts.shutdown = telemetry.Setup(opts.Verbose, logger)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.shutdown == nil {
				return nil
			}
			return opts.shutdown(context.Background())
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logs and spans)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.noTracing, "no-tracing", false, "disable memoization (overrides MEMOTRACE_NO_TRACING)")
	cmd.PersistentFlags().BoolVar(&opts.noPhysicalTracing, "no-physical-tracing", false, "disable physical tracing and memoization (overrides MEMOTRACE_NO_PHYSICAL_TRACING)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewDecisionsCommand(opts))
	cmd.AddCommand(NewTemplatesCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// dbPath returns the --db flag, falling back to MEMOTRACE_DB.
func (o *RootOptions) dbPath(flag string) string {
	if flag != "" {
		return flag
	}
	return o.Config.DBPath
}
