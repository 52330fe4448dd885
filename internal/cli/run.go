package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/memotrace/internal/harness"
	"github.com/roach88/memotrace/internal/pipeline"
	"github.com/roach88/memotrace/internal/store"
	"github.com/roach88/memotrace/internal/tracing"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Scenario string
	Database string
	Policy   string

	// IDs allows overriding the template id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs tracing.IDGenerator
}

// RunOutput is the run command's result.
type RunOutput struct {
	Scenario string                 `json:"scenario"`
	Database string                 `json:"database"`
	Pass     bool                   `json:"pass"`
	Steps    []harness.StepRecord   `json:"steps"`
	Stats    pipeline.StatsSnapshot `json:"stats"`
	Errors   []string               `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario against a database",
		Long: `Run a workload scenario through the memoization pipeline.

Templates and decisions are persisted to the database, so running the same
scenario again replays the templates recorded by the previous run. The
logical clock and operation generations continue from the database.

Kill switches from the scenario are combined with MEMOTRACE_NO_TRACING and
MEMOTRACE_NO_PHYSICAL_TRACING.

Example:
  memotrace run --scenario ./scenarios/ab.yaml --db ./memotrace.db
  memotrace run --scenario ./scenarios/ab.yaml --policy ./policies --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioCommand(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "path to scenario YAML (required)")
	_ = cmd.MarkFlagRequired("scenario")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $MEMOTRACE_DB)")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "CUE policy file or directory")

	return cmd
}

func runScenarioCommand(opts *RunOptions, cmd *cobra.Command) error {
	scenario, err := harness.LoadScenario(opts.Scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	harnessOpts := harness.Options{Config: opts.Config.Memo(), IDs: opts.IDs}
	if harnessOpts.IDs == nil {
		harnessOpts.IDs = tracing.UUIDv7Generator{}
	}
	if opts.Policy != "" {
		rules, err := loadRules(opts.Policy)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load policies", err)
		}
		harnessOpts.Policies = rules
	}

	dbPath := opts.dbPath(opts.Database)
	if dbPath == "" {
		return NewExitError(ExitCommandError, "no database: pass --db or set MEMOTRACE_DB")
	}
	slog.Info("opening database", "path", dbPath)
	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	harnessOpts.Store = st

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	seq, err := st.MaxSeq(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read database clock", err)
	}
	harnessOpts.Clock = pipeline.NewClockAt(seq)

	slog.Info("running scenario", "scenario", scenario.Name, "db", dbPath, "resume_seq", seq)
	result, err := harness.RunWithOptions(ctx, scenario, harnessOpts)
	if err != nil {
		return WrapExitError(ExitFailure, "scenario execution failed", err)
	}

	out := RunOutput{
		Scenario: scenario.Name,
		Database: dbPath,
		Pass:     result.Pass,
		Steps:    result.Steps,
		Stats:    result.Stats,
		Errors:   result.Errors,
	}
	if opts.Format == "json" {
		if err := outputRunJSON(cmd, out); err != nil {
			return err
		}
	} else {
		outputRunText(cmd, out)
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("%d assertion(s) failed", len(result.Errors)))
	}
	return nil
}

func outputRunJSON(cmd *cobra.Command, out RunOutput) error {
	response := CLIResponse{Status: "ok", Data: out}
	if !out.Pass {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_ASSERTION_FAILED",
			Message: fmt.Sprintf("%d assertion(s) failed", len(out.Errors)),
		}
	}
	return writeJSON(cmd.OutOrStdout(), response)
}

func outputRunText(cmd *cobra.Command, out RunOutput) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Scenario: %s\n", out.Scenario)
	fmt.Fprintf(w, "Database: %s\n", out.Database)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Steps ===")
	for _, s := range out.Steps {
		formatStep(w, s)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	formatStats(w, out.Stats)

	if len(out.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Failed Assertions ===")
		for _, e := range out.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "✓ All assertions passed")
}
