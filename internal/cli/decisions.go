package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/memotrace/internal/store"
)

// DecisionsOptions holds flags for the decisions command.
type DecisionsOptions struct {
	*RootOptions
	Database string
	Trace    string // optional - filter to one trace
}

// DecisionsResult is the decisions command's output.
type DecisionsResult struct {
	Trace     string           `json:"trace,omitempty"`
	Decisions []store.Decision `json:"decisions"`
	Stats     DecisionStats    `json:"stats"`
}

// DecisionStats counts decisions by final state.
type DecisionStats struct {
	Total      int `json:"total"`
	Recorded   int `json:"recorded"`
	Replayed   int `json:"replayed"`
	Unmemoized int `json:"unmemoized"`
	Errors     int `json:"errors"`
}

// NewDecisionsCommand creates the decisions command.
func NewDecisionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DecisionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "List logged memoization decisions",
		Long: `List the memoization decision of every operation in the database,
in logical clock order.

Examples:
  memotrace decisions --db ./memotrace.db
  memotrace decisions --db ./memotrace.db --trace main
  memotrace decisions --db ./memotrace.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecisions(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $MEMOTRACE_DB)")
	cmd.Flags().StringVar(&opts.Trace, "trace", "", "filter to one trace")

	return cmd
}

func runDecisions(opts *DecisionsOptions, cmd *cobra.Command) error {
	st, err := openExisting(opts.dbPath(opts.Database))
	if err != nil {
		return err
	}
	defer st.Close()

	decisions, err := st.ReadDecisions(context.Background(), opts.Trace)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read decisions", err)
	}

	result := DecisionsResult{Trace: opts.Trace, Decisions: decisions}
	for _, d := range decisions {
		result.Stats.Total++
		switch {
		case d.Error != "":
			result.Stats.Errors++
		case d.State == "RECORD":
			result.Stats.Recorded++
		case d.State == "REPLAY":
			result.Stats.Replayed++
		default:
			result.Stats.Unmemoized++
		}
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	outputDecisionsText(cmd, result, opts.Verbose)
	return nil
}

func outputDecisionsText(cmd *cobra.Command, result DecisionsResult, verbose bool) {
	w := cmd.OutOrStdout()

	if len(result.Decisions) == 0 {
		if result.Trace != "" {
			fmt.Fprintf(w, "No decisions found for trace: %s\n", result.Trace)
		} else {
			fmt.Fprintln(w, "No decisions found.")
		}
		return
	}

	fmt.Fprintln(w, "=== Decisions ===")
	for _, d := range result.Decisions {
		trace := d.Trace
		if trace == "" {
			trace = "-"
		}
		local := fmt.Sprintf("%d", d.LocalIndex)
		if d.Point != "-" {
			local += "@" + d.Point
		}
		fmt.Fprintf(w, "  [%d] %s#%d %s trace=%s epoch=%d local=%s %s",
			d.Seq, d.OperationID, d.Generation, d.Kind, trace, d.Epoch, local, d.State)
		if d.TemplateID != "" {
			fmt.Fprintf(w, " template=%s", truncateID(d.TemplateID))
		}
		fmt.Fprintln(w)
		if verbose {
			fmt.Fprintf(w, "       policy=%s\n", d.Policy)
		}
		if d.Error != "" {
			fmt.Fprintf(w, "       error: %s\n", d.Error)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total:      %d\n", result.Stats.Total)
	fmt.Fprintf(w, "  Recorded:   %d\n", result.Stats.Recorded)
	fmt.Fprintf(w, "  Replayed:   %d\n", result.Stats.Replayed)
	fmt.Fprintf(w, "  Unmemoized: %d\n", result.Stats.Unmemoized)
	fmt.Fprintf(w, "  Errors:     %d\n", result.Stats.Errors)
}

// openExisting opens a database that must already exist. store.Open would
// silently create an empty one.
func openExisting(path string) (*store.Store, error) {
	if path == "" {
		return nil, NewExitError(ExitCommandError, "no database: pass --db or set MEMOTRACE_DB")
	}
	if !fileExists(path) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
