package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/memotrace/internal/store"
)

// TemplatesOptions holds flags for the templates command.
type TemplatesOptions struct {
	*RootOptions
	Database string
	Trace    string
}

// TemplateView is one template in command output.
type TemplateView struct {
	ID          string `json:"id"`
	Trace       string `json:"trace"`
	Mode        string `json:"mode"`
	Ops         int    `json:"ops"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Seq         int64  `json:"seq"`
}

// TemplatesResult is the templates command's output.
type TemplatesResult struct {
	Traces    []string       `json:"traces"`
	Templates []TemplateView `json:"templates"`
}

// NewTemplatesCommand creates the templates command.
func NewTemplatesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TemplatesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List trace templates",
		Long: `List the templates recorded in the database with their mode:
recording, ready, replaying or invalid.

Examples:
  memotrace templates --db ./memotrace.db
  memotrace templates --db ./memotrace.db --trace main --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplates(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $MEMOTRACE_DB)")
	cmd.Flags().StringVar(&opts.Trace, "trace", "", "filter to one trace")

	return cmd
}

func runTemplates(opts *TemplatesOptions, cmd *cobra.Command) error {
	st, err := openExisting(opts.dbPath(opts.Database))
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	records, err := st.ReadTemplates(ctx, opts.Trace)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read templates", err)
	}

	result := TemplatesResult{Traces: []string{opts.Trace}, Templates: viewTemplates(records)}
	if opts.Trace == "" {
		result.Traces, err = st.Traces(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read traces", err)
		}
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	outputTemplatesText(cmd, result, opts.Verbose)
	return nil
}

func viewTemplates(records []store.TemplateRecord) []TemplateView {
	views := make([]TemplateView, len(records))
	for i, r := range records {
		views[i] = TemplateView{
			ID:          r.ID,
			Trace:       r.Trace,
			Mode:        r.Mode.String(),
			Ops:         r.Fingerprint.Ops,
			Fingerprint: r.Fingerprint.Hash,
			Seq:         r.Seq,
		}
	}
	return views
}

func outputTemplatesText(cmd *cobra.Command, result TemplatesResult, verbose bool) {
	w := cmd.OutOrStdout()

	if len(result.Templates) == 0 {
		fmt.Fprintln(w, "No templates found.")
		return
	}

	fmt.Fprintln(w, "=== Templates ===")
	for _, t := range result.Templates {
		fmt.Fprintf(w, "  [%d] %s trace=%s mode=%s ops=%d\n", t.Seq, truncateID(t.ID), t.Trace, t.Mode, t.Ops)
		if verbose && t.Fingerprint != "" {
			fmt.Fprintf(w, "       fingerprint: %s\n", t.Fingerprint)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
