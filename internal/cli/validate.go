package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/memotrace/internal/harness"
	"github.com/roach88/memotrace/internal/memo"
	"github.com/roach88/memotrace/internal/policy"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Scenario string
	Policy   string
}

// ValidationIssue is one problem found by validate.
type ValidationIssue struct {
	Source  string `json:"source"` // file the issue was found in
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Policies []string          `json:"policies,omitempty"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate scenarios and policies without running them",
		Long: `Validate a scenario file, a CUE policy file or directory, or both.

Policies are compiled and checked (ids, kinds). A scenario is parsed strictly
and every policy its operations name must resolve, either to a built-in
policy (always, never, traced) or to one loaded from --policy or the
scenario's own policies file.

Examples:
  memotrace validate --scenario ./scenarios/ab.yaml
  memotrace validate --policy ./policies
  memotrace validate --scenario ./scenarios/ab.yaml --policy ./policies`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "scenario YAML to validate")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "CUE policy file or directory to validate")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	if opts.Scenario == "" && opts.Policy == "" {
		return outputValidateError(formatter, ErrCodeGeneric, "nothing to validate: pass --scenario and/or --policy", nil)
	}

	registry := policy.Default()
	var issues []ValidationIssue

	if opts.Policy != "" {
		loaded, errs := validatePolicies(opts.Policy, registry, formatter)
		if loaded == nil {
			return outputValidateError(formatter, errorCode(errs[0]), errs[0].Error(), nil)
		}
		issues = append(issues, issuesFrom(opts.Policy, errs)...)
	}

	if opts.Scenario != "" {
		issues = append(issues, validateScenario(opts.Scenario, registry, formatter)...)
	}

	if len(issues) > 0 {
		return outputValidationErrors(formatter, issues)
	}
	return outputValidateSuccess(formatter, registry.IDs())
}

// validatePolicies loads path and registers every rule that compiled.
func validatePolicies(path string, registry *policy.Registry, formatter *OutputFormatter) (*LoadResult, []error) {
	loaded, errs := LoadPolicies(path)
	if loaded == nil {
		return nil, errs
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, path)
	for _, r := range loaded.Rules {
		formatter.VerboseLog("Validated policy: %s", r.ID)
	}
	registry.RegisterRules(loaded.Rules)
	return loaded, errs
}

func validateScenario(path string, registry *policy.Registry, formatter *OutputFormatter) []ValidationIssue {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return []ValidationIssue{{Source: path, Code: ErrCodeScenario, Message: err.Error()}}
	}
	formatter.VerboseLog("Scenario %s: %d step(s), %d assertion(s)", scenario.Name, len(scenario.Steps), len(scenario.Assertions))

	var issues []ValidationIssue
	if scenario.Policies != "" {
		loaded, errs := validatePolicies(scenario.Policies, registry, formatter)
		issues = append(issues, issuesFrom(scenario.Policies, errs)...)
		if loaded == nil {
			return issues
		}
	}

	seen := make(map[memo.PolicyID]bool)
	for i, step := range scenario.Steps {
		if step.Op == nil || step.Op.Policy == "" {
			continue
		}
		id := memo.PolicyID(step.Op.Policy)
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := registry.Resolve(id); err != nil {
			issues = append(issues, ValidationIssue{
				Source:  path,
				Code:    ErrCodeScenario,
				Message: fmt.Sprintf("steps[%d].op: %v", i, err),
			})
		}
	}
	return issues
}

func issuesFrom(source string, errs []error) []ValidationIssue {
	issues := make([]ValidationIssue, len(errs))
	for i, err := range errs {
		issues[i] = ValidationIssue{
			Source:  source,
			Code:    errorCode(err),
			Message: err.Error(),
			Line:    errorLine(err),
		}
	}
	return issues
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, ids []memo.PolicyID) error {
	policies := make([]string, len(ids))
	for i, id := range ids {
		policies[i] = string(id)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Policies: policies})
	}

	fmt.Fprintln(formatter.Writer, "✓ All valid")
	formatter.VerboseLog("Policies: %v", policies)
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Validation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}

		if err := writeJSON(formatter.Writer, response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", issue.Source, issue.Line)
		} else {
			fmt.Fprintln(formatter.Writer, issue.Source)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
