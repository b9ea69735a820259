package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dynabo/dynabo/internal/errs"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool            `json:"valid"`
	Count  int             `json:"count"`
	Errors []DocumentError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <definitions-dir>",
		Short: "Validate BO definition documents without applying them",
		Long: `Validate YAML or JSON BO definition documents against the definition
schema without touching any database. Faster than apply for authoring
feedback.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	defs, docErrs := LoadDocuments(dir)
	formatter.VerboseLog("Loaded %d definition document(s) from %s", len(defs), dir)

	if len(docErrs) > 0 {
		return outputValidationErrors(formatter, len(defs), docErrs)
	}
	return outputValidateSuccess(formatter, len(defs))
}

func outputValidateSuccess(formatter *OutputFormatter, count int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Count: count})
	}

	fmt.Fprintf(formatter.Writer, "✓ %d definition(s) valid\n", count)
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, count int, docErrs []DocumentError) error {
	if formatter.Format == "json" {
		_ = formatter.Error(errs.CodeInvalidDef, "validation failed",
			ValidationResult{Valid: false, Count: count, Errors: docErrs})
		return NewExitError(ExitFailure,
			fmt.Sprintf("validation failed with %d error(s)", len(docErrs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range docErrs {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", e.File, e.Message)
	}

	return NewExitError(ExitFailure,
		fmt.Sprintf("validation failed with %d error(s)", len(docErrs)))
}
