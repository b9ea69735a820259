package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dynabo/dynabo/internal/config"
	"github.com/dynabo/dynabo/internal/dyntable"
	"github.com/dynabo/dynabo/internal/schema"
	"github.com/dynabo/dynabo/internal/store"
)

// ApplyResult reports what apply changed.
type ApplyResult struct {
	Created []string `json:"created,omitempty"`
	Updated []string `json:"updated,omitempty"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string
	var prefix string

	cmd := &cobra.Command{
		Use:   "apply <definitions-dir>",
		Short: "Apply BO definition documents to a database",
		Long: `Validate BO definition documents and apply them to the database:
new BOs are created with their tables, existing BOs gain any fields the
documents add. Existing fields are never retyped or dropped.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(rootOpts, args[0], dbPath, prefix, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", config.DefaultDatabasePath, "database file")
	cmd.Flags().StringVar(&prefix, "prefix", config.DefaultTablePrefix, "dynamic table prefix")

	return cmd
}

func runApply(opts *RootOptions, dir, dbPath, prefix string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	defs, docErrs := LoadDocuments(dir)
	if len(docErrs) > 0 {
		return outputValidationErrors(formatter, len(defs), docErrs)
	}
	formatter.VerboseLog("Loaded %d definition document(s) from %s", len(defs), dir)

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer func() { _ = st.Close() }()

	tables := dyntable.New(st.DB(), prefix, slog.Default())
	svc := schema.New(st, tables, slog.Default())

	ctx := cmd.Context()
	var result ApplyResult
	for _, def := range defs {
		stored, created, err := svc.UpsertDefinition(ctx, def.Code, def)
		if err != nil {
			_ = formatter.PlatformError(err)
			return WrapExitError(ExitCommandError,
				fmt.Sprintf("apply %q", def.Code), err)
		}
		if created {
			result.Created = append(result.Created, stored.Code)
			formatter.VerboseLog("Created %s (table %s)", stored.Code, stored.TableName)
		} else {
			result.Updated = append(result.Updated, stored.Code)
			formatter.VerboseLog("Updated %s", stored.Code)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Applied %d definition(s): %d created, %d updated\n",
		len(defs), len(result.Created), len(result.Updated))
	return nil
}
