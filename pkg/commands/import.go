package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contentmigrate/migrate-framework/executable"
	"github.com/contentmigrate/migrate-framework/row"
)

var errIDListNeedsOneMigration = errors.New("--idlist needs exactly one selected migration")

func newImportCmd(c *Commands, deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [migration ids...]",
		Short: "Import migrations",
		Long: longDesc(`
Imports the selected migrations in dependency order. A migration only starts when its
required dependencies completed an import before. Rows already imported and unchanged are
skipped unless --sync or --update is given.`),
		Example: examples(`
# Import every migration
migrate import --all

# Import the users migration again, including unchanged rows
migrate import users --update

# Import two rows of the users migration
migrate import users --idlist 1,2`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, deps, func(ctx context.Context, env *Env) error {
				return runImport(ctx, cmd, env, args)
			})
		},
	}

	configFlag(cmd)
	selectionFlags(cmd)
	cmd.Flags().Bool("sync", false, "Process every row and roll back rows that vanished from the source")
	cmd.Flags().Bool("update", false, "Reprocess rows imported before")
	cmd.Flags().Int("limit", 0, "Stop each migration after this many rows")
	cmd.Flags().String("idlist", "", "Comma separated source ids to import, components of composite ids joined by ':'")

	return cmd
}

func runImport(ctx context.Context, cmd *cobra.Command, env *Env, args []string) error {
	defs, err := selectDefinitions(cmd, env.Runner, args)
	if err != nil {
		return err
	}

	opts := env.ExecOptions()
	if mustBool(cmd.Flags().GetBool("sync")) {
		opts = append(opts, executable.WithSync())
	}
	if mustBool(cmd.Flags().GetBool("update")) {
		opts = append(opts, executable.WithUpdate())
	}
	if limit := mustInt(cmd.Flags().GetInt("limit")); limit > 0 {
		opts = append(opts, executable.WithLimit(limit))
	}
	if idList := mustString(cmd.Flags().GetString("idlist")); idList != "" {
		if len(defs) != 1 {
			return errIDListNeedsOneMigration
		}
		m, err := env.Runner.Manager().Migration(ctx, defs[0].ID)
		if err != nil {
			return err
		}
		ids, err := row.ParseIDList(idList, m.Source.IDs())
		if err != nil {
			return fmt.Errorf("invalid --idlist: %w", err)
		}
		opts = append(opts, executable.WithIDList(ids))
	}

	reports, err := env.Runner.Import(ctx, defs, opts...)
	writeReports(cmd.OutOrStdout(), reports)

	return err
}
