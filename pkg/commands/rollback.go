package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func newRollbackCmd(c *Commands, deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback [migration ids...]",
		Short: "Roll back migrations",
		Long: longDesc(`
Deletes what the selected migrations wrote to their destinations and empties their id maps.
Dependent migrations are rolled back before the migrations they depend on.`),
		Example: examples(`
# Roll back the articles migration
migrate rollback articles

# Roll back the migrations tagged content
migrate rollback --tag content`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, deps, func(ctx context.Context, env *Env) error {
				defs, err := selectDefinitions(cmd, env.Runner, args)
				if err != nil {
					return err
				}
				reports, err := env.Runner.Rollback(ctx, defs)
				writeReports(cmd.OutOrStdout(), reports)

				return err
			})
		},
	}

	configFlag(cmd)
	selectionFlags(cmd)

	return cmd
}
