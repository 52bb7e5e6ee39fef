package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/contentmigrate/migrate-framework/migration"
)

func newStatusCmd(c *Commands, deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [migration ids...]",
		Short: "Show the progress of migrations",
		Long: longDesc(`
Shows for each migration how many source rows exist, how many the id map holds per status and
when the migration last completed an import. Without a selection every migration is shown.`),
		Example: examples(`
# Show every migration
migrate status

# Show the failed rows of the users migration
migrate status users --messages`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, deps, func(ctx context.Context, env *Env) error {
				defs, err := selectOrAll(cmd, env, args)
				if err != nil {
					return err
				}
				statuses, err := env.Runner.Status(ctx, defs)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				writeStatuses(out, statuses)
				if mustBool(cmd.Flags().GetBool("messages")) {
					for _, st := range statuses {
						keys := make([]string, 0, len(st.Messages))
						for k := range st.Messages {
							keys = append(keys, k)
						}
						slices.Sort(keys)
						for _, k := range keys {
							for _, msg := range st.Messages[k] {
								fmt.Fprintf(out, "%s [%s]: %s\n", st.ID, k, msg)
							}
						}
					}
				}

				return nil
			})
		},
	}

	configFlag(cmd)
	selectionFlags(cmd)
	cmd.Flags().Bool("messages", false, "Print the messages recorded for rows")

	return cmd
}

// selectOrAll selects every migration when none is chosen.
func selectOrAll(cmd *cobra.Command, env *Env, args []string) ([]migration.Definition, error) {
	defs, err := selectDefinitions(cmd, env.Runner, args)
	if errors.Is(err, errNoSelection) {
		return env.Runner.Select(nil, nil)
	}

	return defs, err
}
