package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contentmigrate/migrate-framework/migration"
)

func newListCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List migrations in dependency order",
		Long: longDesc(`
Lists the migrations of the configured directory in the order an import of all of them runs.
Dependency cycles and unknown required dependencies are reported as errors.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := deps.ConfigLoader(mustString(cmd.Flags().GetString("config")))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			defs, err := migration.LoadDir(cfg.MigrationsDir)
			if err != nil {
				return err
			}
			ordered, err := migration.Order(defs)
			if err != nil {
				return err
			}
			if tags := mustStrings(cmd.Flags().GetStringSlice("tag")); len(tags) > 0 {
				var tagged []migration.Definition
				for _, d := range ordered {
					for _, tag := range tags {
						if d.HasTag(tag) {
							tagged = append(tagged, d)
							break
						}
					}
				}
				ordered = tagged
			}
			writeDefinitions(cmd.OutOrStdout(), ordered)

			return nil
		},
	}

	configFlag(cmd)
	cmd.Flags().StringSliceP("tag", "t", nil, "Only list the migrations carrying the tag (repeatable)")

	return cmd
}
