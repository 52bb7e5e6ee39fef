// Package commands provides the CLI commands of the migrate tool.
//
// There are two ways to use commands from this package:
//
// 1. Via the root command, as cmd/migrate does:
//
//	cmds := commands.New(lggr)
//	root := cmds.Root(commands.Deps{})
//
// 2. Via the Commands factory, to embed single commands in an application CLI that brings its
// own entity store:
//
//	cmds := commands.New(lggr)
//	app.AddCommand(
//	    cmds.Import(commands.Deps{Stores: commands.Stores{Entities: myStore}}),
//	    cmds.Status(commands.Deps{}),
//	)
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contentmigrate/migrate-framework/pkg/logger"
)

// Commands provides a factory for creating CLI commands with shared configuration.
// This allows setting the logger once and reusing it across all commands.
type Commands struct {
	lggr logger.Logger
}

// New creates a new Commands factory with the given logger.
// The logger will be shared across all commands created by this factory.
func New(lggr logger.Logger) *Commands {
	return &Commands{lggr: lggr}
}

// Root creates the migrate command with every subcommand.
func (c *Commands) Root(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate content between systems",
		Long: longDesc(`
Runs migrations declared as YAML files: every source row is transformed by a process pipeline,
written to a destination and recorded in an id map, so that later runs only touch new or
changed rows.`),
		SilenceUsage: true,
	}
	cmd.AddCommand(
		c.Import(deps),
		c.Rollback(deps),
		c.Status(deps),
		c.List(deps),
	)

	return cmd
}

// Import creates the import command.
func (c *Commands) Import(deps Deps) *cobra.Command {
	deps.applyDefaults()

	return newImportCmd(c, &deps)
}

// Rollback creates the rollback command.
func (c *Commands) Rollback(deps Deps) *cobra.Command {
	deps.applyDefaults()

	return newRollbackCmd(c, &deps)
}

// Status creates the status command.
func (c *Commands) Status(deps Deps) *cobra.Command {
	deps.applyDefaults()

	return newStatusCmd(c, &deps)
}

// List creates the list command.
func (c *Commands) List(deps Deps) *cobra.Command {
	deps.applyDefaults()

	return newListCmd(&deps)
}

// withEnv loads the configuration and the environment, runs fn and closes the environment.
func (c *Commands) withEnv(cmd *cobra.Command, deps *Deps, fn func(ctx context.Context, env *Env) error) (err error) {
	cfg, err := deps.ConfigLoader(mustString(cmd.Flags().GetString("config")))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	env, err := deps.EnvLoader(cmd.Context(), cfg, c.lggr, deps.Stores)
	if err != nil {
		return fmt.Errorf("failed to load environment: %w", err)
	}
	defer func() {
		err = errors.Join(err, env.Close())
	}()

	return fn(cmd.Context(), env)
}
