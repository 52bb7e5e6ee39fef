package commands

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/contentmigrate/migrate-framework/migration"
	"github.com/contentmigrate/migrate-framework/runner"
)

const indentation = `  `

var errNoSelection = errors.New("no migrations selected: pass migration ids, --tag or --all")

// mustString returns the string value, ignoring the error.
// Safe to use with registered flags where GetString cannot fail.
func mustString(s string, _ error) string { return s }

// mustBool returns the bool value, ignoring the error.
func mustBool(b bool, _ error) bool { return b }

// mustInt returns the int value, ignoring the error.
func mustInt(i int, _ error) int { return i }

// mustStrings returns the string slice value, ignoring the error.
func mustStrings(s []string, _ error) []string { return s }

// configFlag adds the --config/-c flag.
func configFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "migrate.yml", "Configuration file; MIGRATE_* environment variables override it")
}

// selectionFlags adds the --all and --tag flags selecting migrations besides positional ids.
func selectionFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("all", false, "Select every migration")
	cmd.Flags().StringSliceP("tag", "t", nil, "Select the migrations carrying the tag (repeatable)")
}

// selectDefinitions resolves the migrations chosen through args, --tag and --all.
func selectDefinitions(cmd *cobra.Command, r *runner.Runner, args []string) ([]migration.Definition, error) {
	if mustBool(cmd.Flags().GetBool("all")) {
		return r.Select(nil, nil)
	}
	tags := mustStrings(cmd.Flags().GetStringSlice("tag"))
	if len(args) == 0 && len(tags) == 0 {
		return nil, errNoSelection
	}

	return r.Select(args, tags)
}

// longDesc trims a command's long description.
func longDesc(s string) string {
	return strings.TrimSpace(s)
}

// examples trims a command's examples and indents every line.
func examples(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indentation + strings.TrimSpace(line)
	}

	return strings.Join(lines, "\n")
}
