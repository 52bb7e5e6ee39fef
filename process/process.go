// Package process transforms source values into destination properties. Every destination
// property is produced by a chain of process plugins; each plugin receives the output of the
// previous one together with the whole row.
package process

import (
	"context"
	"errors"
	"fmt"

	"github.com/contentmigrate/migrate-framework/pkg/logger"
	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// Plugin transforms one value.
type Plugin interface {
	Transform(ctx context.Context, value row.Value, r *row.Row, destination string) (row.Value, error)
}

// MultipleProducer is implemented by plugins whose output is a list of values that the next
// plugin of the chain must transform one by one.
type MultipleProducer interface {
	Multiple() bool
}

// MultipleHandler is implemented by plugins that accept a list of values as a whole even when
// the previous plugin produced multiple values.
type MultipleHandler interface {
	HandlesMultiples() bool
}

// TransformFunc adapts a function to the Plugin interface.
type TransformFunc func(ctx context.Context, value row.Value, r *row.Row, destination string) (row.Value, error)

// Transform calls f.
func (f TransformFunc) Transform(ctx context.Context, value row.Value, r *row.Row, destination string) (row.Value, error) {
	return f(ctx, value, r, destination)
}

// SkipRowError asks the executable to leave the whole row out of the destination. The row is
// recorded as ignored in the id map.
type SkipRowError struct {
	Message string
}

func (e *SkipRowError) Error() string {
	if e.Message == "" {
		return "row skipped"
	}

	return "row skipped: " + e.Message
}

// SkipProcessError stops the chain of one property, which is then left unset.
type SkipProcessError struct {
	Message string
}

func (e *SkipProcessError) Error() string {
	if e.Message == "" {
		return "process skipped"
	}

	return "process skipped: " + e.Message
}

// SkipRow returns a *SkipRowError.
func SkipRow(message string) error {
	return &SkipRowError{Message: message}
}

// SkipProcess returns a *SkipProcessError.
func SkipProcess(message string) error {
	return &SkipProcessError{Message: message}
}

// IsSkipRow reports whether err carries a row skip signal.
func IsSkipRow(err error) bool {
	var e *SkipRowError
	return errors.As(err, &e)
}

// IsSkipProcess reports whether err carries a property skip signal.
func IsSkipProcess(err error) bool {
	var e *SkipProcessError
	return errors.As(err, &e)
}

// Lookup resolves the destination ids that another migration produced for a source id tuple.
type Lookup interface {
	LookupDestinationIDs(ctx context.Context, migrationID string, sourceIDs row.IDs) (row.IDs, error)
}

// Deps are the collaborators handed to process factories.
type Deps struct {
	Lookup Lookup
	Logger logger.Logger
	// Registry builds nested pipelines, e.g. for sub_process.
	Registry *Registry
}

func (d Deps) logger() logger.Logger {
	if d.Logger == nil {
		return logger.Nop()
	}

	return d.Logger
}

// Factory builds a process plugin from its configuration.
type Factory func(cfg plugin.Config, deps Deps) (Plugin, error)

// Registry maps process plugin ids to factories.
type Registry = plugin.Registry[Factory]

// NewRegistry returns an empty process registry.
func NewRegistry() *Registry {
	return plugin.NewRegistry[Factory]("process")
}

// DefaultRegistry returns a registry holding every process plugin of this package.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("get", NewGet)
	r.MustRegister("default_value", NewDefaultValue)
	r.MustRegister("concat", NewConcat)
	r.MustRegister("static_map", NewStaticMap)
	r.MustRegister("null_coalesce", NewNullCoalesce)
	r.MustRegister("callback", NewCallback)
	r.MustRegister("explode", NewExplode)
	r.MustRegister("substr", NewSubstr)
	r.MustRegister("str_replace", NewStrReplace)
	r.MustRegister("machine_name", NewMachineName)
	r.MustRegister("extract", NewExtract)
	r.MustRegister("flatten", NewFlatten)
	r.MustRegister("sub_process", NewSubProcess)
	r.MustRegister("skip_on_empty", NewSkipOnEmpty)
	r.MustRegister("skip_row_if_not_set", NewSkipRowIfNotSet)
	r.MustRegister("migration_lookup", NewMigrationLookup)
	r.MustRegister("format_date", NewFormatDate)
	r.MustRegister("log", NewLog)

	return r
}

func invalidInput(id string, v row.Value, want string) error {
	return fmt.Errorf("%s: expected %s, got %s", id, want, v.Kind())
}
