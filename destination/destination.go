// Package destination writes processed rows. A destination plugin turns the destination
// properties of a row into a persisted artifact and returns the artifact's id tuple; it can
// also remove an artifact again when a migration is rolled back.
package destination

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/contentmigrate/migrate-framework/pkg/logger"
	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// Field names and describes a property accepted by a destination.
type Field = plugin.Field

// Plugin persists rows.
type Plugin interface {
	// Import writes r. existing holds the destination ids of a previous import of the same
	// source row, or nil for a new row. It returns the destination ids of the written artifact.
	Import(ctx context.Context, r *row.Row, existing row.IDs) (row.IDs, error)
	// RollbackImport removes the artifact. Removing a missing artifact succeeds.
	RollbackImport(ctx context.Context, ids row.IDs) error
	// IDs declares the fields of the destination id tuple.
	IDs() []row.IDField
	// Fields describes the accepted properties.
	Fields() []Field
}

// WriteError reports that one row could not be written. The run continues.
type WriteError struct {
	Destination string
	Err         error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("destination %s: write failed: %v", e.Destination, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// UnavailableError reports that the destination cannot be reached. It aborts the run.
type UnavailableError struct {
	Destination string
	Err         error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("destination %s unavailable: %v", e.Destination, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Deps are the collaborators handed to destination factories.
type Deps struct {
	Entities EntityStore
	Configs  ConfigStore
	// DB is the database written by the table destination.
	DB     *sqlx.DB
	Logger logger.Logger
	// SourceIDs declares the source id fields, used by destinations that reuse them.
	SourceIDs []row.IDField
}

// Factory builds a destination plugin from its configuration.
type Factory func(cfg plugin.Config, deps Deps) (Plugin, error)

// Registry maps destination plugin ids to factories.
type Registry = plugin.Registry[Factory]

// NewRegistry returns an empty destination registry.
func NewRegistry() *Registry {
	return plugin.NewRegistry[Factory]("destination")
}

// DefaultRegistry returns a registry holding every destination plugin of this package.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(EntityID, NewEntity)
	r.MustRegister(ConfigID, NewConfig)
	r.MustRegister(TableID, NewTable)
	r.MustRegister(NullID, NewNull)

	return r
}

type fields struct {
	FieldsDecl []Field `yaml:"fields"`
}

func (f fields) Fields() []Field {
	return append([]Field(nil), f.FieldsDecl...)
}
