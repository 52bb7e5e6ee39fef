package process

import (
	"context"
	"errors"
	"fmt"

	"github.com/contentmigrate/migrate-framework/idmap"
	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// MigrationLookup resolves the destination ids that other migrations produced for the input,
// taken as a source id tuple. Migrations are tried in order and the first hit wins. A single
// destination id is returned as a scalar, a composite one as a list. Inputs without a match
// produce null.
type MigrationLookup struct {
	migrations []string
	lookup     Lookup
}

// NewMigrationLookup is the Factory of the migration_lookup plugin.
func NewMigrationLookup(cfg plugin.Config, deps Deps) (Plugin, error) {
	var c struct {
		Migration names `yaml:"migration"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	if len(c.Migration.values) == 0 {
		return nil, errors.New("migration_lookup: migration is required")
	}
	if deps.Lookup == nil {
		return nil, errors.New("migration_lookup: no lookup service available")
	}

	return &MigrationLookup{migrations: c.Migration.values, lookup: deps.Lookup}, nil
}

func (m *MigrationLookup) Transform(ctx context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	if value.IsNull() || value.String() == "" || (value.IsList() && len(value.List()) == 0) {
		return row.Null(), nil
	}

	var ids row.IDs
	switch {
	case value.IsList():
		ids = row.IDs(value.List())
	case value.IsMap():
		return row.Null(), invalidInput("migration_lookup", value, "a scalar or a list")
	default:
		ids = row.IDs{value}
	}

	for _, migrationID := range m.migrations {
		dst, err := m.lookup.LookupDestinationIDs(ctx, migrationID, ids)
		if errors.Is(err, idmap.ErrNotFound) {
			continue
		}
		if err != nil {
			return row.Null(), fmt.Errorf("migration_lookup %s: %w", migrationID, err)
		}
		if len(dst) == 1 {
			return dst[0], nil
		}

		return row.List(dst...), nil
	}

	return row.Null(), nil
}
