package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/contentmigrate/migrate-framework/destination"
	"github.com/contentmigrate/migrate-framework/idmap"
	"github.com/contentmigrate/migrate-framework/pkg/logger"
	"github.com/contentmigrate/migrate-framework/process"
	"github.com/contentmigrate/migrate-framework/row"
	"github.com/contentmigrate/migrate-framework/source"
)

// ErrUnknownMigration is returned for migration ids without a definition.
var ErrUnknownMigration = errors.New("unknown migration")

// Migration is a built definition. It is not reconfigured while it runs.
type Migration struct {
	Definition  Definition
	Source      source.Plugin
	Pipeline    process.Pipeline
	Destination destination.Plugin
	IDMap       idmap.IDMap
}

// ID returns the migration id.
func (m *Migration) ID() string { return m.Definition.ID }

// ProcessRow runs every process chain of the migration against r, in declared order.
func (m *Migration) ProcessRow(ctx context.Context, r *row.Row) error {
	return m.Pipeline.Run(ctx, r)
}

// Manager builds migrations from their definitions and resolves lookups across migrations.
type Manager struct {
	defs         map[string]Definition
	sources      *source.Registry
	processes    *process.Registry
	destinations *destination.Registry
	idMaps       idmap.Factory
	sourceDeps   source.Deps
	destDeps     destination.Deps
	lggr         logger.Logger

	mu    sync.Mutex
	built map[string]*Migration
}

var _ process.Lookup = &Manager{}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSourceRegistry replaces the default source registry.
func WithSourceRegistry(r *source.Registry) ManagerOption {
	return func(m *Manager) { m.sources = r }
}

// WithProcessRegistry replaces the default process registry.
func WithProcessRegistry(r *process.Registry) ManagerOption {
	return func(m *Manager) { m.processes = r }
}

// WithDestinationRegistry replaces the default destination registry.
func WithDestinationRegistry(r *destination.Registry) ManagerOption {
	return func(m *Manager) { m.destinations = r }
}

// WithSourceDeps sets the collaborators handed to source factories.
func WithSourceDeps(deps source.Deps) ManagerOption {
	return func(m *Manager) { m.sourceDeps = deps }
}

// WithDestinationDeps sets the collaborators handed to destination factories.
func WithDestinationDeps(deps destination.Deps) ManagerOption {
	return func(m *Manager) { m.destDeps = deps }
}

// NewManager returns a manager over defs. Ids must be unique.
func NewManager(defs []Definition, idMaps idmap.Factory, lggr logger.Logger, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		defs:         make(map[string]Definition, len(defs)),
		sources:      source.DefaultRegistry(),
		processes:    process.DefaultRegistry(),
		destinations: destination.DefaultRegistry(),
		idMaps:       idMaps,
		lggr:         lggr,
		built:        make(map[string]*Migration),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, d := range defs {
		if _, dup := m.defs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate migration id %s", d.ID)
		}
		m.defs[d.ID] = d
	}

	return m, nil
}

// Definitions returns every definition sorted by id.
func (m *Manager) Definitions() []Definition {
	defs := make([]Definition, 0, len(m.defs))
	for _, d := range m.defs {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	return defs
}

// Definition returns the definition of a migration id.
func (m *Manager) Definition(id string) (Definition, error) {
	d, ok := m.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownMigration, id)
	}

	return d, nil
}

// Migration builds the migration with the given id. Built migrations are cached.
func (m *Manager) Migration(ctx context.Context, id string) (*Migration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if built, ok := m.built[id]; ok {
		return built, nil
	}
	def, err := m.Definition(id)
	if err != nil {
		return nil, err
	}
	built, err := m.build(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("failed to build migration %s: %w", id, err)
	}
	m.built[id] = built

	return built, nil
}

func (m *Manager) build(ctx context.Context, def Definition) (*Migration, error) {
	lggr := m.lggr.Named(def.ID)

	newSource, err := m.sources.Lookup(def.Source.ID)
	if err != nil {
		return nil, err
	}
	sourceDeps := m.sourceDeps
	sourceDeps.Logger = lggr
	src, err := newSource(def.Source, sourceDeps)
	if err != nil {
		return nil, err
	}

	pipeline, err := process.Parse(def.Process, m.processes, process.Deps{Lookup: m, Logger: lggr})
	if err != nil {
		return nil, err
	}

	newDestination, err := m.destinations.Lookup(def.Destination.ID)
	if err != nil {
		return nil, err
	}
	destDeps := m.destDeps
	destDeps.Logger = lggr
	destDeps.SourceIDs = src.IDs()
	dst, err := newDestination(def.Destination, destDeps)
	if err != nil {
		return nil, err
	}

	idMap, err := m.idMaps.IDMap(ctx, def.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to open id map: %w", err)
	}

	return &Migration{
		Definition:  def,
		Source:      src,
		Pipeline:    pipeline,
		Destination: dst,
		IDMap:       idMap,
	}, nil
}

// LookupDestinationIDs resolves the destination ids another migration assigned to a source
// row. The source ids are normalized to the id fields of that migration's source.
func (m *Manager) LookupDestinationIDs(ctx context.Context, migrationID string, sourceIDs row.IDs) (row.IDs, error) {
	target, err := m.Migration(ctx, migrationID)
	if err != nil {
		return nil, err
	}
	fields := target.Source.IDs()
	if len(fields) != len(sourceIDs) {
		return nil, fmt.Errorf("migration %s expects %d source ids, got %d", migrationID, len(fields), len(sourceIDs))
	}
	normalized := make(row.IDs, len(sourceIDs))
	for i, f := range fields {
		v, err := f.Normalize(sourceIDs[i])
		if err != nil {
			return nil, err
		}
		normalized[i] = v
	}

	return target.IDMap.LookupDestinationIDs(ctx, normalized)
}
