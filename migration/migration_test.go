package migration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentmigrate/migrate-framework/destination"
	"github.com/contentmigrate/migrate-framework/idmap"
	"github.com/contentmigrate/migrate-framework/pkg/logger"
	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
	"github.com/contentmigrate/migrate-framework/source"
)

const usersYAML = `
id: users
label: Users
version: 2.1.0
migration_tags: [content, people]
source:
  plugin: embedded_data
  ids:
    - name: uid
      type: integer
  data_rows:
    - uid: 1
      name: ada
    - uid: 2
      name: grace
process:
  name:
    plugin: callback
    callable: ucfirst
    source: name
destination:
  plugin: entity:user
`

const articlesYAML = `
id: articles
source:
  plugin: embedded_data
  ids:
    - name: nid
      type: integer
  data_rows:
    - nid: 10
      author: "2"
process:
  uid:
    plugin: migration_lookup
    migration: users
    source: author
destination:
  plugin: entity:node
migration_dependencies:
  required: [users]
  optional: [tags]
`

func mustParse(t *testing.T, src string) Definition {
	t.Helper()

	def, err := Parse([]byte(src))
	require.NoError(t, err)

	return def
}

func TestParse(t *testing.T) {
	t.Parallel()

	def := mustParse(t, usersYAML)
	assert.Equal(t, "users", def.ID)
	assert.Equal(t, "Users", def.Label)
	assert.Equal(t, "2.1.0", def.Version.String())
	assert.True(t, def.HasTag("people"))
	assert.False(t, def.HasTag("config"))
	assert.Equal(t, "embedded_data", def.Source.ID)
	assert.Equal(t, "entity:user", def.Destination.ID)
	assert.Equal(t, "user", def.Destination.Derivative())
	require.NotNil(t, def.Process)

	def = mustParse(t, articlesYAML)
	assert.Equal(t, DefaultVersion, def.Version.String())
	assert.Equal(t, Dependencies{Required: []string{"users"}, Optional: []string{"tags"}}, def.Dependencies)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want string
	}{
		{name: "no id", src: "label: x", want: "migration id is required"},
		{name: "bad version", src: "id: a\nversion: one\nsource: {plugin: x}\ndestination: {plugin: y}", want: "invalid version"},
		{name: "no source", src: "id: a\ndestination: {plugin: y}", want: "source: expected a mapping"},
		{name: "no source plugin", src: "id: a\nsource: {ids: []}\ndestination: {plugin: y}", want: "source: plugin is required"},
		{name: "no destination", src: "id: a\nsource: {plugin: x}", want: "destination: expected a mapping"},
		{
			name: "self dependency",
			src:  "id: a\nsource: {plugin: x}\ndestination: {plugin: y}\nmigration_dependencies: {required: [a]}",
			want: "depends on itself",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.src))
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.yml"), []byte(usersYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "articles.yaml"), []byte(articlesYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "articles", defs[0].ID)
	assert.Equal(t, "users", defs[1].ID)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "copy.yml"), []byte(usersYAML), 0o600))
	_, err = LoadDir(dir)
	require.ErrorContains(t, err, "migration users is defined in both")

	_, err = LoadDir(filepath.Join(dir, "missing"))
	require.ErrorContains(t, err, "failed to read migrations directory")
}

func def(id string, required []string, optional ...string) Definition {
	return Definition{ID: id, Dependencies: Dependencies{Required: required, Optional: optional}}
}

func ids(defs []Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.ID
	}

	return out
}

func TestOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		defs       []Definition
		want       []string
		wantLevels [][]string
	}{
		{
			name:       "independent",
			defs:       []Definition{def("b", nil), def("a", nil)},
			want:       []string{"a", "b"},
			wantLevels: [][]string{{"a", "b"}},
		},
		{
			name:       "chain",
			defs:       []Definition{def("c", []string{"b"}), def("b", []string{"a"}), def("a", nil)},
			want:       []string{"a", "b", "c"},
			wantLevels: [][]string{{"a"}, {"b"}, {"c"}},
		},
		{
			name:       "diamond",
			defs:       []Definition{def("d", []string{"b", "c"}), def("c", []string{"a"}), def("b", []string{"a"}), def("a", nil)},
			want:       []string{"a", "b", "c", "d"},
			wantLevels: [][]string{{"a"}, {"b", "c"}, {"d"}},
		},
		{
			name:       "optional present",
			defs:       []Definition{def("a", nil, "z"), def("z", nil)},
			want:       []string{"z", "a"},
			wantLevels: [][]string{{"z"}, {"a"}},
		},
		{
			name:       "optional absent",
			defs:       []Definition{def("a", nil, "z")},
			want:       []string{"a"},
			wantLevels: [][]string{{"a"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ordered, err := Order(tt.defs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(ordered))

			levels, err := Levels(tt.defs)
			require.NoError(t, err)
			got := make([][]string, len(levels))
			for i, l := range levels {
				got[i] = ids(l)
			}
			assert.Equal(t, tt.wantLevels, got)
		})
	}
}

func TestOrder_Errors(t *testing.T) {
	t.Parallel()

	_, err := Order([]Definition{def("a", []string{"b"}), def("b", []string{"a"}), def("c", nil)})
	var cycle *DependencyCycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "b", "a"}, cycle.Cycle)
	assert.Equal(t, "migration dependency cycle: a -> b -> a", err.Error())

	_, err = Order([]Definition{def("a", []string{"c"}), def("b", []string{"a"}), def("c", []string{"b"}), def("d", []string{"a"})})
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"a", "c", "b", "a"}, cycle.Cycle)

	_, err = Order([]Definition{def("a", []string{"missing"})})
	var missing *MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "missing", missing.Dependency)

	_, err = Order([]Definition{def("a", nil), def("a", nil)})
	require.ErrorContains(t, err, "duplicate migration id a")
}

func newManager(t *testing.T, factory idmap.Factory, defs ...Definition) *Manager {
	t.Helper()

	m, err := NewManager(defs, factory, logger.Test(t),
		WithDestinationDeps(destination.Deps{Entities: destination.NewMemoryEntityStore()}),
	)
	require.NoError(t, err)

	return m
}

func TestManager_Migration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newManager(t, idmap.NewMemoryFactory(), mustParse(t, usersYAML), mustParse(t, articlesYAML))
	assert.Equal(t, []string{"articles", "users"}, ids(m.Definitions()))

	users, err := m.Migration(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "users", users.ID())
	assert.Equal(t, "users", users.IDMap.MigrationID())
	assert.Equal(t, []string{"name"}, users.Pipeline.Names())
	assert.Equal(t, "user", users.Destination.(*destination.Entity).EntityType())

	again, err := m.Migration(ctx, "users")
	require.NoError(t, err)
	assert.Same(t, users, again)

	it, err := users.Source.InitializeIterator(ctx)
	require.NoError(t, err)
	require.True(t, it.Next(ctx))
	r, err := row.New(it.Record(), users.Source.IDs())
	require.NoError(t, err)
	require.NoError(t, it.Close())

	require.NoError(t, users.ProcessRow(ctx, r))
	name, ok := r.DestinationProperty("name")
	require.True(t, ok)
	assert.Equal(t, "Ada", name.String())

	_, err = m.Migration(ctx, "nope")
	require.ErrorIs(t, err, ErrUnknownMigration)
}

func TestManager_BuildErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "unknown source",
			src:  "id: a\nsource: {plugin: csv}\ndestination: {plugin: 'null'}",
			want: `unknown source plugin "csv"`,
		},
		{
			name: "unknown destination",
			src:  "id: a\nsource: {plugin: embedded_data, ids: [{name: id}]}\ndestination: {plugin: file}",
			want: `unknown destination plugin "file"`,
		},
		{
			name: "bad process",
			src:  "id: a\nsource: {plugin: embedded_data, ids: [{name: id}]}\nprocess: {x: {plugin: nope}}\ndestination: {plugin: 'null'}",
			want: `unknown process plugin "nope"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := newManager(t, idmap.NewMemoryFactory(), mustParse(t, tt.src))
			_, err := m.Migration(context.Background(), "a")
			require.ErrorContains(t, err, "failed to build migration a")
			require.ErrorContains(t, err, tt.want)
		})
	}

	_, err := NewManager([]Definition{def("a", nil), def("a", nil)}, idmap.NewMemoryFactory(), logger.Test(t))
	require.ErrorContains(t, err, "duplicate migration id a")
}

func TestManager_IDMapFactoryError(t *testing.T) {
	t.Parallel()

	factory := idmap.FactoryFunc(func(context.Context, string) (idmap.IDMap, error) {
		return nil, errors.New("database is locked")
	})
	m := newManager(t, factory, mustParse(t, usersYAML))
	_, err := m.Migration(context.Background(), "users")
	require.ErrorContains(t, err, "failed to open id map: database is locked")
}

func TestManager_LookupDestinationIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	factory := idmap.NewMemoryFactory()
	m := newManager(t, factory, mustParse(t, usersYAML), mustParse(t, articlesYAML))

	users, err := m.Migration(ctx, "users")
	require.NoError(t, err)
	require.NoError(t, users.IDMap.SaveIDMapping(ctx, row.NewIDs(2), row.NewIDs(77), "h", idmap.StatusImported))

	// The article source carries the author id as text; the lookup normalizes it.
	got, err := m.LookupDestinationIDs(ctx, "users", row.NewIDs("2"))
	require.NoError(t, err)
	assert.True(t, row.NewIDs(77).Equal(got))

	_, err = m.LookupDestinationIDs(ctx, "users", row.NewIDs(3))
	require.ErrorIs(t, err, idmap.ErrNotFound)

	_, err = m.LookupDestinationIDs(ctx, "users", row.NewIDs(1, 2))
	require.ErrorContains(t, err, "expects 1 source ids")

	_, err = m.LookupDestinationIDs(ctx, "missing", row.NewIDs(1))
	require.ErrorIs(t, err, ErrUnknownMigration)

	articles, err := m.Migration(ctx, "articles")
	require.NoError(t, err)
	it, err := articles.Source.InitializeIterator(ctx)
	require.NoError(t, err)
	require.True(t, it.Next(ctx))
	r, err := row.New(it.Record(), articles.Source.IDs())
	require.NoError(t, err)
	require.NoError(t, articles.ProcessRow(ctx, r))
	uid, ok := r.DestinationProperty("uid")
	require.True(t, ok)
	assert.Equal(t, "77", uid.String())
}

func TestManager_Options(t *testing.T) {
	t.Parallel()

	sources := source.NewRegistry()
	sources.MustRegister("fixed", func(plugin.Config, source.Deps) (source.Plugin, error) {
		return nil, errors.New("fixed source is broken")
	})
	m, err := NewManager(
		[]Definition{mustParse(t, "id: a\nsource: {plugin: fixed}\ndestination: {plugin: 'null'}")},
		idmap.NewMemoryFactory(), logger.Test(t),
		WithSourceRegistry(sources),
	)
	require.NoError(t, err)

	_, err = m.Migration(context.Background(), "a")
	require.ErrorContains(t, err, "fixed source is broken")
}
