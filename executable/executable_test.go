package executable

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/contentmigrate/migrate-framework/destination"
	"github.com/contentmigrate/migrate-framework/events"
	"github.com/contentmigrate/migrate-framework/idmap"
	"github.com/contentmigrate/migrate-framework/migration"
	"github.com/contentmigrate/migrate-framework/pkg/logger"
	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/process"
	"github.com/contentmigrate/migrate-framework/row"
	"github.com/contentmigrate/migrate-framework/source"
)

// testSource serves a mutable list of records keyed by an integer id.
type testSource struct {
	mu      sync.Mutex
	rows    []*row.OrderedMap
	prepare func(r *row.Row) error
	openErr error
	opened  int
}

func newTestSource(rows ...*row.OrderedMap) *testSource {
	return &testSource{rows: rows}
}

func (s *testSource) set(rows ...*row.OrderedMap) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = rows
}

func (s *testSource) InitializeIterator(context.Context) (source.Iterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opened++
	if s.openErr != nil {
		return nil, s.openErr
	}

	return &testIterator{rows: append([]*row.OrderedMap(nil), s.rows...), pos: -1}, nil
}

func (s *testSource) Fields() []source.Field { return nil }

func (s *testSource) IDs() []row.IDField {
	return []row.IDField{{Name: "id", Type: row.IDTypeInteger}}
}

func (s *testSource) PrepareRow(_ context.Context, r *row.Row) error {
	if s.prepare != nil {
		return s.prepare(r)
	}

	return nil
}

type testIterator struct {
	rows []*row.OrderedMap
	pos  int
	err  error
}

func (it *testIterator) Next(ctx context.Context) bool {
	if it.err = ctx.Err(); it.err != nil {
		return false
	}
	it.pos++

	return it.pos < len(it.rows)
}

func (it *testIterator) Record() *row.OrderedMap { return it.rows[it.pos] }
func (it *testIterator) Err() error              { return it.err }
func (it *testIterator) Close() error            { return nil }

// countingDestination wraps the entity destination, counts calls and can fail chosen rows.
type countingDestination struct {
	destination.Plugin

	mu        sync.Mutex
	imports   int
	rollbacks int
	fail      func(r *row.Row) error
}

func (d *countingDestination) Import(ctx context.Context, r *row.Row, existing row.IDs) (row.IDs, error) {
	d.mu.Lock()
	d.imports++
	fail := d.fail
	d.mu.Unlock()

	if fail != nil {
		if err := fail(r); err != nil {
			return nil, err
		}
	}

	return d.Plugin.Import(ctx, r, existing)
}

func (d *countingDestination) RollbackImport(ctx context.Context, ids row.IDs) error {
	d.mu.Lock()
	d.rollbacks++
	d.mu.Unlock()

	return d.Plugin.RollbackImport(ctx, ids)
}

type fixture struct {
	source *testSource
	dest   *countingDestination
	store  *destination.MemoryEntityStore
	idMap  idmap.IDMap
	sink   *events.MemorySink
	m      *migration.Migration
}

func newFixture(t *testing.T, processYAML string, rows ...*row.OrderedMap) *fixture {
	t.Helper()

	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(processYAML), &node))
	pipeline, err := process.Parse(&node, process.DefaultRegistry(), process.Deps{Logger: logger.Test(t)})
	require.NoError(t, err)

	store := destination.NewMemoryEntityStore()
	entity, err := destination.NewEntity(plugin.MustConfig("entity:item", nil), destination.Deps{Entities: store})
	require.NoError(t, err)

	f := &fixture{
		source: newTestSource(rows...),
		dest:   &countingDestination{Plugin: entity},
		store:  store,
		idMap:  idmap.NewMemoryIDMap("items"),
		sink:   events.NewMemorySink(),
	}
	f.m = &migration.Migration{
		Definition:  migration.Definition{ID: "items"},
		Source:      f.source,
		Pipeline:    pipeline,
		Destination: f.dest,
		IDMap:       f.idMap,
	}

	return f
}

func (f *fixture) run(t *testing.T, opts ...Option) (Result, error) {
	t.Helper()

	return New(f.m, f.sink, logger.Test(t), opts...).Import(context.Background())
}

func (f *fixture) entry(t *testing.T, id int) idmap.Entry {
	t.Helper()

	e, err := f.idMap.Get(context.Background(), row.NewIDs(id))
	require.NoError(t, err)

	return e
}

func (f *fixture) entity(t *testing.T, id row.Value) *row.OrderedMap {
	t.Helper()

	props, err := f.store.Load(context.Background(), "item", id)
	require.NoError(t, err)

	return props
}

func rec(id int, pairs ...any) *row.OrderedMap {
	return row.OrderedMapOf(append([]any{"id", id}, pairs...)...)
}

const upperName = `
NAME:
  plugin: callback
  callable: strtoupper
  source: name
`

func TestImport_ExampleScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t, upperName, rec(1, "name", "x"), rec(2, "name", "y"))

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Created)

	for i, want := range []string{"X", "Y"} {
		e := f.entry(t, i+1)
		assert.Equal(t, idmap.StatusImported, e.Status)
		require.Len(t, e.DestinationIDs, 1)
		name, _ := f.entity(t, e.DestinationIDs[0]).Get("NAME")
		assert.Equal(t, want, name.String())
	}
	d1 := f.entry(t, 1).DestinationIDs
	assert.True(t, row.NewIDs(1).Equal(d1))
	assert.True(t, row.NewIDs(2).Equal(f.entry(t, 2).DestinationIDs))

	// A second run without source changes processes nothing.
	res, err = f.run(t)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 2, res.UpToDate)
	assert.Equal(t, 2, f.dest.imports)

	// Changing one row reprocesses exactly that row.
	f.source.set(rec(1, "name", "z"), rec(2, "name", "y"))
	res, err = f.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.UpToDate)
	assert.Equal(t, 3, f.dest.imports)

	assert.True(t, d1.Equal(f.entry(t, 1).DestinationIDs))
	name, _ := f.entity(t, d1[0]).Get("NAME")
	assert.Equal(t, "Z", name.String())
	name, _ = f.entity(t, row.Int(2)).Get("NAME")
	assert.Equal(t, "Y", name.String())
	assert.Equal(t, 2, f.store.Count("item"))
}

func TestImport_SyncAndUpdateReprocess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  Option
	}{
		{name: "sync", opt: WithSync()},
		{name: "update", opt: WithUpdate()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, upperName, rec(1, "name", "x"), rec(2, "name", "y"))
			_, err := f.run(t)
			require.NoError(t, err)

			res, err := f.run(t, tt.opt)
			require.NoError(t, err)
			assert.Equal(t, 2, res.Processed)
			assert.Equal(t, 2, res.Updated)
			assert.Equal(t, 0, res.Created)
			assert.Equal(t, 2, f.store.Count("item"))
		})
	}
}

func TestImport_SyncRollsBackVanishedRows(t *testing.T) {
	t.Parallel()

	f := newFixture(t, upperName, rec(1, "name", "x"), rec(2, "name", "y"), rec(3, "name", "w"))
	_, err := f.run(t)
	require.NoError(t, err)

	f.source.set(rec(1, "name", "x"), rec(2, "name", "y"))
	res, err := f.run(t, WithSync())
	require.NoError(t, err)
	assert.Equal(t, 1, res.RolledBack)
	assert.Equal(t, 1, f.dest.rollbacks)

	n, err := f.idMap.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, f.store.Count("item"))

	// Without sync vanished rows are left alone.
	f.source.set(rec(1, "name", "x"))
	_, err = f.run(t)
	require.NoError(t, err)
	n, err = f.idMap.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestImport_RowSkipIsolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `
title:
  - plugin: skip_on_empty
    method: row
    source: title
    message: no title
`, rec(1, "title", "a"), rec(2, "title", ""), rec(3, "title", "c"))

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Failed)

	assert.Equal(t, idmap.StatusImported, f.entry(t, 1).Status)
	assert.Equal(t, idmap.StatusImported, f.entry(t, 3).Status)
	skipped := f.entry(t, 2)
	assert.Equal(t, idmap.StatusIgnored, skipped.Status)
	assert.Empty(t, skipped.DestinationIDs)
	assert.Equal(t, []string{"no title"}, skipped.Messages)
	assert.Equal(t, 2, f.store.Count("item"))

	// Ignored rows with an unchanged hash are not processed again.
	res, err = f.run(t)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)

	require.Len(t, f.sink.ByType(events.RowSkipped), 1)
	assert.Equal(t, "no title", f.sink.ByType(events.RowSkipped)[0].Message)
}

func TestImport_RowFailuresAreResumable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, upperName, rec(1, "name", "x"), rec(2, "name", "y"), rec(3, "name", "z"))
	f.dest.fail = func(r *row.Row) error {
		if r.SourceIDValues().Equal(row.NewIDs(2)) {
			return &destination.WriteError{Destination: "entity:item", Err: errors.New("constraint violation")}
		}

		return nil
	}

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.FailedIDs, 1)
	assert.True(t, row.NewIDs(2).Equal(res.FailedIDs[0]))

	failed := f.entry(t, 2)
	assert.Equal(t, idmap.StatusFailed, failed.Status)
	assert.Empty(t, failed.DestinationIDs)
	require.Len(t, failed.Messages, 1)
	assert.Contains(t, failed.Messages[0], "constraint violation")
	assert.Equal(t, idmap.StatusImported, f.entry(t, 3).Status)

	f.dest.fail = nil
	res, err = f.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, res.UpToDate)

	fixed := f.entry(t, 2)
	assert.Equal(t, idmap.StatusImported, fixed.Status)
	assert.Empty(t, fixed.Messages)
}

func TestImport_RowLevelFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		process string
		prepare func(r *row.Row) error
		wantMsg string
	}{
		{
			name:    "missing property",
			process: "title: headline",
			wantMsg: `property "headline"`,
		},
		{
			name:    "prepare row",
			process: upperName,
			prepare: func(r *row.Row) error {
				if r.SourceIDValues().Equal(row.NewIDs(1)) {
					return errors.New("join failed")
				}

				return nil
			},
			wantMsg: "prepare row: join failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tt.process, rec(1, "name", "x"))
			f.source.prepare = tt.prepare

			res, err := f.run(t)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Failed)

			e := f.entry(t, 1)
			assert.Equal(t, idmap.StatusFailed, e.Status)
			require.Len(t, e.Messages, 1)
			assert.Contains(t, e.Messages[0], tt.wantMsg)
			assert.Equal(t, 0, f.dest.imports)
		})
	}
}

func TestImport_FailureThreshold(t *testing.T) {
	t.Parallel()

	f := newFixture(t, upperName, rec(1, "name", "x"), rec(2, "name", "y"), rec(3, "name", "z"))
	f.dest.fail = func(*row.Row) error {
		return &destination.WriteError{Destination: "entity:item", Err: errors.New("rejected")}
	}

	res, err := f.run(t, WithFailureThreshold(1))
	require.ErrorIs(t, err, ErrFailureThreshold)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 2, res.Failed)

	_, err = f.idMap.Get(context.Background(), row.NewIDs(3))
	require.ErrorIs(t, err, idmap.ErrNotFound)
}

func TestImport_FatalErrors(t *testing.T) {
	t.Parallel()

	t.Run("source unavailable", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, upperName, rec(1, "name", "x"))
		f.source.openErr = &source.UnavailableError{Source: "test", Err: errors.New("connection refused")}

		res, err := f.run(t, WithSourceRetry(source.RetryPolicy{MaxAttempts: 2}))
		var unavailable *source.UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, StateFailed, res.State)
		assert.Equal(t, 2, f.source.opened)
	})

	t.Run("destination unavailable", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, upperName, rec(1, "name", "x"), rec(2, "name", "y"), rec(3, "name", "z"))
		f.dest.fail = func(r *row.Row) error {
			if r.SourceIDValues().Equal(row.NewIDs(2)) {
				return &destination.UnavailableError{Destination: "entity:item", Err: errors.New("down")}
			}

			return nil
		}

		res, err := f.run(t)
		var unavailable *destination.UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, StateFailed, res.State)
		assert.Equal(t, 1, res.Created)

		// Committed rows stay committed.
		assert.Equal(t, idmap.StatusImported, f.entry(t, 1).Status)
		n, err := f.idMap.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		f.dest.fail = nil
		res, err = f.run(t)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Created)
		assert.Equal(t, 1, res.UpToDate)
	})
}

func TestImport_Stop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, upperName, rec(1, "name", "x"), rec(2, "name", "y"), rec(3, "name", "z"))
	var exe *Executable
	sink := events.SinkFunc(func(e events.Event) {
		if e.Type == events.RowImported {
			exe.Stop()
		}
	})
	exe = New(f.m, sink, logger.Test(t))

	res, err := exe.Import(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStopped, res.State)
	assert.Equal(t, StateStopped, exe.State())
	require.ErrorIs(t, res.Err, ErrStopped)
	assert.Equal(t, 1, res.Processed)
}

func TestImport_Cancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, upperName, rec(1, "name", "x"), rec(2, "name", "y"))
	ctx, cancel := context.WithCancel(context.Background())
	sink := events.SinkFunc(func(e events.Event) {
		if e.Type == events.RowImported {
			cancel()
		}
	})
	defer cancel()

	res, err := New(f.m, sink, logger.Test(t)).Import(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, res.State)
	require.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, res.Created)
}

func TestImport_Deadline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, upperName, rec(1, "name", "x"), rec(2, "name", "y"))
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		now = now.Add(time.Second)

		return now
	}

	res, err := f.run(t, WithClock(clock), WithDeadline(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, StateStopped, res.State)
	require.ErrorIs(t, res.Err, ErrDeadlineExceeded)
	assert.Equal(t, 0, res.Processed)
}

func TestImport_LimitAndIDList(t *testing.T) {
	t.Parallel()

	rows := []*row.OrderedMap{rec(1, "name", "x"), rec(2, "name", "y"), rec(3, "name", "z")}

	t.Run("limit", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, upperName, rows...)
		res, err := f.run(t, WithLimit(2))
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, res.State)
		assert.Equal(t, 2, res.Processed)
	})

	t.Run("id list", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, upperName, rows...)
		res, err := f.run(t, WithIDList([]row.IDs{row.NewIDs("2")}))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Processed)
		assert.Equal(t, idmap.StatusImported, f.entry(t, 2).Status)
		_, err = f.idMap.Get(context.Background(), row.NewIDs(1))
		require.ErrorIs(t, err, idmap.ErrNotFound)
	})

	t.Run("invalid id list", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, upperName, rows...)
		res, err := f.run(t, WithIDList([]row.IDs{row.NewIDs("abc")}))
		require.ErrorContains(t, err, "not an integer")
		assert.Equal(t, StateFailed, res.State)
	})
}

func TestImport_Events(t *testing.T) {
	t.Parallel()

	f := newFixture(t, upperName, rec(1, "name", "x"), rec(2, "name", "y"))
	_, err := f.run(t)
	require.NoError(t, err)

	all := f.sink.Events()
	require.Len(t, all, 4)
	assert.Equal(t, events.RunStarted, all[0].Type)
	assert.Equal(t, events.RowImported, all[1].Type)
	assert.True(t, row.NewIDs(1).Equal(all[1].SourceIDs))
	assert.True(t, row.NewIDs(1).Equal(all[1].DestinationIDs))
	assert.Equal(t, events.RunCompleted, all[3].Type)
	require.NotNil(t, all[3].Counts)
	assert.Equal(t, events.Counts{State: "completed", Processed: 2, Created: 2}, *all[3].Counts)
}

func TestRollback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, upperName, rec(1, "name", "x"), rec(2, "name", "y"), rec(3, "name", "z"))
	f.dest.fail = func(r *row.Row) error {
		if r.SourceIDValues().Equal(row.NewIDs(3)) {
			return &destination.WriteError{Destination: "entity:item", Err: errors.New("rejected")}
		}

		return nil
	}
	_, err := f.run(t)
	require.NoError(t, err)

	res, err := New(f.m, f.sink, logger.Test(t)).Rollback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 3, res.RolledBack)
	// The failed row has no artifact, so only two deletes reach the destination.
	assert.Equal(t, 2, f.dest.rollbacks)
	assert.Equal(t, 0, f.store.Count("item"))

	n, err := f.idMap.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Rolling back an empty map is a no-op.
	res, err = New(f.m, f.sink, logger.Test(t)).Rollback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.RolledBack)
	assert.Equal(t, 2, f.dest.rollbacks)
}

func TestRollback_ToleratesMissingArtifacts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, upperName, rec(1, "name", "x"))
	_, err := f.run(t)
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(context.Background(), "item", row.Int(1)))

	res, err := New(f.m, nil, logger.Test(t)).Rollback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.RolledBack)
}

type failingRollback struct {
	destination.Plugin
	err error
}

func (d *failingRollback) RollbackImport(context.Context, row.IDs) error { return d.err }

func TestRollback_KeepsEntriesThatCouldNotBeRolledBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t, upperName, rec(1, "name", "x"))
	_, err := f.run(t)
	require.NoError(t, err)

	f.m.Destination = &failingRollback{Plugin: f.dest, err: &destination.WriteError{Destination: "entity:item", Err: errors.New("locked")}}
	res, err := New(f.m, nil, logger.Test(t)).Rollback(context.Background())
	require.ErrorContains(t, err, "locked")
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 0, res.RolledBack)

	n, err := f.idMap.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExecutable_RunsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, upperName, rec(1, "name", "x"))
	exe := New(f.m, nil, logger.Test(t))
	assert.Equal(t, StateIdle, exe.State())

	_, err := exe.Import(context.Background())
	require.NoError(t, err)
	_, err = exe.Import(context.Background())
	require.ErrorIs(t, err, ErrAlreadyStarted)
	_, err = exe.Rollback(context.Background())
	require.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateRunning, "running"},
		{StateCompleted, "completed"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{State(9), "state(9)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
