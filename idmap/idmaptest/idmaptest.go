// Package idmaptest provides a behaviour suite shared by all id map implementations.
package idmaptest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentmigrate/migrate-framework/idmap"
	"github.com/contentmigrate/migrate-framework/row"
)

// Run exercises an id map factory. newFactory is called once per subtest so every subtest
// starts from empty storage.
func Run(t *testing.T, newFactory func(t *testing.T) idmap.Factory) {
	t.Helper()

	ctx := context.Background()

	open := func(t *testing.T, id string) idmap.IDMap {
		t.Helper()
		m, err := newFactory(t).IDMap(ctx, id)
		require.NoError(t, err)
		require.Equal(t, id, m.MigrationID())

		return m
	}

	t.Run("save and lookup", func(t *testing.T) {
		m := open(t, "users")

		src := row.NewIDs(1, "en")
		dst := row.NewIDs(10)
		require.NoError(t, m.SaveIDMapping(ctx, src, dst, "h1", idmap.StatusImported))

		got, err := m.LookupDestinationIDs(ctx, row.NewIDs(1, "en"))
		require.NoError(t, err)
		assert.True(t, dst.Equal(got))

		back, err := m.LookupSourceIDs(ctx, row.NewIDs(10))
		require.NoError(t, err)
		assert.True(t, src.Equal(back))

		status, err := m.RowStatus(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, idmap.StatusImported, status)

		entry, err := m.Get(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, "h1", entry.Hash)
		assert.False(t, entry.LastImported.IsZero())
	})

	t.Run("not found", func(t *testing.T) {
		m := open(t, "users")

		_, err := m.LookupDestinationIDs(ctx, row.NewIDs(404))
		require.ErrorIs(t, err, idmap.ErrNotFound)
		_, err = m.LookupSourceIDs(ctx, row.NewIDs(404))
		require.ErrorIs(t, err, idmap.ErrNotFound)
		_, err = m.RowStatus(ctx, row.NewIDs(404))
		require.ErrorIs(t, err, idmap.ErrNotFound)
	})

	t.Run("upsert keeps one entry per source id", func(t *testing.T) {
		m := open(t, "users")

		src := row.NewIDs(1)
		require.NoError(t, m.SaveIDMapping(ctx, src, nil, "h1", idmap.StatusFailed))
		require.NoError(t, m.SaveIDMapping(ctx, src, row.NewIDs(5), "h2", idmap.StatusImported))

		count, err := m.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		entry, err := m.Get(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, idmap.StatusImported, entry.Status)
		assert.Equal(t, "h2", entry.Hash)
		assert.True(t, row.NewIDs(5).Equal(entry.DestinationIDs))
	})

	t.Run("failed entry has no destination", func(t *testing.T) {
		m := open(t, "users")

		src := row.NewIDs(2)
		require.NoError(t, m.SaveIDMapping(ctx, src, nil, "h", idmap.StatusFailed))
		_, err := m.LookupDestinationIDs(ctx, src)
		require.ErrorIs(t, err, idmap.ErrNotFound)
		_, err = m.LookupSourceIDs(ctx, nil)
		require.ErrorIs(t, err, idmap.ErrNotFound)
		_, err = m.LookupSourceIDs(ctx, row.IDs{})
		require.ErrorIs(t, err, idmap.ErrNotFound)
	})

	t.Run("messages", func(t *testing.T) {
		m := open(t, "users")

		src := row.NewIDs(3)
		require.NoError(t, m.SaveIDMapping(ctx, src, nil, "h", idmap.StatusFailed))
		require.NoError(t, m.SaveMessage(ctx, src, "destination rejected row"))
		require.NoError(t, m.SaveMessage(ctx, src, "second"))

		entry, err := m.Get(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, []string{"destination rejected row", "second"}, entry.Messages)

		require.NoError(t, m.ClearMessages(ctx, src))
		entry, err = m.Get(ctx, src)
		require.NoError(t, err)
		assert.Empty(t, entry.Messages)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		m := open(t, "users")

		src := row.NewIDs(4)
		require.NoError(t, m.SaveIDMapping(ctx, src, row.NewIDs(40), "h", idmap.StatusImported))
		require.NoError(t, m.Delete(ctx, src))
		require.NoError(t, m.Delete(ctx, src))

		_, err := m.Get(ctx, src)
		require.ErrorIs(t, err, idmap.ErrNotFound)
	})

	t.Run("entries and prepare update", func(t *testing.T) {
		m := open(t, "users")

		for i := 1; i <= 3; i++ {
			require.NoError(t, m.SaveIDMapping(ctx, row.NewIDs(i), row.NewIDs(i*10), "h", idmap.StatusImported))
		}
		require.NoError(t, m.PrepareUpdate(ctx))

		entries, err := m.Entries(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		for _, e := range entries {
			assert.Equal(t, idmap.StatusNeedsUpdate, e.Status)
		}

		require.NoError(t, m.Destroy(ctx))
		count, err := m.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("migrations are isolated", func(t *testing.T) {
		f := newFactory(t)
		users, err := f.IDMap(ctx, "users")
		require.NoError(t, err)
		nodes, err := f.IDMap(ctx, "nodes")
		require.NoError(t, err)

		require.NoError(t, users.SaveIDMapping(ctx, row.NewIDs(1), row.NewIDs(1), "h", idmap.StatusImported))

		_, err = nodes.Get(ctx, row.NewIDs(1))
		require.ErrorIs(t, err, idmap.ErrNotFound)
	})
}
