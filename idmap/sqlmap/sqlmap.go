// Package sqlmap stores id maps in a relational database through database/sql. Each migration
// owns one table named after it, which gives every migration its own namespace.
//
// The statements stick to a small SQL subset so the same code runs against PostgreSQL
// (github.com/lib/pq, driver "postgres") and the embedded github.com/proullon/ramsql driver
// ("ramsql") used for tests and throwaway runs.
package sqlmap

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/contentmigrate/migrate-framework/idmap"
	"github.com/contentmigrate/migrate-framework/pkg/logger"
	"github.com/contentmigrate/migrate-framework/row"
)

// Factory creates SQL id maps on a shared database handle.
type Factory struct {
	ctrl    *dbController
	now     func() time.Time
	mu      sync.Mutex
	created map[string]bool
}

var _ idmap.Factory = &Factory{}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithClock overrides the clock used for last_imported.
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) {
		f.now = now
	}
}

// NewFactory returns a Factory using db.
func NewFactory(db *sql.DB, lggr logger.Logger, opts ...FactoryOption) *Factory {
	f := &Factory{
		ctrl:    newDBController(db, lggr.Named("sqlmap")),
		now:     time.Now,
		created: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// IDMap returns the map of migrationID, creating its table when needed.
func (f *Factory) IDMap(ctx context.Context, migrationID string) (idmap.IDMap, error) {
	table := TableName(migrationID)

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.created[table] {
		if err := f.ctrl.exec(ctx, f.ctrl.base, createTableStatement(table)); err != nil {
			return nil, fmt.Errorf("failed to create id map table %s: %w", table, err)
		}
		f.created[table] = true
	}

	return &Map{migrationID: migrationID, table: table, ctrl: f.ctrl, now: f.now}, nil
}

// Map is the id map of one migration.
type Map struct {
	migrationID string
	table       string
	ctrl        *dbController
	now         func() time.Time
}

var _ idmap.IDMap = &Map{}

// MigrationID returns the id of the owning migration.
func (m *Map) MigrationID() string { return m.migrationID }

// Table returns the table backing the map.
func (m *Map) Table() string { return m.table }

func (m *Map) selectColumns() string {
	return "SELECT source_ids, destination_ids, source_row_status, row_hash, last_imported, messages FROM " + m.table
}

// Get returns the entry for sourceIDs.
func (m *Map) Get(ctx context.Context, sourceIDs row.IDs) (idmap.Entry, error) {
	return m.get(ctx, m.ctrl.base, sourceIDs)
}

func (m *Map) get(ctx context.Context, q querier, sourceIDs row.IDs) (idmap.Entry, error) {
	r := m.ctrl.queryRow(ctx, q, m.selectColumns()+" WHERE source_ids_hash = $1", sourceIDs.Hash())
	entry, err := scanEntry(r)
	if errors.Is(err, sql.ErrNoRows) {
		return idmap.Entry{}, idmap.ErrNotFound
	}
	if err != nil {
		return idmap.Entry{}, fmt.Errorf("failed to read id map entry %s: %w", sourceIDs, err)
	}

	return entry, nil
}

// LookupDestinationIDs returns the destination ids saved for sourceIDs.
func (m *Map) LookupDestinationIDs(ctx context.Context, sourceIDs row.IDs) (row.IDs, error) {
	e, err := m.Get(ctx, sourceIDs)
	if err != nil {
		return nil, err
	}
	if e.DestinationIDs.IsEmpty() {
		return nil, idmap.ErrNotFound
	}

	return e.DestinationIDs, nil
}

// LookupSourceIDs returns the source ids whose entry carries destinationIDs.
func (m *Map) LookupSourceIDs(ctx context.Context, destinationIDs row.IDs) (row.IDs, error) {
	// Failed and ignored entries carry no destination ids and are not addressable by them.
	if destinationIDs.IsEmpty() {
		return nil, idmap.ErrNotFound
	}
	var key string
	r := m.ctrl.queryRow(ctx, m.ctrl.base, "SELECT source_ids FROM "+m.table+" WHERE destination_ids = $1", destinationIDs.Key())
	if err := r.Scan(&key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, idmap.ErrNotFound
		}

		return nil, fmt.Errorf("failed to look up source ids of %s: %w", destinationIDs, err)
	}

	return row.ParseIDs(key)
}

// SaveIDMapping upserts the entry for sourceIDs within a transaction.
func (m *Map) SaveIDMapping(ctx context.Context, sourceIDs, destinationIDs row.IDs, hash string, status idmap.Status) error {
	return m.ctrl.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := m.get(ctx, tx, sourceIDs)
		switch {
		case errors.Is(err, idmap.ErrNotFound):
			return m.insert(ctx, tx, idmap.Entry{
				SourceIDs:      sourceIDs,
				DestinationIDs: destinationIDs,
				Status:         status,
				Hash:           hash,
				LastImported:   m.now(),
			})
		case err != nil:
			return err
		}

		existing.DestinationIDs = destinationIDs
		existing.Status = status
		existing.Hash = hash
		existing.LastImported = m.now()

		return m.update(ctx, tx, existing)
	})
}

// SaveMessage appends message to the entry for sourceIDs, creating a failed entry when none exists.
func (m *Map) SaveMessage(ctx context.Context, sourceIDs row.IDs, message string) error {
	return m.ctrl.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := m.get(ctx, tx, sourceIDs)
		switch {
		case errors.Is(err, idmap.ErrNotFound):
			return m.insert(ctx, tx, idmap.Entry{
				SourceIDs: sourceIDs,
				Status:    idmap.StatusFailed,
				Messages:  []string{message},
			})
		case err != nil:
			return err
		}
		existing.Messages = append(existing.Messages, message)

		return m.update(ctx, tx, existing)
	})
}

// ClearMessages drops the messages of the entry for sourceIDs.
func (m *Map) ClearMessages(ctx context.Context, sourceIDs row.IDs) error {
	return m.ctrl.exec(ctx, m.ctrl.base,
		"UPDATE "+m.table+" SET messages = $1 WHERE source_ids_hash = $2", "[]", sourceIDs.Hash())
}

// RowStatus returns the status of the entry for sourceIDs.
func (m *Map) RowStatus(ctx context.Context, sourceIDs row.IDs) (idmap.Status, error) {
	e, err := m.Get(ctx, sourceIDs)
	if err != nil {
		return 0, err
	}

	return e.Status, nil
}

// Delete removes the entry for sourceIDs.
func (m *Map) Delete(ctx context.Context, sourceIDs row.IDs) error {
	return m.ctrl.exec(ctx, m.ctrl.base, "DELETE FROM "+m.table+" WHERE source_ids_hash = $1", sourceIDs.Hash())
}

// Entries returns all entries.
func (m *Map) Entries(ctx context.Context) ([]idmap.Entry, error) {
	rows, err := m.ctrl.query(ctx, m.ctrl.base, m.selectColumns())
	if err != nil {
		return nil, fmt.Errorf("failed to read id map %s: %w", m.table, err)
	}
	defer rows.Close()

	var entries []idmap.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Count returns the number of entries.
func (m *Map) Count(ctx context.Context) (int, error) {
	hashes, err := m.hashes(ctx, m.ctrl.base)
	if err != nil {
		return 0, err
	}

	return len(hashes), nil
}

// PrepareUpdate marks all entries as needing an update.
func (m *Map) PrepareUpdate(ctx context.Context) error {
	return m.ctrl.withTx(ctx, func(tx *sql.Tx) error {
		hashes, err := m.hashes(ctx, tx)
		if err != nil {
			return err
		}
		for _, h := range hashes {
			if err := m.ctrl.exec(ctx, tx, "UPDATE "+m.table+" SET source_row_status = $1 WHERE source_ids_hash = $2",
				int(idmap.StatusNeedsUpdate), h); err != nil {
				return err
			}
		}

		return nil
	})
}

// Destroy removes all entries of the map.
func (m *Map) Destroy(ctx context.Context) error {
	return m.ctrl.withTx(ctx, func(tx *sql.Tx) error {
		hashes, err := m.hashes(ctx, tx)
		if err != nil {
			return err
		}
		for _, h := range hashes {
			if err := m.ctrl.exec(ctx, tx, "DELETE FROM "+m.table+" WHERE source_ids_hash = $1", h); err != nil {
				return err
			}
		}

		return nil
	})
}

func (m *Map) hashes(ctx context.Context, q querier) ([]string, error) {
	rows, err := m.ctrl.query(ctx, q, "SELECT source_ids_hash FROM "+m.table)
	if err != nil {
		return nil, fmt.Errorf("failed to read id map %s: %w", m.table, err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}

	return hashes, rows.Err()
}

func (m *Map) insert(ctx context.Context, q querier, e idmap.Entry) error {
	messages, err := encodeMessages(e.Messages)
	if err != nil {
		return err
	}

	return m.ctrl.exec(ctx, q,
		"INSERT INTO "+m.table+" (source_ids_hash, source_ids, destination_ids, source_row_status, row_hash, last_imported, messages) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		e.SourceIDs.Hash(), e.SourceIDs.Key(), e.DestinationIDs.Key(), int(e.Status), e.Hash, unixNano(e.LastImported), messages,
	)
}

func (m *Map) update(ctx context.Context, q querier, e idmap.Entry) error {
	messages, err := encodeMessages(e.Messages)
	if err != nil {
		return err
	}

	return m.ctrl.exec(ctx, q,
		"UPDATE "+m.table+" SET destination_ids = $1, source_row_status = $2, row_hash = $3, last_imported = $4, messages = $5 "+
			"WHERE source_ids_hash = $6",
		e.DestinationIDs.Key(), int(e.Status), e.Hash, unixNano(e.LastImported), messages, e.SourceIDs.Hash(),
	)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (idmap.Entry, error) {
	var (
		sourceIDs, destinationIDs, hash, messages string
		status                                    int64
		lastImported                              int64
	)
	if err := s.Scan(&sourceIDs, &destinationIDs, &status, &hash, &lastImported, &messages); err != nil {
		return idmap.Entry{}, err
	}

	src, err := row.ParseIDs(sourceIDs)
	if err != nil {
		return idmap.Entry{}, err
	}
	dst, err := row.ParseIDs(destinationIDs)
	if err != nil {
		return idmap.Entry{}, err
	}
	var msgs []string
	if err := json.Unmarshal([]byte(messages), &msgs); err != nil {
		return idmap.Entry{}, fmt.Errorf("failed to decode messages: %w", err)
	}

	e := idmap.Entry{
		SourceIDs:      src,
		DestinationIDs: dst,
		Status:         idmap.Status(status),
		Hash:           hash,
		Messages:       msgs,
	}
	if lastImported != 0 {
		e.LastImported = time.Unix(0, lastImported)
	}

	return e, nil
}

func encodeMessages(messages []string) (string, error) {
	if messages == nil {
		messages = []string{}
	}
	b, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("failed to encode messages: %w", err)
	}

	return string(b), nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}
