package idmap

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/contentmigrate/migrate-framework/row"
)

// MemoryIDMap is an in-memory implementation of the IDMap interface.
// It is safe for concurrent use.
type MemoryIDMap struct {
	mu          sync.RWMutex
	migrationID string
	keys        []string
	entries     map[string]Entry
	now         func() time.Time
}

// MemoryIDMap implements IDMap interface.
var _ IDMap = &MemoryIDMap{}

// NewMemoryIDMap creates an empty MemoryIDMap for the migration.
func NewMemoryIDMap(migrationID string) *MemoryIDMap {
	return &MemoryIDMap{
		migrationID: migrationID,
		entries:     make(map[string]Entry),
		now:         time.Now,
	}
}

// MigrationID returns the id of the owning migration.
func (m *MemoryIDMap) MigrationID() string { return m.migrationID }

// Get returns a copy of the entry for sourceIDs.
func (m *MemoryIDMap) Get(_ context.Context, sourceIDs row.IDs) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[sourceIDs.Key()]
	if !ok {
		return Entry{}, ErrNotFound
	}

	return e.Clone(), nil
}

// LookupDestinationIDs returns the destination ids saved for sourceIDs.
func (m *MemoryIDMap) LookupDestinationIDs(ctx context.Context, sourceIDs row.IDs) (row.IDs, error) {
	e, err := m.Get(ctx, sourceIDs)
	if err != nil {
		return nil, err
	}
	if e.DestinationIDs.IsEmpty() {
		return nil, ErrNotFound
	}

	return e.DestinationIDs, nil
}

// LookupSourceIDs returns the source ids whose entry carries destinationIDs.
func (m *MemoryIDMap) LookupSourceIDs(_ context.Context, destinationIDs row.IDs) (row.IDs, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, k := range m.keys {
		e := m.entries[k]
		if !e.DestinationIDs.IsEmpty() && e.DestinationIDs.Equal(destinationIDs) {
			return append(row.IDs(nil), e.SourceIDs...), nil
		}
	}

	return nil, ErrNotFound
}

// SaveIDMapping upserts the entry for sourceIDs.
func (m *MemoryIDMap) SaveIDMapping(_ context.Context, sourceIDs, destinationIDs row.IDs, hash string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := sourceIDs.Key()
	e, ok := m.entries[k]
	if !ok {
		m.keys = append(m.keys, k)
	}
	e.SourceIDs = append(row.IDs(nil), sourceIDs...)
	e.DestinationIDs = append(row.IDs(nil), destinationIDs...)
	e.Hash = hash
	e.Status = status
	e.LastImported = m.now()
	m.entries[k] = e

	return nil
}

// SaveMessage appends message to the entry for sourceIDs, creating a failed entry when none exists.
func (m *MemoryIDMap) SaveMessage(_ context.Context, sourceIDs row.IDs, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := sourceIDs.Key()
	e, ok := m.entries[k]
	if !ok {
		m.keys = append(m.keys, k)
		e = Entry{SourceIDs: append(row.IDs(nil), sourceIDs...), Status: StatusFailed}
	}
	e.Messages = append(e.Messages, message)
	m.entries[k] = e

	return nil
}

// ClearMessages drops the messages of the entry for sourceIDs.
func (m *MemoryIDMap) ClearMessages(_ context.Context, sourceIDs row.IDs) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := sourceIDs.Key()
	if e, ok := m.entries[k]; ok {
		e.Messages = nil
		m.entries[k] = e
	}

	return nil
}

// RowStatus returns the status of the entry for sourceIDs.
func (m *MemoryIDMap) RowStatus(ctx context.Context, sourceIDs row.IDs) (Status, error) {
	e, err := m.Get(ctx, sourceIDs)
	if err != nil {
		return 0, err
	}

	return e.Status, nil
}

// Delete removes the entry for sourceIDs.
func (m *MemoryIDMap) Delete(_ context.Context, sourceIDs row.IDs) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := sourceIDs.Key()
	if _, ok := m.entries[k]; !ok {
		return nil
	}
	delete(m.entries, k)
	m.keys = slices.DeleteFunc(m.keys, func(key string) bool { return key == k })

	return nil
}

// Entries returns a copy of all entries in insertion order.
func (m *MemoryIDMap) Entries(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, 0, len(m.keys))
	for _, k := range m.keys {
		entries = append(entries, m.entries[k].Clone())
	}

	return entries, nil
}

// Count returns the number of entries.
func (m *MemoryIDMap) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.keys), nil
}

// PrepareUpdate marks all entries as needing an update.
func (m *MemoryIDMap) PrepareUpdate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, e := range m.entries {
		e.Status = StatusNeedsUpdate
		m.entries[k] = e
	}

	return nil
}

// Destroy removes all entries.
func (m *MemoryIDMap) Destroy(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.keys = nil
	m.entries = make(map[string]Entry)

	return nil
}

// MemoryFactory hands out one MemoryIDMap per migration id and keeps them for the lifetime of
// the factory, so repeated runs in one process see earlier results.
type MemoryFactory struct {
	mu   sync.Mutex
	maps map[string]*MemoryIDMap
}

// MemoryFactory implements Factory interface.
var _ Factory = &MemoryFactory{}

// NewMemoryFactory creates an empty MemoryFactory.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{maps: make(map[string]*MemoryIDMap)}
}

// IDMap returns the map of migrationID, creating it on first use.
func (f *MemoryFactory) IDMap(_ context.Context, migrationID string) (IDMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.maps[migrationID]
	if !ok {
		m = NewMemoryIDMap(migrationID)
		f.maps[migrationID] = m
	}

	return m, nil
}
