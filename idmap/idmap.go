// Package idmap records, per migration, which destination artifact every source row became,
// together with the row status and the hash of the source row at its last import. The id map
// drives the decision whether a row has to be processed again.
package idmap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contentmigrate/migrate-framework/row"
)

// ErrNotFound is returned when no entry matches a lookup.
var ErrNotFound = errors.New("id map entry not found")

// Status is the per-row outcome recorded in the id map.
type Status int

const (
	// StatusImported marks a row that was written to the destination.
	StatusImported Status = iota
	// StatusNeedsUpdate marks a row that must be processed on the next run.
	StatusNeedsUpdate
	// StatusIgnored marks a row that the process pipeline deliberately skipped.
	StatusIgnored
	// StatusFailed marks a row whose processing or import failed.
	StatusFailed
)

// String returns the lower case name of the status.
func (s Status) String() string {
	switch s {
	case StatusImported:
		return "imported"
	case StatusNeedsUpdate:
		return "needs_update"
	case StatusIgnored:
		return "ignored"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(text string) (Status, error) {
	for _, s := range []Status{StatusImported, StatusNeedsUpdate, StatusIgnored, StatusFailed} {
		if s.String() == text {
			return s, nil
		}
	}

	return 0, fmt.Errorf("unknown row status %q", text)
}

// Entry is one id map record.
type Entry struct {
	SourceIDs      row.IDs
	DestinationIDs row.IDs
	Status         Status
	// Hash is the source row hash at the time the entry was saved.
	Hash         string
	LastImported time.Time
	Messages     []string
}

// Clone returns a copy of e that shares no slices with it.
func (e Entry) Clone() Entry {
	e.SourceIDs = append(row.IDs(nil), e.SourceIDs...)
	e.DestinationIDs = append(row.IDs(nil), e.DestinationIDs...)
	e.Messages = append([]string(nil), e.Messages...)

	return e
}

// IDMap is the persistent source id → destination id mapping of one migration.
//
// Implementations must make each SaveIDMapping atomic. Two runs of the same migration are never
// executed concurrently; callers serialize them with a run lock keyed by migration id.
type IDMap interface {
	// MigrationID returns the id of the migration that owns the map.
	MigrationID() string

	// Get returns the entry for the source ids, or ErrNotFound.
	Get(ctx context.Context, sourceIDs row.IDs) (Entry, error)

	// LookupDestinationIDs returns the destination ids of an imported row, or ErrNotFound.
	LookupDestinationIDs(ctx context.Context, sourceIDs row.IDs) (row.IDs, error)

	// LookupSourceIDs is the inverse lookup, or ErrNotFound.
	LookupSourceIDs(ctx context.Context, destinationIDs row.IDs) (row.IDs, error)

	// SaveIDMapping upserts the entry for sourceIDs. Messages recorded earlier are kept.
	SaveIDMapping(ctx context.Context, sourceIDs, destinationIDs row.IDs, hash string, status Status) error

	// SaveMessage attaches a diagnostic message to the entry for sourceIDs.
	SaveMessage(ctx context.Context, sourceIDs row.IDs, message string) error

	// ClearMessages removes the diagnostic messages of the entry for sourceIDs.
	ClearMessages(ctx context.Context, sourceIDs row.IDs) error

	// RowStatus returns the status of the entry for sourceIDs, or ErrNotFound.
	RowStatus(ctx context.Context, sourceIDs row.IDs) (Status, error)

	// Delete removes the entry for sourceIDs. Deleting a missing entry is not an error.
	Delete(ctx context.Context, sourceIDs row.IDs) error

	// Entries returns a copy of every entry.
	Entries(ctx context.Context) ([]Entry, error)

	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)

	// PrepareUpdate marks every entry as needing an update.
	PrepareUpdate(ctx context.Context) error

	// Destroy removes every entry and all storage of the map.
	Destroy(ctx context.Context) error
}

// Factory creates the id map of a migration. Every migration id gets its own namespace.
type Factory interface {
	IDMap(ctx context.Context, migrationID string) (IDMap, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, migrationID string) (IDMap, error)

// IDMap calls f.
func (f FactoryFunc) IDMap(ctx context.Context, migrationID string) (IDMap, error) {
	return f(ctx, migrationID)
}

// NeedsProcessing decides whether a source row must go through the pipeline. A row is
// processed when it has no entry, when its entry failed or needs an update, or when its hash
// changed since the last import. Sync forces processing of every row.
func NeedsProcessing(entry Entry, found bool, rowHash string, sync bool) bool {
	switch {
	case sync:
		return true
	case !found:
		return true
	case entry.Status == StatusFailed, entry.Status == StatusNeedsUpdate:
		return true
	case entry.Hash != rowHash:
		return true
	default:
		return false
	}
}
