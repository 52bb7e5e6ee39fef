// Package events carries the structured events a migration run emits: row outcomes and run
// lifecycle. Sinks decide what happens with them; they may log them, keep them in memory or
// count them as prometheus metrics.
package events

import (
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/contentmigrate/migrate-framework/row"
)

// Type identifies the kind of an event.
type Type string

const (
	RunStarted   Type = "run_started"
	RunCompleted Type = "run_completed"
	// RowImported is emitted when the destination accepted a row.
	RowImported Type = "row_imported"
	// RowUpToDate is emitted for rows that did not need processing.
	RowUpToDate Type = "row_up_to_date"
	// RowSkipped is emitted when the process pipeline skipped a row. Unless the skip asked
	// otherwise, the row is recorded as ignored.
	RowSkipped Type = "row_skipped"
	RowFailed  Type = "row_failed"
	// RowRolledBack is emitted when rollback removed a row's destination artifact.
	RowRolledBack Type = "row_rolled_back"
)

// Counts summarizes a finished run.
type Counts struct {
	State      string `json:"state"`
	Processed  int    `json:"processed"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	UpToDate   int    `json:"up_to_date"`
	RolledBack int    `json:"rolled_back"`
}

// Event is one thing that happened during a run.
type Event struct {
	// ID is time sortable.
	ID             string
	Type           Type
	MigrationID    string
	SourceIDs      row.IDs
	DestinationIDs row.IDs
	Message        string
	// Counts is set on RunCompleted events.
	Counts *Counts
	Time   time.Time
}

// New returns an event of typ stamped with at.
func New(typ Type, migrationID string, at time.Time) Event {
	id, err := ksuid.NewRandomWithTime(at)
	if err != nil {
		id = ksuid.New()
	}

	return Event{ID: id.String(), Type: typ, MigrationID: migrationID, Time: at}
}

// Sink receives events. Emit must not block for long; it is called from the row loop.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

// Nop returns a sink that drops every event.
func Nop() Sink { return SinkFunc(func(Event) {}) }

type multi []Sink

func (m multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi returns a sink that forwards every event to all sinks, in order. Nil sinks are dropped.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}

	return out
}

// MemorySink keeps every event in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

var _ Sink = &MemorySink{}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)
}

// Events returns a copy of the received events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Event(nil), s.events...)
}

// ByType returns the received events of the given types.
func (s *MemorySink) ByType(types ...Type) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.events {
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
				break
			}
		}
	}

	return out
}

// Reset drops every received event.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = nil
}
